// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package submit

import "github.com/gogpu/ringq/gpucore"

type messageKind uint8

const (
	// msgExecute carries a recorded command buffer.
	msgExecute messageKind = iota
	// msgReset marks a sequence number whose work was discarded.
	msgReset
)

type message struct {
	kind messageKind
	seq  uint64
	cmd  gpucore.CommandBufferID
}

// messageHeap is a min-heap of messages ordered by sequence number.
type messageHeap []message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(message)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}
