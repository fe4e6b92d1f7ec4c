// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"
	"slices"

	"github.com/gogpu/ringq/gpucore"
)

// Submission records one Queue.Submit call.
type Submission struct {
	Commands []gpucore.CommandBufferID
	Counter  gpucore.CounterID
	Value    uint64
}

// Queue is the software device's only queue.
type Queue struct {
	dev    *Device
	family uint32
	manual bool

	// Guarded by dev.mu.
	inflight    []Submission
	submissions []Submission
}

// Family returns the queue family.
func (q *Queue) Family() uint32 { return q.family }

// Submit queues cmds and a counter signal. In automatic mode the batch
// executes before Submit returns.
func (q *Queue) Submit(cmds []gpucore.CommandBufferID, counter gpucore.CounterID, value uint64) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.counters[counter]; !ok {
		return fmt.Errorf("software: submit: %w", ErrUnknownCounter)
	}
	for _, id := range cmds {
		c := d.cmdLocked(id)
		if fam := d.pools[c.pool].family; fam != q.family {
			panic(fmt.Sprintf("software: command buffer %d from family %d submitted to family %d", id, fam, q.family))
		}
		if c.state != cmdExecutable {
			panic(fmt.Sprintf("software: command buffer %d submitted without being ended", id))
		}
		c.state = cmdPending
	}
	s := Submission{Commands: slices.Clone(cmds), Counter: counter, Value: value}
	q.submissions = append(q.submissions, s)
	q.inflight = append(q.inflight, s)
	if !q.manual {
		q.retireLocked(len(q.inflight))
	}
	return nil
}

func (q *Queue) retireLocked(n int) int {
	n = min(n, len(q.inflight))
	for _, s := range q.inflight[:n] {
		for _, id := range s.Commands {
			q.dev.executeLocked(id)
		}
		q.dev.signalLocked(s.Counter, s.Value)
	}
	q.inflight = q.inflight[n:]
	return n
}

// Retire completes up to n in-flight submissions in submission order and
// returns how many were completed.
func (q *Queue) Retire(n int) int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.retireLocked(n)
}

// RetireAll completes every in-flight submission.
func (q *Queue) RetireAll() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return q.retireLocked(len(q.inflight))
}

// InFlight returns the number of submissions not yet retired.
func (q *Queue) InFlight() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return len(q.inflight)
}

// Submissions returns every submission made so far.
func (q *Queue) Submissions() []Submission {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return slices.Clone(q.submissions)
}

var _ gpucore.Queue = (*Queue)(nil)
