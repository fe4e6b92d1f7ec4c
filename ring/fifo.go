// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

// fifo is a slice-backed queue that reuses its storage once drained.
type fifo[T any] struct {
	items []T
	start int
}

func (q *fifo[T]) len() int { return len(q.items) - q.start }

func (q *fifo[T]) push(v T) { q.items = append(q.items, v) }

func (q *fifo[T]) front() (T, bool) {
	if q.start == len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.start], true
}

// at returns a pointer to the i-th element counted from the front.
func (q *fifo[T]) at(i int) *T { return &q.items[q.start+i] }

func (q *fifo[T]) pop() T {
	v := q.items[q.start]
	var zero T
	q.items[q.start] = zero
	q.start++
	switch {
	case q.start == len(q.items):
		q.items = q.items[:0]
		q.start = 0
	case q.start > 64 && q.start*2 > len(q.items):
		n := copy(q.items, q.items[q.start:])
		q.items = q.items[:n]
		q.start = 0
	}
	return v
}

func (q *fifo[T]) clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.start = 0
}
