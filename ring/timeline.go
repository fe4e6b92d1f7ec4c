// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import "fmt"

// Timeline is a downward-growing ring whose allocations are reclaimed by
// timeline value rather than freed individually.
//
// GPU work retires in submission order, so freeAt values are non-decreasing
// front to back and Tick only ever reclaims from the front.
type Timeline struct {
	state   State
	span    uint64
	pending fifo[timelineAlloc]
	// lastFreeAt is the freeAt of the latest successful allocation.
	lastFreeAt uint64
}

type timelineAlloc struct {
	freeAt uint64
	offset uint64
}

// NewTimeline creates a Timeline able to hold allocations totalling at most
// capacity units. The backing buffer must be Span() = capacity+1 units long.
func NewTimeline(capacity uint64) *Timeline {
	t := &Timeline{}
	t.Reset(capacity)
	return t
}

// Reset discards every pending allocation and re-targets the ring at a new
// capacity. The freeAt ordering constraint carries across a Reset.
func (t *Timeline) Reset(capacity uint64) {
	t.span = capacity + 1
	t.state = State{}
	t.pending.clear()
}

// Alloc returns an offset to be reclaimed when Tick is called with a value
// at or after freeAt, or ErrNoSpace if there is currently not enough room.
//
// freeAt must not be lower than the freeAt of any earlier successful
// allocation; Alloc panics otherwise.
func (t *Timeline) Alloc(size, align, freeAt uint64) (uint64, error) {
	if freeAt < t.lastFreeAt {
		panic(fmt.Sprintf("ring: freeAt %d precedes earlier allocation freeAt %d", freeAt, t.lastFreeAt))
	}
	off, err := t.state.Alloc(t.span, size, align)
	if err != nil {
		return 0, err
	}
	t.pending.push(timelineAlloc{freeAt: freeAt, offset: off})
	t.lastFreeAt = freeAt
	return off, nil
}

// Tick reclaims allocations that expire at or before now, returning whether
// any were reclaimed.
func (t *Timeline) Tick(now uint64) bool {
	reclaimed := false
	for {
		a, ok := t.pending.front()
		if !ok || a.freeAt > now {
			break
		}
		t.pending.pop()
		t.state.Tail = a.offset
		reclaimed = true
		if t.state.Tail == t.state.Head {
			// Drained mid-buffer: move both cursors to the top so the next
			// allocation can be as large as the capacity.
			t.state.Tail = t.span - 1
			t.state.Head = t.span - 1
		}
	}
	return reclaimed
}

// Capacity returns the largest possible allocation.
func (t *Timeline) Capacity() uint64 { return t.span - 1 }

// Span returns the number of units the backing buffer must provide.
func (t *Timeline) Span() uint64 { return t.span }

// FreeBytes returns the largest contiguous free run. It is a pure function
// of the head and tail cursors and does not scan pending allocations.
func (t *Timeline) FreeBytes() uint64 {
	if t.state.Head > t.state.Tail {
		return t.state.Head - t.state.Tail - 1
	}
	return max(t.state.Head, t.span-t.state.Tail-1)
}

// Pending returns the number of allocations not yet reclaimed.
func (t *Timeline) Pending() int { return t.pending.len() }

var _ Allocator = (*Timeline)(nil)
