// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

// Arena is a bump allocator that is reset wholesale, suited to per-frame
// scratch memory.
type Arena struct {
	cursor   uint64
	capacity uint64
}

// NewArena creates an arena over capacity units.
func NewArena(capacity uint64) *Arena {
	return &Arena{capacity: capacity}
}

// Alloc returns the offset of size units aligned up to align.
func (a *Arena) Alloc(size, align uint64) (uint64, error) {
	checkRequest(size, align)
	start := alignUp(a.cursor, align)
	if start > a.capacity || size > a.capacity-start {
		return 0, ErrNoSpace
	}
	a.cursor = start + size
	return start, nil
}

// Reset invalidates every prior allocation.
func (a *Arena) Reset() { a.cursor = 0 }

// Grow re-targets the arena at a new, empty buffer of capacity units.
func (a *Arena) Grow(capacity uint64) {
	a.capacity = capacity
	a.cursor = 0
}

// Capacity returns the arena size.
func (a *Arena) Capacity() uint64 { return a.capacity }

// Used returns the number of units consumed, including alignment padding.
func (a *Arena) Used() uint64 { return a.cursor }
