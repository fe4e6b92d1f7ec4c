// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

// State tracks the occupied region of a circular buffer whose allocations
// grow downward. Head is the offset of the most recent allocation and Tail
// the offset of the most recently released one. Head == Tail means empty.
//
// State has no free operation. Releasing is done by the owner moving Tail up
// to the offset of the oldest allocation still live.
type State struct {
	Head uint64
	Tail uint64
}

// Alloc returns the offset of a run of size units aligned down to align, or
// ErrNoSpace. capacity is the number of units in the buffer.
//
// Three cases are tried in order:
//  1. the region from Head down to 0, when Head has not wrapped past Tail;
//  2. the region from capacity down to Tail, wrapping around;
//  3. the region between Head and Tail, when Head has already wrapped.
//
// Case 1 is preferred because it wastes no space at the top of the buffer.
func (s *State) Alloc(capacity, size, align uint64) (uint64, error) {
	checkRequest(size, align)
	if s.Head > s.Tail {
		// Wrapped: only the gap above Tail is free.
		if size > s.Head {
			return 0, ErrNoSpace
		}
		off := alignDown(s.Head-size, align)
		if off <= s.Tail {
			return 0, ErrNoSpace
		}
		s.Head = off
		return off, nil
	}
	if s.Head >= size {
		// Zero is always aligned, so this cannot fail.
		s.Head = alignDown(s.Head-size, align)
		return s.Head, nil
	}
	if size > capacity {
		return 0, ErrNoSpace
	}
	off := alignDown(capacity-size, align)
	if off <= s.Tail {
		return 0, ErrNoSpace
	}
	s.Head = off
	return off, nil
}
