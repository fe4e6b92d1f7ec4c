// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"errors"
	"testing"
)

func mustAlloc(t *testing.T, a Allocator, size, align, freeAt uint64) uint64 {
	t.Helper()
	off, err := a.Alloc(size, align, freeAt)
	if err != nil {
		t.Fatalf("Alloc(%d, %d, %d) error: %v", size, align, freeAt, err)
	}
	return off
}

func wantNoSpace(t *testing.T, a Allocator, size, align, freeAt uint64) {
	t.Helper()
	if off, err := a.Alloc(size, align, freeAt); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Alloc(%d, %d, %d) = %d, %v; want ErrNoSpace", size, align, freeAt, off, err)
	}
}

func TestTimelineSmoke(t *testing.T) {
	r := NewTimeline(5)
	if r.Capacity() != 5 || r.Span() != 6 {
		t.Fatalf("Capacity/Span = %d/%d, want 5/6", r.Capacity(), r.Span())
	}
	if got := r.FreeBytes(); got != 5 {
		t.Fatalf("FreeBytes() = %d, want 5", got)
	}
	if got := mustAlloc(t, r, 3, 1, 0); got != 3 {
		t.Fatalf("first Alloc = %d, want 3", got)
	}
	if got := r.FreeBytes(); got != 2 {
		t.Fatalf("FreeBytes() = %d, want 2", got)
	}
	wantNoSpace(t, r, 3, 1, 1)
	wantNoSpace(t, r, 2, 2, 1)
	if got := mustAlloc(t, r, 2, 1, 1); got != 1 {
		t.Fatalf("Alloc = %d, want 1", got)
	}
	if got := r.FreeBytes(); got != 0 {
		t.Fatalf("FreeBytes() = %d, want 0", got)
	}
	wantNoSpace(t, r, 1, 1, 1)

	if !r.Tick(0) {
		t.Fatal("Tick(0) reclaimed nothing")
	}
	if got := r.FreeBytes(); got != 2 {
		t.Fatalf("FreeBytes() after Tick(0) = %d, want 2", got)
	}
	if got := mustAlloc(t, r, 2, 2, 2); got != 4 {
		t.Fatalf("Alloc = %d, want 4", got)
	}
	if got := r.FreeBytes(); got != 0 {
		t.Fatalf("FreeBytes() = %d, want 0", got)
	}
	r.Tick(2)
	if got := r.FreeBytes(); got != 5 {
		t.Fatalf("FreeBytes() after draining = %d, want 5", got)
	}
	if r.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", r.Pending())
	}
}

func TestTimelineTickNothingDue(t *testing.T) {
	r := NewTimeline(8)
	mustAlloc(t, r, 4, 1, 10)
	if r.Tick(9) {
		t.Error("Tick(9) reclaimed an allocation due at 10")
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}
	if !r.Tick(10) {
		t.Error("Tick(10) did not reclaim the allocation due at 10")
	}
}

func TestTimelineFullCapacityAfterDrain(t *testing.T) {
	r := NewTimeline(16)
	mustAlloc(t, r, 5, 1, 1)
	mustAlloc(t, r, 3, 1, 2)
	r.Tick(2)
	// After draining mid-buffer, a capacity-sized allocation must fit.
	if got := mustAlloc(t, r, 16, 1, 3); got != 0 {
		t.Errorf("full-capacity Alloc = %d, want 0", got)
	}
	wantNoSpace(t, r, 1, 1, 3)
}

func TestTimelineReset(t *testing.T) {
	r := NewTimeline(4)
	mustAlloc(t, r, 4, 1, 1)
	wantNoSpace(t, r, 1, 1, 1)
	r.Reset(32)
	if r.Capacity() != 32 || r.Pending() != 0 || r.FreeBytes() != 32 {
		t.Errorf("after Reset: Capacity=%d Pending=%d FreeBytes=%d", r.Capacity(), r.Pending(), r.FreeBytes())
	}
	mustAlloc(t, r, 32, 1, 1)
}

func TestTimelineDecreasingFreeAtPanics(t *testing.T) {
	r := NewTimeline(8)
	mustAlloc(t, r, 1, 1, 5)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for decreasing freeAt")
		}
	}()
	_, _ = r.Alloc(1, 1, 4)
}
