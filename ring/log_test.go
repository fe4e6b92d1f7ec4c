// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

import (
	"errors"
	"testing"
)

func logAlloc(t *testing.T, l *Log, capacity, size, align uint64) (uint64, ID) {
	t.Helper()
	off, id, err := l.Alloc(capacity, size, align)
	if err != nil {
		t.Fatalf("Alloc(%d, %d) error: %v", size, align, err)
	}
	return off, id
}

func logNoSpace(t *testing.T, l *Log, capacity, size, align uint64) {
	t.Helper()
	if off, _, err := l.Alloc(capacity, size, align); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Alloc(%d, %d) = %d, %v; want ErrNoSpace", size, align, off, err)
	}
}

func TestLogSanity(t *testing.T) {
	const capacity = 4
	var l Log
	_, a := logAlloc(t, &l, capacity, 3, 1)
	logNoSpace(t, &l, capacity, 2, 1)
	off, b := logAlloc(t, &l, capacity, 1, 1)
	if off != 3 {
		t.Fatalf("b offset = %d, want 3", off)
	}
	logNoSpace(t, &l, capacity, 1, 1)
	l.Free(a)
	off, c := logAlloc(t, &l, capacity, 1, 1)
	if off != 0 {
		t.Fatalf("c offset = %d, want 0", off)
	}
	if off, _ := logAlloc(t, &l, capacity, 2, 1); off != 1 {
		t.Fatalf("d offset = %d, want 1", off)
	}
	logNoSpace(t, &l, capacity, 1, 1)
	l.Free(c)
	l.Free(b)
	if off, _ := logAlloc(t, &l, capacity, 1, 1); off != 3 {
		t.Fatalf("e offset = %d, want 3", off)
	}
	if off, _ := logAlloc(t, &l, capacity, 1, 1); off != 0 {
		t.Fatalf("f offset = %d, want 0", off)
	}
}

func TestLogAlignment(t *testing.T) {
	const capacity = 4
	var l Log
	logAlloc(t, &l, capacity, 1, 1)
	off, _ := logAlloc(t, &l, capacity, 2, 2)
	if off != 2 {
		t.Fatalf("aligned offset = %d, want 2", off)
	}
	logNoSpace(t, &l, capacity, 1, 1)
}

func TestLogAvailable(t *testing.T) {
	const capacity = 8
	var l Log
	if got := l.Available(capacity); got != capacity {
		t.Fatalf("Available() on empty log = %d, want %d", got, capacity)
	}
	_, a := logAlloc(t, &l, capacity, 3, 1)
	_, b := logAlloc(t, &l, capacity, 3, 1)
	if got := l.Available(capacity); got != 2 {
		t.Fatalf("Available() = %d, want 2", got)
	}
	// Out of order: freeing b first reclaims nothing.
	l.Free(b)
	if got := l.Available(capacity); got != 2 {
		t.Fatalf("Available() after freeing b = %d, want 2", got)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	l.Free(a)
	if got := l.Available(capacity); got != capacity {
		t.Fatalf("Available() after freeing all = %d, want %d", got, capacity)
	}
}

func TestLogDoubleFreePanics(t *testing.T) {
	var l Log
	_, a := logAlloc(t, &l, 8, 1, 1)
	logAlloc(t, &l, 8, 1, 1)
	l.Free(a)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on double free")
		}
	}()
	l.Free(a)
}

// TestLogTimelineWrapReuse covers a capacity-4 ring reclaimed by timeline:
// the space of the oldest allocation is reused after wrapping.
func TestLogTimelineWrapReuse(t *testing.T) {
	r := NewLogTimeline(4)
	if got := mustAlloc(t, r, 3, 1, 1); got != 0 {
		t.Fatalf("Alloc(3) = %d, want 0", got)
	}
	wantNoSpace(t, r, 2, 1, 2)
	if got := mustAlloc(t, r, 1, 1, 2); got != 3 {
		t.Fatalf("Alloc(1) = %d, want 3", got)
	}
	if !r.Tick(1) {
		t.Fatal("Tick(1) reclaimed nothing")
	}
	if got := mustAlloc(t, r, 1, 1, 3); got != 0 {
		t.Fatalf("Alloc(1) after Tick = %d, want 0", got)
	}
}

func TestLogTimelineFreeBytes(t *testing.T) {
	r := NewLogTimeline(10)
	if got := r.FreeBytes(); got != 10 {
		t.Fatalf("FreeBytes() = %d, want 10", got)
	}
	mustAlloc(t, r, 4, 1, 1)
	mustAlloc(t, r, 2, 1, 2)
	if got := r.FreeBytes(); got != 4 {
		t.Fatalf("FreeBytes() = %d, want 4", got)
	}
	r.Tick(1)
	// Runs [6, 10) and [0, 4) are both free.
	if got := r.FreeBytes(); got != 4 {
		t.Fatalf("FreeBytes() after Tick(1) = %d, want 4", got)
	}
	r.Tick(2)
	if got := r.FreeBytes(); got != 10 {
		t.Fatalf("FreeBytes() after draining = %d, want 10", got)
	}
}
