// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ring

// ID identifies a live allocation in a Log.
type ID uint64

// Log is an upward-growing ring of contiguous variable-sized allocations
// that may be freed in any order. Space is reclaimed oldest-first: freeing
// an allocation in the middle only marks it, and the run of marked
// allocations at the front is released once the oldest one is freed.
type Log struct {
	entries fifo[logEntry]
	// head is the offset at which the next allocation starts.
	head uint64
	// released counts entries popped from the front. An ID minus released
	// is the entry's index, so IDs stay valid while the front moves.
	released uint64
}

type logEntry struct {
	start uint64
	freed bool
}

// Alloc returns the offset of a run of size units aligned up to align and
// the ID to free it with, or ErrNoSpace. capacity is the ring size.
func (l *Log) Alloc(capacity, size, align uint64) (uint64, ID, error) {
	checkRequest(size, align)
	tail, ok := l.tail()
	if !ok {
		if size > capacity {
			return 0, 0, ErrNoSpace
		}
		id := l.push(0)
		l.head = size
		return 0, id, nil
	}
	if l.head > tail {
		// One run from head to the end and another from zero to tail.
		if start := alignUp(l.head, align); start+size <= capacity {
			id := l.push(l.head)
			l.head = (start + size) % capacity
			return start, id, nil
		}
		if tail >= size {
			id := l.push(0)
			l.head = size
			return 0, id, nil
		}
		return 0, 0, ErrNoSpace
	}
	// Wrapped: a single run from head to tail.
	if start := alignUp(l.head, align); start+size <= tail {
		id := l.push(l.head)
		l.head = start + size
		return start, id, nil
	}
	return 0, 0, ErrNoSpace
}

// Free marks the allocation id as released and reclaims the freed prefix.
// Freeing an ID twice or one that was never allocated panics.
func (l *Log) Free(id ID) {
	idx := uint64(id) - l.released
	if idx >= uint64(l.entries.len()) {
		panic("ring: free of unknown allocation")
	}
	e := l.entries.at(int(idx))
	if e.freed {
		panic("ring: double free")
	}
	e.freed = true
	for {
		front, ok := l.entries.front()
		if !ok || !front.freed {
			break
		}
		l.entries.pop()
		l.released++
	}
}

// Available returns the number of units not covered by live allocations,
// counting space skipped by a wrap as covered.
func (l *Log) Available(capacity uint64) uint64 {
	tail, ok := l.tail()
	if !ok {
		return capacity
	}
	if l.head > tail {
		return capacity - (l.head - tail)
	}
	return tail - l.head
}

// Len returns the number of allocations not yet reclaimed, including freed
// ones waiting behind an older live allocation.
func (l *Log) Len() int { return l.entries.len() }

func (l *Log) tail() (uint64, bool) {
	e, ok := l.entries.front()
	return e.start, ok
}

func (l *Log) push(start uint64) ID {
	id := ID(l.released + uint64(l.entries.len()))
	l.entries.push(logEntry{start: start})
	return id
}

// LogTimeline is a Log reclaimed by timeline value, the upward-growing
// counterpart of Timeline.
type LogTimeline struct {
	log        Log
	capacity   uint64
	pending    fifo[logPending]
	lastFreeAt uint64
}

type logPending struct {
	freeAt uint64
	id     ID
}

// NewLogTimeline creates a LogTimeline over a buffer of capacity units.
func NewLogTimeline(capacity uint64) *LogTimeline {
	return &LogTimeline{capacity: capacity}
}

// Alloc returns an offset reclaimed by the first Tick at or after freeAt.
// freeAt must be non-decreasing across successful allocations.
func (t *LogTimeline) Alloc(size, align, freeAt uint64) (uint64, error) {
	if freeAt < t.lastFreeAt {
		panic("ring: freeAt precedes an earlier allocation")
	}
	off, id, err := t.log.Alloc(t.capacity, size, align)
	if err != nil {
		return 0, err
	}
	t.pending.push(logPending{freeAt: freeAt, id: id})
	t.lastFreeAt = freeAt
	return off, nil
}

// Tick reclaims allocations due at or before now.
func (t *LogTimeline) Tick(now uint64) bool {
	reclaimed := false
	for {
		p, ok := t.pending.front()
		if !ok || p.freeAt > now {
			return reclaimed
		}
		t.pending.pop()
		t.log.Free(p.id)
		reclaimed = true
	}
}

// Capacity returns the largest possible allocation.
func (t *LogTimeline) Capacity() uint64 { return t.capacity }

// FreeBytes returns the largest contiguous free run, ignoring alignment.
func (t *LogTimeline) FreeBytes() uint64 {
	tail, ok := t.log.tail()
	if !ok {
		return t.capacity
	}
	if t.log.head > tail {
		return max(t.capacity-t.log.head, tail)
	}
	return tail - t.log.head
}

var _ Allocator = (*LogTimeline)(nil)
