// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ring provides circular sub-allocators over a fixed capacity.
//
// The allocators only do bookkeeping: they hand out offsets into a buffer
// the caller owns and never touch memory or a device themselves. None of
// them are safe for concurrent use; guard each instance with one mutex or
// confine it to one owner.
//
// Two growth directions are provided:
//
//   - [State] and [Timeline] grow downward from the end of the buffer toward
//     zero. Offsets are rounded down to the requested alignment.
//   - [Log] and [LogTimeline] grow upward and round offsets up. Log tracks
//     every allocation individually and accepts frees in any order.
//
// [Timeline] and [LogTimeline] tag each allocation with the counter value at
// which it becomes reclaimable, so a single Tick call with the current GPU
// timeline value releases everything that is due. Both satisfy [Allocator].
//
// # Empty and Full
//
// A downward ring cannot tell empty from full by its head and tail alone
// when they meet. [Timeline] therefore manages one unit more than its
// capacity: a Timeline of capacity C needs a backing buffer of C+1 units
// (see [Timeline.Span]) and never has more than C units allocated. [State]
// itself carries no slack; callers wrapping it pass the padded span.
// Mixing the conventions corrupts the boundary check.
//
// [Log] counts its live allocations instead, so it needs no slack.
package ring

import "errors"

// ErrNoSpace is returned when no aligned gap of the requested size exists.
// It is expected and recoverable: retry after a Tick or grow the buffer.
var ErrNoSpace = errors.New("ring: no space")

// Allocator is a timeline-reclaimed circular allocator.
type Allocator interface {
	// Alloc returns the offset of size units aligned to align that will be
	// reclaimed by the first Tick with now >= freeAt.
	Alloc(size, align, freeAt uint64) (uint64, error)

	// Tick reclaims every allocation whose freeAt is at or before now and
	// reports whether anything was reclaimed.
	Tick(now uint64) bool

	// Capacity returns the largest possible allocation.
	Capacity() uint64

	// FreeBytes returns the largest contiguous free run, ignoring alignment.
	FreeBytes() uint64
}

func checkRequest(size, align uint64) {
	if size == 0 {
		panic("ring: zero-size allocation")
	}
	if align == 0 {
		panic("ring: zero alignment")
	}
}

func alignDown(x, align uint64) uint64 {
	return x - x%align
}

func alignUp(x, align uint64) uint64 {
	if r := x % align; r != 0 {
		return x + align - r
	}
	return x
}
