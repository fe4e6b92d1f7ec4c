// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package staging

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gogpu/ringq/gpucore"
	"github.com/gogpu/ringq/ring"
)

// Stream is a fixed-capacity staging buffer for streaming transfers.
// Alloc blocks until enough space is released; spans may be released in
// any order, but space is only reused once every older span is released.
// It is safe for concurrent use. There is no fairness: small requests can
// starve large ones.
type Stream struct {
	dev      Device
	back     backing
	capacity uint64

	// free counts unallocated bytes. Callers reserve their worst case
	// before touching the log.
	free *semaphore.Weighted

	mu  sync.Mutex
	log ring.Log
	// debt is space consumed by wrapping that could not be taken from
	// free at the time; it is repaid before releases.
	debt int64
	// freed is closed and replaced whenever a span is released.
	freed chan struct{}
}

// Span is an allocation from a Stream.
type Span struct {
	Alloc
	s  *Stream
	id ring.ID
}

// NewStream creates a stream of capacity bytes.
func NewStream(dev Device, capacity uint64, usage gpucore.BufferUsage) (*Stream, error) {
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if usage == 0 {
		usage = gpucore.UsageUpload
	}
	back, err := newBacking(dev, capacity, usage)
	if err != nil {
		return nil, fmt.Errorf("staging: create stream: %w", err)
	}
	return &Stream{
		dev:      dev,
		back:     back,
		capacity: capacity,
		free:     semaphore.NewWeighted(int64(capacity)),
		freed:    make(chan struct{}),
	}, nil
}

// Alloc blocks until size bytes aligned to align are available or ctx is
// done. It returns ErrTooLarge if size+align-1 exceeds the capacity.
func (s *Stream) Alloc(ctx context.Context, size, align uint64) (*Span, error) {
	gpucore.CheckAlignment(s.dev.Limits(), align)
	if size == 0 {
		panic("staging: zero-size allocation")
	}
	worst := size + align - 1
	if worst > s.capacity {
		return nil, ErrTooLarge
	}
	for {
		if err := s.free.Acquire(ctx, int64(worst)); err != nil {
			return nil, err
		}
		s.mu.Lock()
		before := s.log.Available(s.capacity)
		off, id, err := s.log.Alloc(s.capacity, size, align)
		consumed := int64(before - s.log.Available(s.capacity))
		switch extra := consumed - int64(worst); {
		case extra < 0:
			s.free.Release(-extra)
		case extra > 0:
			// Wrapping skipped the tail of the buffer.
			if !s.free.TryAcquire(extra) {
				s.debt += extra
			}
		}
		if err == nil {
			s.mu.Unlock()
			return &Span{Alloc: s.back.view(off, size), s: s, id: id}, nil
		}
		// Enough bytes are free but not contiguously; wait for a release.
		freed := s.freed
		s.mu.Unlock()
		select {
		case <-freed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns the span's space to the stream. It must be called
// exactly once, after the GPU is done reading the span.
func (sp *Span) Release() {
	s := sp.s
	s.mu.Lock()
	before := s.log.Available(s.capacity)
	s.log.Free(sp.id)
	released := int64(s.log.Available(s.capacity) - before)
	pay := min(released, s.debt)
	s.debt -= pay
	released -= pay
	close(s.freed)
	s.freed = make(chan struct{})
	s.mu.Unlock()

	if released > 0 {
		s.free.Release(released)
	}
}

// Flush makes host writes to the span visible to the device.
func (sp *Span) Flush() error {
	if err := flush(sp.s.dev, sp.Alloc); err != nil {
		return fmt.Errorf("staging: flush: %w", err)
	}
	return nil
}

// Capacity returns the stream capacity.
func (s *Stream) Capacity() uint64 { return s.capacity }

// Buffer returns the backing buffer.
func (s *Stream) Buffer() gpucore.BufferID { return s.back.buffer }

// Destroy destroys the backing buffer. Every span must be released.
func (s *Stream) Destroy() {
	s.dev.DestroyBuffer(s.back.buffer)
}
