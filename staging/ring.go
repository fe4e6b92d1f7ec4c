// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package staging

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/ringq/deferred"
	"github.com/gogpu/ringq/gpucore"
	"github.com/gogpu/ringq/ring"
)

const defaultCapacity = 64 << 10

// RingConfig configures a staging ring.
type RingConfig struct {
	// Capacity is the initial ring capacity in bytes. Default: 64 KiB.
	Capacity uint64

	// Usage of the backing buffers. Default: gpucore.UsageUpload.
	Usage gpucore.BufferUsage
}

// Ring is a growable staging buffer whose allocations are reclaimed by
// timeline value. It is safe for concurrent use.
type Ring struct {
	dev   Device
	reg   *deferred.Registry
	usage gpucore.BufferUsage

	mu     sync.Mutex
	alloc  *ring.Timeline
	back   backing
	grows  int
	freeAt uint64
}

// NewRing creates a staging ring. Backing buffers replaced by growth are
// interred into reg.
func NewRing(dev Device, reg *deferred.Registry, cfg RingConfig) (*Ring, error) {
	if reg == nil {
		panic("staging: nil registry")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Usage == 0 {
		cfg.Usage = gpucore.UsageUpload
	}
	alloc := ring.NewTimeline(cfg.Capacity)
	back, err := newBacking(dev, alloc.Span(), cfg.Usage)
	if err != nil {
		return nil, fmt.Errorf("staging: create ring: %w", err)
	}
	return &Ring{dev: dev, reg: reg, usage: cfg.Usage, alloc: alloc, back: back}, nil
}

// Alloc returns size bytes aligned to align that may be reused once Tick
// is called with a value at or after freeAt. A freeAt below that of an
// earlier allocation is raised to it, so producers racing for sequence
// numbers may present them out of order. When the ring is full it grows to
// twice its capacity, or to exactly fit the request if that is larger.
func (r *Ring) Alloc(size, align, freeAt uint64) (Alloc, error) {
	gpucore.CheckAlignment(r.dev.Limits(), align)
	r.mu.Lock()
	defer r.mu.Unlock()

	freeAt = max(freeAt, r.freeAt)
	r.freeAt = freeAt

	off, err := r.alloc.Alloc(size, align, freeAt)
	if errors.Is(err, ring.ErrNoSpace) {
		if err := r.growLocked(max(2*r.alloc.Capacity(), size+align)); err != nil {
			return Alloc{}, err
		}
		off, err = r.alloc.Alloc(size, align, freeAt)
	}
	if err != nil {
		return Alloc{}, fmt.Errorf("staging: ring alloc: %w", err)
	}
	return r.back.view(off, size), nil
}

func (r *Ring) growLocked(capacity uint64) error {
	span := capacity + 1
	back, err := newBacking(r.dev, span, r.usage)
	if err != nil {
		return fmt.Errorf("staging: grow ring to %d bytes: %w", capacity, err)
	}
	r.reg.Inter(deferred.Buffer(r.back.buffer))
	slogger().Debug("staging: ring grown",
		"from", r.alloc.Capacity(), "to", capacity, "pending", r.alloc.Pending())
	r.back = back
	r.alloc.Reset(capacity)
	r.grows++
	return nil
}

// Tick reclaims allocations due at or before now.
func (r *Ring) Tick(now uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alloc.Tick(now)
}

// Flush makes host writes to a visible to the device.
func (r *Ring) Flush(a Alloc) error {
	if err := flush(r.dev, a); err != nil {
		return fmt.Errorf("staging: flush: %w", err)
	}
	return nil
}

// Capacity returns the current capacity.
func (r *Ring) Capacity() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alloc.Capacity()
}

// FreeBytes returns the largest contiguous free run.
func (r *Ring) FreeBytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alloc.FreeBytes()
}

// Buffer returns the current backing buffer.
func (r *Ring) Buffer() gpucore.BufferID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.back.buffer
}

// Grows returns how many times the ring has grown.
func (r *Ring) Grows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grows
}

// Destroy destroys the current backing buffer. The GPU must be done with
// every allocation.
func (r *Ring) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dev.DestroyBuffer(r.back.buffer)
	r.back = backing{}
}
