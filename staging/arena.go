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

// ArenaConfig configures a staging arena.
type ArenaConfig struct {
	// Capacity is the initial arena capacity in bytes. Default: 64 KiB.
	Capacity uint64

	// Usage of the backing buffers. Default: gpucore.UsageUpload.
	Usage gpucore.BufferUsage
}

// Arena is a growable per-frame staging buffer. Every allocation is
// invalidated by Reset, which the frame loop calls once the GPU is done
// with the frame that made them. It is safe for concurrent use.
type Arena struct {
	dev   Device
	reg   *deferred.Registry
	usage gpucore.BufferUsage

	mu    sync.Mutex
	bump  *ring.Arena
	back  backing
	grows int
}

// NewArena creates a staging arena. Backing buffers replaced by growth are
// interred into reg.
func NewArena(dev Device, reg *deferred.Registry, cfg ArenaConfig) (*Arena, error) {
	if reg == nil {
		panic("staging: nil registry")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Usage == 0 {
		cfg.Usage = gpucore.UsageUpload
	}
	back, err := newBacking(dev, cfg.Capacity, cfg.Usage)
	if err != nil {
		return nil, fmt.Errorf("staging: create arena: %w", err)
	}
	return &Arena{dev: dev, reg: reg, usage: cfg.Usage, bump: ring.NewArena(cfg.Capacity), back: back}, nil
}

// Alloc returns size bytes aligned to align. When the arena is full it
// moves to a new buffer of at least twice the capacity, at least 2 KiB,
// and large enough for the request.
func (a *Arena) Alloc(size, align uint64) (Alloc, error) {
	gpucore.CheckAlignment(a.dev.Limits(), align)
	a.mu.Lock()
	defer a.mu.Unlock()

	off, err := a.bump.Alloc(size, align)
	if errors.Is(err, ring.ErrNoSpace) {
		capacity := max(max(a.bump.Capacity(), 1024)*2, size+align)
		if err := a.growLocked(capacity); err != nil {
			return Alloc{}, err
		}
		off, err = a.bump.Alloc(size, align)
	}
	if err != nil {
		return Alloc{}, fmt.Errorf("staging: arena alloc: %w", err)
	}
	return a.back.view(off, size), nil
}

func (a *Arena) growLocked(capacity uint64) error {
	back, err := newBacking(a.dev, capacity, a.usage)
	if err != nil {
		return fmt.Errorf("staging: grow arena to %d bytes: %w", capacity, err)
	}
	a.reg.Inter(deferred.Buffer(a.back.buffer))
	slogger().Debug("staging: arena grown", "from", a.bump.Capacity(), "to", capacity)
	a.back = back
	a.bump.Grow(capacity)
	a.grows++
	return nil
}

// Push allocates len(data) bytes aligned to align and copies data into them.
func (a *Arena) Push(data []byte, align uint64) (Alloc, error) {
	al, err := a.Alloc(uint64(len(data)), align)
	if err != nil {
		return Alloc{}, err
	}
	copy(al.Bytes, data)
	return al, nil
}

// Flush makes host writes to al visible to the device.
func (a *Arena) Flush(al Alloc) error {
	if err := flush(a.dev, al); err != nil {
		return fmt.Errorf("staging: flush: %w", err)
	}
	return nil
}

// Reset invalidates every allocation made so far.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bump.Reset()
}

// Capacity returns the current capacity.
func (a *Arena) Capacity() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bump.Capacity()
}

// Used returns the bytes consumed since the last Reset.
func (a *Arena) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bump.Used()
}

// Grows returns how many times the arena has grown.
func (a *Arena) Grows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.grows
}

// Destroy destroys the current backing buffer.
func (a *Arena) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dev.DestroyBuffer(a.back.buffer)
	a.back = backing{}
}
