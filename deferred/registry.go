// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package deferred delays destruction of GPU objects by a fixed number of
// frames.
//
// A [Registry] holds one bucket per frame in flight. Objects interred
// during a frame go into the current bucket, and the bucket is emptied
// when BeginFrame comes back around to it depth frames later. The registry
// does not wait for the GPU: before each BeginFrame the caller must know,
// from the submission counter or an explicit wait, that the work of the
// frame depth frames ago has completed. Depth must therefore be at least
// the number of frames the engine keeps in flight.
package deferred

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/gpucore"
)

func slogger() *slog.Logger { return ringq.Logger() }

// Object is a destroyable GPU object.
type Object struct {
	Kind gpucore.Kind
	ID   uint64
}

// Buffer returns the Object for a buffer.
func Buffer(id gpucore.BufferID) Object { return Object{gpucore.KindBuffer, uint64(id)} }

// Texture returns the Object for a texture.
func Texture(id gpucore.TextureID) Object { return Object{gpucore.KindTexture, uint64(id)} }

// TextureView returns the Object for a texture view.
func TextureView(id gpucore.TextureViewID) Object {
	return Object{gpucore.KindTextureView, uint64(id)}
}

// Memory returns the Object for a raw memory allocation.
func Memory(id gpucore.MemoryID) Object { return Object{gpucore.KindMemory, uint64(id)} }

// CommandPool returns the Object for a command pool.
func CommandPool(id gpucore.CommandPoolID) Object {
	return Object{gpucore.KindCommandPool, uint64(id)}
}

// Counter returns the Object for a counter.
func Counter(id gpucore.CounterID) Object { return Object{gpucore.KindCounter, uint64(id)} }

// AppendObjects implements Retirable.
func (o Object) AppendObjects(dst []Object) []Object { return append(dst, o) }

// Retirable is implemented by owners of one or more GPU objects, so a
// composite such as a buffer with its memory can be interred at once.
type Retirable interface {
	// AppendObjects appends the objects to destroy to dst.
	AppendObjects(dst []Object) []Object
}

// Destroyer destroys GPU objects. gpucore.Device implements it.
type Destroyer interface {
	DestroyBuffer(id gpucore.BufferID)
	DestroyTexture(id gpucore.TextureID)
	DestroyTextureView(id gpucore.TextureViewID)
	FreeMemory(id gpucore.MemoryID)
	DestroyCommandPool(id gpucore.CommandPoolID)
	DestroyCounter(id gpucore.CounterID)
}

// destroyOrder ranks kinds so dependents go first: views before their
// textures, buffers before the memory bound to them.
var destroyOrder = map[gpucore.Kind]int{
	gpucore.KindTextureView: 0,
	gpucore.KindTexture:     1,
	gpucore.KindBuffer:      2,
	gpucore.KindMemory:      3,
	gpucore.KindCommandPool: 4,
	gpucore.KindCounter:     5,
}

// Registry is a ring of per-frame buckets of objects awaiting destruction.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	buckets [][]Object
	cursor  int
	count   int
}

// New creates a registry destroying objects depth frames after they are
// interred. It panics if depth is less than 1.
func New(depth int) *Registry {
	if depth < 1 {
		panic(fmt.Sprintf("deferred: depth %d must be at least 1", depth))
	}
	return &Registry{buckets: make([][]Object, depth)}
}

// Depth returns the number of BeginFrame calls after which an interred
// object is destroyed.
func (r *Registry) Depth() int { return len(r.buckets) }

// Inter schedules the objects of each r for destruction depth frames from
// now. It never destroys anything itself.
func (r *Registry) Inter(objs ...Retirable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.buckets[r.cursor]
	for _, o := range objs {
		b = o.AppendObjects(b)
	}
	r.count += len(b) - len(r.buckets[r.cursor])
	r.buckets[r.cursor] = b
}

// BeginFrame advances to the next bucket and destroys its contents, which
// were interred depth frames ago. It returns the number of objects
// destroyed.
func (r *Registry) BeginFrame(d Destroyer) int {
	r.mu.Lock()
	r.cursor = (r.cursor + 1) % len(r.buckets)
	due := r.buckets[r.cursor]
	r.buckets[r.cursor] = nil
	r.count -= len(due)
	r.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	slices.SortStableFunc(due, func(a, b Object) int {
		return rank(a.Kind) - rank(b.Kind)
	})
	for _, o := range due {
		destroy(d, o)
	}
	slogger().Debug("deferred: destroyed frame objects", "count", len(due))
	return len(due)
}

// Clear destroys every interred object by advancing depth frames. Use it
// at shutdown once the GPU is idle.
func (r *Registry) Clear(d Destroyer) int {
	n := 0
	for range r.Depth() {
		n += r.BeginFrame(d)
	}
	return n
}

// Len returns the number of objects awaiting destruction.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func rank(k gpucore.Kind) int {
	v, ok := destroyOrder[k]
	if !ok {
		panic(fmt.Sprintf("deferred: unknown object kind %v", k))
	}
	return v
}

func destroy(d Destroyer, o Object) {
	switch o.Kind {
	case gpucore.KindBuffer:
		d.DestroyBuffer(gpucore.BufferID(o.ID))
	case gpucore.KindTexture:
		d.DestroyTexture(gpucore.TextureID(o.ID))
	case gpucore.KindTextureView:
		d.DestroyTextureView(gpucore.TextureViewID(o.ID))
	case gpucore.KindMemory:
		d.FreeMemory(gpucore.MemoryID(o.ID))
	case gpucore.KindCommandPool:
		d.DestroyCommandPool(gpucore.CommandPoolID(o.ID))
	case gpucore.KindCounter:
		d.DestroyCounter(gpucore.CounterID(o.ID))
	default:
		panic(fmt.Sprintf("deferred: unknown object kind %v", o.Kind))
	}
}
