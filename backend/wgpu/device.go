// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/gpucore"
)

func slogger() *slog.Logger { return ringq.Logger() }

// Errors returned by the wgpu device.
var (
	// ErrNotMappable is returned by MapBuffer for buffers created without
	// a map usage.
	ErrNotMappable = errors.New("wgpu: buffer is not mappable")

	// ErrNotMapped is returned by FlushMapped for buffers that are not mapped.
	ErrNotMapped = errors.New("wgpu: buffer is not mapped")

	// ErrOutOfRange is returned for ranges outside a buffer.
	ErrOutOfRange = errors.New("wgpu: range out of bounds")

	// ErrUnknownCounter is returned for counters that do not exist.
	ErrUnknownCounter = errors.New("wgpu: unknown counter")
)

type buffer struct {
	hal   hal.Buffer
	size  uint64
	usage gpucore.BufferUsage

	// mapped is the host view of a mapped buffer.
	mapped   []byte
	coherent bool
}

// Device adapts a hal.Device and its queue to gpucore.Device and
// gpucore.Queue. It is safe for concurrent use.
type Device struct {
	device hal.Device
	queue  hal.Queue
	family uint32
	limits gpucore.Limits

	// lastIndex is the highest hal submission index issued.
	lastIndex uint64

	nextID atomic.Uint64

	mu   sync.Mutex
	cond *sync.Cond

	buffers  map[gpucore.BufferID]*buffer
	textures map[gpucore.TextureID]hal.Texture
	views    map[gpucore.TextureViewID]hal.TextureView
	counters map[gpucore.CounterID]*counter
	pools    map[gpucore.CommandPoolID]*commandPool
	cmds     map[gpucore.CommandBufferID]*commandBuffer
}

// New wraps device and queue. If limits is nil, gputypes.DefaultLimits is
// used. The queue is family 0.
func New(device hal.Device, queue hal.Queue, limits *gputypes.Limits) *Device {
	var lim gputypes.Limits
	if limits != nil {
		lim = *limits
	} else {
		lim = gputypes.DefaultLimits()
	}
	d := &Device{
		device: device,
		queue:  queue,
		limits: gpucore.Limits{
			MaxAlignment:        256,
			NonCoherentAtomSize: 1,
			MaxBufferSize:       lim.MaxBufferSize,
		},
		buffers:  make(map[gpucore.BufferID]*buffer),
		textures: make(map[gpucore.TextureID]hal.Texture),
		views:    make(map[gpucore.TextureViewID]hal.TextureView),
		counters: make(map[gpucore.CounterID]*counter),
		pools:    make(map[gpucore.CommandPoolID]*commandPool),
		cmds:     make(map[gpucore.CommandBufferID]*commandBuffer),
	}
	d.cond = sync.NewCond(&d.mu)
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Limits returns the device limits. hal aligns flushed ranges of
// non-coherent memory itself.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// HalDevice returns the wrapped hal.Device.
func (d *Device) HalDevice() hal.Device { return d.device }

// === Buffers ===

// CreateBuffer creates a GPU buffer.
func (d *Device) CreateBuffer(size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer: %w", ErrOutOfRange)
	}
	if d.limits.MaxBufferSize != 0 && size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer of %d bytes exceeds limit %d", size, d.limits.MaxBufferSize)
	}
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ringq",
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	id := gpucore.BufferID(d.newID())

	d.mu.Lock()
	d.buffers[id] = &buffer{hal: hb, size: size, usage: usage}
	d.mu.Unlock()
	return id, nil
}

func (d *Device) bufferLocked(id gpucore.BufferID, op string) *buffer {
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("wgpu: %s of unknown buffer %d", op, id))
	}
	return b
}

// DestroyBuffer releases a GPU buffer. Destroying an unknown buffer panics.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b := d.bufferLocked(id, "destroy")
	delete(d.buffers, id)
	d.mu.Unlock()

	if b.mapped != nil {
		if err := d.device.UnmapBuffer(b.hal); err != nil {
			slogger().Warn("wgpu: unmap buffer", "buffer", id, "err", err)
		}
	}
	d.device.DestroyBuffer(b.hal)
}

// MapBuffer maps a buffer created with BufferUsageMapWrite or
// BufferUsageMapRead. Mapping a readable buffer again makes the GPU's
// completed writes visible.
func (d *Device) MapBuffer(id gpucore.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bufferLocked(id, "map")
	if !b.usage.Contains(gputypes.BufferUsageMapRead) && !b.usage.Contains(gputypes.BufferUsageMapWrite) {
		return nil, ErrNotMappable
	}
	m, err := d.device.MapBuffer(b.hal, 0, b.size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map buffer %d: %w", id, err)
	}
	b.mapped = unsafe.Slice((*byte)(m.Ptr), b.size)
	b.coherent = m.IsCoherent
	return b.mapped, nil
}

// UnmapBuffer unmaps the buffer.
func (d *Device) UnmapBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok || b.mapped == nil {
		return
	}
	b.mapped = nil
	if err := d.device.UnmapBuffer(b.hal); err != nil {
		slogger().Warn("wgpu: unmap buffer", "buffer", id, "err", err)
	}
}

// FlushMapped makes host writes to [offset, offset+size) visible to the
// GPU. Coherent mappings need no work; for non-coherent memory hal flushes
// on UnmapBuffer and the mapping itself stays valid.
func (d *Device) FlushMapped(id gpucore.BufferID, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bufferLocked(id, "flush")
	if b.mapped == nil {
		return ErrNotMapped
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("wgpu: flush [%d, %d): %w", offset, offset+size, ErrOutOfRange)
	}
	if size == 0 || b.coherent {
		return nil
	}
	if err := d.device.UnmapBuffer(b.hal); err != nil {
		return fmt.Errorf("wgpu: flush buffer %d: %w", id, err)
	}
	return nil
}

// WriteBuffer writes data into a buffer with Queue.WriteBuffer. It is the
// upload path for buffers that cannot be mapped.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bufferLocked(id, "write")
	if offset > b.size || uint64(len(data)) > b.size-offset {
		return fmt.Errorf("wgpu: write [%d, %d): %w", offset, offset+uint64(len(data)), ErrOutOfRange)
	}
	if err := d.queue.WriteBuffer(b.hal, offset, data); err != nil {
		return fmt.Errorf("wgpu: write buffer %d: %w", id, err)
	}
	return nil
}

// === Textures ===

// ImportTexture registers a texture created on the hal device, so that
// its destruction can be deferred. The Device takes ownership.
func (d *Device) ImportTexture(t hal.Texture) gpucore.TextureID {
	id := gpucore.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = t
	d.mu.Unlock()
	return id
}

// ImportTextureView registers a texture view created on the hal device.
// The Device takes ownership.
func (d *Device) ImportTextureView(v hal.TextureView) gpucore.TextureViewID {
	id := gpucore.TextureViewID(d.newID())
	d.mu.Lock()
	d.views[id] = v
	d.mu.Unlock()
	return id
}

// DestroyTexture releases an imported texture.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("wgpu: destroy of unknown texture %d", id))
	}
	d.device.DestroyTexture(t)
}

// DestroyTextureView releases an imported texture view.
func (d *Device) DestroyTextureView(id gpucore.TextureViewID) {
	d.mu.Lock()
	v, ok := d.views[id]
	delete(d.views, id)
	d.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("wgpu: destroy of unknown texture view %d", id))
	}
	d.device.DestroyTextureView(v)
}

// FreeMemory panics: the hal layer does not expose raw memory objects, so
// no MemoryID can refer to one.
func (d *Device) FreeMemory(id gpucore.MemoryID) {
	panic(fmt.Sprintf("wgpu: free of unknown memory %d", id))
}

// Live returns the number of live objects of a kind.
func (d *Device) Live(kind gpucore.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case gpucore.KindBuffer:
		return len(d.buffers)
	case gpucore.KindTexture:
		return len(d.textures)
	case gpucore.KindTextureView:
		return len(d.views)
	case gpucore.KindCounter:
		return len(d.counters)
	case gpucore.KindCommandPool:
		return len(d.pools)
	default:
		return 0
	}
}

var (
	_ gpucore.Device = (*Device)(nil)
	_ gpucore.Queue  = (*Device)(nil)
)
