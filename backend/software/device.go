// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/ringq/gpucore"
)

// Errors returned by the software device.
var (
	// ErrNotMappable is returned by MapBuffer for buffers created without
	// a map usage.
	ErrNotMappable = errors.New("software: buffer is not mappable")

	// ErrNotMapped is returned by FlushMapped for buffers that are not mapped.
	ErrNotMapped = errors.New("software: buffer is not mapped")

	// ErrOutOfRange is returned for ranges outside a buffer.
	ErrOutOfRange = errors.New("software: range out of bounds")

	// ErrUnknownCounter is returned for counters that do not exist.
	ErrUnknownCounter = errors.New("software: unknown counter")
)

// Config configures a software device.
type Config struct {
	// Manual holds submissions in flight until Queue.Retire is called.
	Manual bool

	// Family is the queue family of the device's only queue.
	Family uint32

	// Limits reported by the device. The zero value means
	// gpucore.DefaultLimits.
	Limits gpucore.Limits
}

type cmdState uint8

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

type copyOp struct {
	src, dst             gpucore.BufferID
	srcOffset, dstOffset uint64
	size                 uint64
}

type buffer struct {
	data   []byte
	usage  gpucore.BufferUsage
	mapped bool
}

type commandBuffer struct {
	pool  gpucore.CommandPoolID
	state cmdState
	ops   []copyOp
}

type commandPool struct {
	family uint32
	cmds   []gpucore.CommandBufferID
}

// Device is an in-memory gpucore.Device. It is safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	cond *sync.Cond

	limits gpucore.Limits
	nextID uint64

	buffers  map[gpucore.BufferID]*buffer
	counters map[gpucore.CounterID]uint64
	pools    map[gpucore.CommandPoolID]*commandPool
	cmds     map[gpucore.CommandBufferID]*commandBuffer
	others   map[gpucore.Kind]map[uint64]struct{}

	destroyed map[gpucore.Kind]map[uint64]int
	flushes   int
}

// New creates a software device and its queue.
func New(cfg Config) (*Device, *Queue) {
	limits := cfg.Limits
	if limits == (gpucore.Limits{}) {
		limits = gpucore.DefaultLimits()
	}
	d := &Device{
		limits:    limits,
		buffers:   make(map[gpucore.BufferID]*buffer),
		counters:  make(map[gpucore.CounterID]uint64),
		pools:     make(map[gpucore.CommandPoolID]*commandPool),
		cmds:      make(map[gpucore.CommandBufferID]*commandBuffer),
		others:    make(map[gpucore.Kind]map[uint64]struct{}),
		destroyed: make(map[gpucore.Kind]map[uint64]int),
	}
	d.cond = sync.NewCond(&d.mu)
	q := &Queue{dev: d, family: cfg.Family, manual: cfg.Manual}
	return d, q
}

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) recordDestroy(kind gpucore.Kind, id uint64) {
	m := d.destroyed[kind]
	if m == nil {
		m = make(map[uint64]int)
		d.destroyed[kind] = m
	}
	m[id]++
}

// CreateBuffer creates a zero-filled buffer.
func (d *Device) CreateBuffer(size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: create buffer: %w", ErrOutOfRange)
	}
	if d.limits.MaxBufferSize != 0 && size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("software: create buffer of %d bytes exceeds limit %d", size, d.limits.MaxBufferSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{data: make([]byte, size), usage: usage}
	return id, nil
}

// DestroyBuffer releases a buffer. Destroying an unknown buffer panics.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; !ok {
		panic(fmt.Sprintf("software: destroy of unknown buffer %d", id))
	}
	delete(d.buffers, id)
	d.recordDestroy(gpucore.KindBuffer, uint64(id))
}

// MapBuffer returns the buffer's storage. Only buffers created with
// BufferUsageMapWrite or BufferUsageMapRead can be mapped.
func (d *Device) MapBuffer(id gpucore.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("software: map of unknown buffer %d", id))
	}
	if !b.usage.Contains(gputypes.BufferUsageMapWrite) && !b.usage.Contains(gputypes.BufferUsageMapRead) {
		return nil, ErrNotMappable
	}
	b.mapped = true
	return b.data, nil
}

// UnmapBuffer marks the buffer unmapped.
func (d *Device) UnmapBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		b.mapped = false
	}
}

// FlushMapped validates the range and counts the flush. Host writes are
// immediately visible to the software device.
func (d *Device) FlushMapped(id gpucore.BufferID, offset, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		panic(fmt.Sprintf("software: flush of unknown buffer %d", id))
	}
	if !b.mapped {
		return ErrNotMapped
	}
	if offset > uint64(len(b.data)) || size > uint64(len(b.data))-offset {
		return fmt.Errorf("software: flush [%d, %d): %w", offset, offset+size, ErrOutOfRange)
	}
	d.flushes++
	return nil
}

// CreateTexture registers a texture object. Textures carry no storage.
func (d *Device) CreateTexture() gpucore.TextureID {
	return gpucore.TextureID(d.createOther(gpucore.KindTexture))
}

// CreateTextureView registers a texture view object.
func (d *Device) CreateTextureView() gpucore.TextureViewID {
	return gpucore.TextureViewID(d.createOther(gpucore.KindTextureView))
}

// AllocateMemory registers a raw memory allocation.
func (d *Device) AllocateMemory() gpucore.MemoryID {
	return gpucore.MemoryID(d.createOther(gpucore.KindMemory))
}

func (d *Device) createOther(kind gpucore.Kind) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID()
	m := d.others[kind]
	if m == nil {
		m = make(map[uint64]struct{})
		d.others[kind] = m
	}
	m[id] = struct{}{}
	return id
}

func (d *Device) destroyOther(kind gpucore.Kind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.others[kind][id]; !ok {
		panic(fmt.Sprintf("software: destroy of unknown %v %d", kind, id))
	}
	delete(d.others[kind], id)
	d.recordDestroy(kind, id)
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.destroyOther(gpucore.KindTexture, uint64(id))
}

// DestroyTextureView releases a texture view.
func (d *Device) DestroyTextureView(id gpucore.TextureViewID) {
	d.destroyOther(gpucore.KindTextureView, uint64(id))
}

// FreeMemory releases a raw memory allocation.
func (d *Device) FreeMemory(id gpucore.MemoryID) {
	d.destroyOther(gpucore.KindMemory, uint64(id))
}

// CreateCounter creates a counter with value zero.
func (d *Device) CreateCounter() (gpucore.CounterID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.CounterID(d.newID())
	d.counters[id] = 0
	return id, nil
}

// DestroyCounter releases a counter.
func (d *Device) DestroyCounter(id gpucore.CounterID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.counters[id]; !ok {
		panic(fmt.Sprintf("software: destroy of unknown counter %d", id))
	}
	delete(d.counters, id)
	d.recordDestroy(gpucore.KindCounter, uint64(id))
	d.cond.Broadcast()
}

// CounterValue returns the counter's current value.
func (d *Device) CounterValue(id gpucore.CounterID) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.counters[id]
	if !ok {
		return 0, ErrUnknownCounter
	}
	return v, nil
}

// SignalCounter sets the counter from the host.
func (d *Device) SignalCounter(id gpucore.CounterID, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.counters[id]
	if !ok {
		return ErrUnknownCounter
	}
	if value <= cur {
		return fmt.Errorf("software: signal counter %d to %d: current value is %d", id, value, cur)
	}
	d.counters[id] = value
	d.cond.Broadcast()
	return nil
}

// signalLocked advances a counter from a retired submission.
func (d *Device) signalLocked(id gpucore.CounterID, value uint64) {
	cur, ok := d.counters[id]
	if !ok {
		panic(fmt.Sprintf("software: submission signals unknown counter %d", id))
	}
	if value < cur {
		panic(fmt.Sprintf("software: counter %d would move backwards from %d to %d", id, cur, value))
	}
	d.counters[id] = value
	d.cond.Broadcast()
}

// WaitCounters blocks until the counters reach their values.
func (d *Device) WaitCounters(ids []gpucore.CounterID, values []uint64, waitAny bool, timeout time.Duration) (bool, error) {
	if len(ids) != len(values) {
		return false, fmt.Errorf("software: wait: %d counters but %d values", len(ids), len(values))
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.AfterFunc(timeout, func() {
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		})
		defer t.Stop()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		ok, err := d.reachedLocked(ids, values, waitAny)
		if err != nil || ok {
			return ok, err
		}
		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			return false, nil
		}
		d.cond.Wait()
	}
}

func (d *Device) reachedLocked(ids []gpucore.CounterID, values []uint64, waitAny bool) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	for i, id := range ids {
		v, ok := d.counters[id]
		if !ok {
			return false, ErrUnknownCounter
		}
		reached := v >= values[i]
		if waitAny && reached {
			return true, nil
		}
		if !waitAny && !reached {
			return false, nil
		}
	}
	return !waitAny, nil
}

// CreateCommandPool creates a pool for the given queue family.
func (d *Device) CreateCommandPool(family uint32) (gpucore.CommandPoolID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.CommandPoolID(d.newID())
	d.pools[id] = &commandPool{family: family}
	return id, nil
}

// DestroyCommandPool releases a pool and its command buffers.
func (d *Device) DestroyCommandPool(id gpucore.CommandPoolID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[id]
	if !ok {
		panic(fmt.Sprintf("software: destroy of unknown command pool %d", id))
	}
	for _, cmd := range p.cmds {
		if d.cmds[cmd].state == cmdPending {
			panic(fmt.Sprintf("software: command pool %d destroyed while buffer %d is in flight", id, cmd))
		}
		delete(d.cmds, cmd)
	}
	delete(d.pools, id)
	d.recordDestroy(gpucore.KindCommandPool, uint64(id))
}

// AllocateCommandBuffers allocates n buffers from pool.
func (d *Device) AllocateCommandBuffers(pool gpucore.CommandPoolID, n int) ([]gpucore.CommandBufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		return nil, fmt.Errorf("software: allocate from unknown command pool %d", pool)
	}
	out := make([]gpucore.CommandBufferID, n)
	for i := range out {
		id := gpucore.CommandBufferID(d.newID())
		d.cmds[id] = &commandBuffer{pool: pool}
		p.cmds = append(p.cmds, id)
		out[i] = id
	}
	return out, nil
}

func (d *Device) cmdLocked(id gpucore.CommandBufferID) *commandBuffer {
	c, ok := d.cmds[id]
	if !ok {
		panic(fmt.Sprintf("software: unknown command buffer %d", id))
	}
	return c
}

// BeginCommandBuffer starts recording, discarding earlier contents.
func (d *Device) BeginCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(id)
	switch c.state {
	case cmdRecording:
		return fmt.Errorf("software: command buffer %d is already recording", id)
	case cmdPending:
		panic(fmt.Sprintf("software: begin on in-flight command buffer %d", id))
	}
	c.state = cmdRecording
	c.ops = c.ops[:0]
	return nil
}

// EndCommandBuffer finishes recording.
func (d *Device) EndCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(id)
	if c.state != cmdRecording {
		return fmt.Errorf("software: end on command buffer %d that is not recording", id)
	}
	c.state = cmdExecutable
	return nil
}

// ResetCommandBuffer discards recorded commands.
func (d *Device) ResetCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(id)
	if c.state == cmdPending {
		panic(fmt.Sprintf("software: reset of in-flight command buffer %d", id))
	}
	c.state = cmdInitial
	c.ops = c.ops[:0]
	return nil
}

// CopyBuffer records a copy. The ranges are validated when it executes.
func (d *Device) CopyBuffer(cmd gpucore.CommandBufferID, src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(cmd)
	if c.state != cmdRecording {
		panic(fmt.Sprintf("software: copy recorded into command buffer %d that is not recording", cmd))
	}
	c.ops = append(c.ops, copyOp{src: src, dst: dst, srcOffset: srcOffset, dstOffset: dstOffset, size: size})
}

func (d *Device) executeLocked(id gpucore.CommandBufferID) {
	c := d.cmdLocked(id)
	for _, op := range c.ops {
		src, ok := d.buffers[op.src]
		if !ok {
			panic(fmt.Sprintf("software: copy reads destroyed buffer %d", op.src))
		}
		dst, ok := d.buffers[op.dst]
		if !ok {
			panic(fmt.Sprintf("software: copy writes destroyed buffer %d", op.dst))
		}
		if op.srcOffset+op.size > uint64(len(src.data)) || op.dstOffset+op.size > uint64(len(dst.data)) {
			panic(fmt.Sprintf("software: copy of %d bytes out of bounds", op.size))
		}
		copy(dst.data[op.dstOffset:op.dstOffset+op.size], src.data[op.srcOffset:op.srcOffset+op.size])
	}
	c.state = cmdExecutable
}

// BufferData returns a copy of a buffer's contents.
func (d *Device) BufferData(id gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// Live returns the number of live objects of a kind.
func (d *Device) Live(kind gpucore.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case gpucore.KindBuffer:
		return len(d.buffers)
	case gpucore.KindCounter:
		return len(d.counters)
	case gpucore.KindCommandPool:
		return len(d.pools)
	default:
		return len(d.others[kind])
	}
}

// CommandBuffers returns the number of allocated command buffers.
func (d *Device) CommandBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cmds)
}

// DestroyCount returns how many times the object was destroyed.
func (d *Device) DestroyCount(kind gpucore.Kind, id uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed[kind][id]
}

// Flushes returns the number of FlushMapped calls that succeeded.
func (d *Device) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

var _ gpucore.Device = (*Device)(nil)
