// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/ringq/gpucore"
)

type cmdState uint8

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

// commandBuffer is a recording slot. encoder is set while recording; buf
// holds the last encoded command buffer until the slot is recorded again.
type commandBuffer struct {
	pool    gpucore.CommandPoolID
	state   cmdState
	encoder hal.CommandEncoder
	buf     hal.CommandBuffer

	// index is the hal submission index while pending.
	index uint64
}

type commandPool struct {
	family uint32
	cmds   []gpucore.CommandBufferID
}

// CreateCommandPool creates a pool of recording slots.
func (d *Device) CreateCommandPool(family uint32) (gpucore.CommandPoolID, error) {
	id := gpucore.CommandPoolID(d.newID())
	d.mu.Lock()
	d.pools[id] = &commandPool{family: family}
	d.mu.Unlock()
	return id, nil
}

// DestroyCommandPool frees every command buffer of the pool. Destroying a
// pool whose buffers are still executing panics.
func (d *Device) DestroyCommandPool(id gpucore.CommandPoolID) {
	d.mu.Lock()
	p, ok := d.pools[id]
	if !ok {
		d.mu.Unlock()
		panic(fmt.Sprintf("wgpu: destroy of unknown command pool %d", id))
	}
	var free []hal.CommandBuffer
	var discard []hal.CommandEncoder
	for _, cid := range p.cmds {
		c := d.cmds[cid]
		if c.state == cmdPending && c.index > d.completedLocked() {
			d.mu.Unlock()
			panic(fmt.Sprintf("wgpu: destroy of command pool %d with command buffer %d still executing", id, cid))
		}
		if c.encoder != nil {
			discard = append(discard, c.encoder)
		}
		if c.buf != nil {
			free = append(free, c.buf)
		}
		delete(d.cmds, cid)
	}
	delete(d.pools, id)
	d.mu.Unlock()

	for _, e := range discard {
		e.DiscardEncoding()
	}
	for _, b := range free {
		d.device.FreeCommandBuffer(b)
	}
}

// AllocateCommandBuffers allocates n recording slots from pool.
func (d *Device) AllocateCommandBuffers(pool gpucore.CommandPoolID, n int) ([]gpucore.CommandBufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[pool]
	if !ok {
		panic(fmt.Sprintf("wgpu: allocate from unknown command pool %d", pool))
	}
	ids := make([]gpucore.CommandBufferID, n)
	for i := range ids {
		id := gpucore.CommandBufferID(d.newID())
		d.cmds[id] = &commandBuffer{pool: pool}
		p.cmds = append(p.cmds, id)
		ids[i] = id
	}
	return ids, nil
}

func (d *Device) cmdLocked(id gpucore.CommandBufferID) *commandBuffer {
	c, ok := d.cmds[id]
	if !ok {
		panic(fmt.Sprintf("wgpu: unknown command buffer %d", id))
	}
	return c
}

// BeginCommandBuffer frees the slot's previous command buffer and opens a
// new encoder.
func (d *Device) BeginCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	c := d.cmdLocked(id)
	if c.state == cmdRecording {
		d.mu.Unlock()
		panic(fmt.Sprintf("wgpu: begin of command buffer %d already recording", id))
	}
	old := c.buf
	c.buf = nil
	c.index = 0
	c.state = cmdInitial
	d.mu.Unlock()

	if old != nil {
		d.device.FreeCommandBuffer(old)
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "ringq"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("ringq"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c.encoder = enc
	c.state = cmdRecording
	return nil
}

// EndCommandBuffer finishes encoding.
func (d *Device) EndCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(id)
	if c.state != cmdRecording {
		panic(fmt.Sprintf("wgpu: end of command buffer %d that is not recording", id))
	}
	buf, err := c.encoder.EndEncoding()
	c.encoder = nil
	if err != nil {
		c.state = cmdInitial
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	c.buf = buf
	c.state = cmdExecutable
	return nil
}

// ResetCommandBuffer discards the slot's recording.
func (d *Device) ResetCommandBuffer(id gpucore.CommandBufferID) error {
	d.mu.Lock()
	c := d.cmdLocked(id)
	if c.state == cmdPending {
		d.mu.Unlock()
		panic(fmt.Sprintf("wgpu: reset of pending command buffer %d", id))
	}
	enc, buf := c.encoder, c.buf
	c.encoder, c.buf = nil, nil
	c.state = cmdInitial
	d.mu.Unlock()

	if enc != nil {
		enc.DiscardEncoding()
	}
	if buf != nil {
		d.device.FreeCommandBuffer(buf)
	}
	return nil
}

// CopyBuffer records a buffer-to-buffer copy. Offsets and size must be
// multiples of 4.
func (d *Device) CopyBuffer(cmd gpucore.CommandBufferID, src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.cmdLocked(cmd)
	if c.state != cmdRecording {
		panic(fmt.Sprintf("wgpu: copy recorded into command buffer %d that is not recording", cmd))
	}
	s := d.bufferLocked(src, "copy from")
	t := d.bufferLocked(dst, "copy to")
	c.encoder.CopyBufferToBuffer(s.hal, t.hal, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
}

// === Queue ===

// Family returns the queue family, always 0.
func (d *Device) Family() uint32 { return d.family }

// Submit submits cmds and signals counter to value once they complete. An
// empty submission issues no hal work: the value is reached once every
// earlier submission has completed. On error nothing is marked pending and
// the command buffers stay executable.
func (d *Device) Submit(cmds []gpucore.CommandBufferID, counter gpucore.CounterID, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctr, ok := d.counters[counter]
	if !ok {
		return fmt.Errorf("wgpu: submit: %w", ErrUnknownCounter)
	}
	bufs := make([]hal.CommandBuffer, 0, len(cmds))
	for _, id := range cmds {
		c := d.cmdLocked(id)
		if fam := d.pools[c.pool].family; fam != d.family {
			panic(fmt.Sprintf("wgpu: command buffer %d from family %d submitted to family %d", id, fam, d.family))
		}
		if c.state != cmdExecutable {
			panic(fmt.Sprintf("wgpu: command buffer %d submitted without being ended", id))
		}
		bufs = append(bufs, c.buf)
	}

	index := d.lastIndex
	if len(bufs) > 0 {
		var err error
		if index, err = d.queue.Submit(bufs); err != nil {
			return fmt.Errorf("wgpu: submit: %w", err)
		}
		d.lastIndex = max(d.lastIndex, index)
	}
	for _, id := range cmds {
		c := d.cmds[id]
		c.state = cmdPending
		c.index = index
	}
	d.signalLocked(ctr, value, index)
	d.cond.Broadcast()
	slogger().Debug("wgpu: submitted", "commands", len(bufs), "counter", counter, "value", value, "index", index)
	return nil
}
