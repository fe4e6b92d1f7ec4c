// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "time"

// MemoryDevice creates and destroys memory objects.
//
// Resource lifecycle:
//   - Objects are created via Create* methods
//   - Objects must be explicitly destroyed via Destroy*/Free* methods
//   - Destroying an object while the GPU still uses it is undefined behavior
//   - Destroying an object twice is a programmer error
type MemoryDevice interface {
	// CreateBuffer creates a GPU buffer of size bytes.
	CreateBuffer(size uint64, usage BufferUsage) (BufferID, error)

	// DestroyBuffer releases a GPU buffer and any mapping of it.
	DestroyBuffer(id BufferID)

	// MapBuffer returns a host-writable view of the whole buffer. The view
	// stays valid until UnmapBuffer or DestroyBuffer.
	MapBuffer(id BufferID) ([]byte, error)

	// UnmapBuffer invalidates the view returned by MapBuffer.
	UnmapBuffer(id BufferID)

	// FlushMapped makes host writes to [offset, offset+size) visible to
	// the device.
	FlushMapped(id BufferID, offset, size uint64) error

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// DestroyTextureView releases a texture view.
	DestroyTextureView(id TextureViewID)

	// FreeMemory releases a raw memory allocation.
	FreeMemory(id MemoryID)
}

// CounterDevice manages monotonically signaled counters.
//
// A counter starts at zero and only ever increases. It is advanced either by
// queue submissions (Queue.Submit) or by the host (SignalCounter).
type CounterDevice interface {
	// CreateCounter creates a counter with value zero.
	CreateCounter() (CounterID, error)

	// DestroyCounter releases a counter. No wait may be pending on it.
	DestroyCounter(id CounterID)

	// CounterValue returns the counter's current value.
	CounterValue(id CounterID) (uint64, error)

	// SignalCounter sets the counter to value from the host. value must be
	// greater than the current value.
	SignalCounter(id CounterID, value uint64) error

	// WaitCounters blocks until counters reach their values: all of them, or
	// any one of them when waitAny is true. A timeout of Forever waits without
	// a deadline; a zero timeout only polls. Returns false on timeout.
	WaitCounters(ids []CounterID, values []uint64, waitAny bool, timeout time.Duration) (bool, error)
}

// CommandDevice manages pooled command-recording buffers.
type CommandDevice interface {
	// CreateCommandPool creates a pool whose buffers may only be submitted
	// to queues of the given family.
	CreateCommandPool(family uint32) (CommandPoolID, error)

	// DestroyCommandPool releases a pool and every buffer allocated from it.
	DestroyCommandPool(id CommandPoolID)

	// AllocateCommandBuffers allocates n buffers from pool.
	AllocateCommandBuffers(pool CommandPoolID, n int) ([]CommandBufferID, error)

	// BeginCommandBuffer starts recording a one-time-submit buffer.
	BeginCommandBuffer(cmd CommandBufferID) error

	// EndCommandBuffer finishes recording, making the buffer submittable.
	EndCommandBuffer(cmd CommandBufferID) error

	// ResetCommandBuffer discards anything recorded into cmd.
	ResetCommandBuffer(cmd CommandBufferID) error

	// CopyBuffer records a buffer-to-buffer copy into cmd.
	CopyBuffer(cmd CommandBufferID, src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64)
}

// Device is the full device abstraction consumed by ringq.
// Implementations must be safe for concurrent use.
type Device interface {
	MemoryDevice
	CounterDevice
	CommandDevice

	// Limits returns the device limits.
	Limits() Limits
}

// Queue is a single GPU queue.
type Queue interface {
	// Family returns the queue family index. Command buffers submitted to
	// this queue must come from pools created for the same family.
	Family() uint32

	// Submit executes cmds in order and signals counter to value once all
	// of them have completed. cmds may be empty, in which case only the
	// signal operation is queued.
	Submit(cmds []CommandBufferID, counter CounterID, value uint64) error
}
