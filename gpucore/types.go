// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent GPU objects. Each device implementation
// maintains a mapping between IDs and its actual backend objects.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// TextureViewID is an opaque handle to a texture view.
type TextureViewID uint64

// MemoryID is an opaque handle to a raw device memory allocation.
type MemoryID uint64

// CounterID is an opaque handle to a monotonically signaled counter
// (a timeline semaphore in Vulkan terms, a valued fence in HAL terms).
type CounterID uint64

// CommandPoolID is an opaque handle to a command buffer pool.
type CommandPoolID uint64

// CommandBufferID is an opaque handle to a pooled command-recording buffer.
type CommandBufferID uint64

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

// Forever is the timeout value meaning "wait without a deadline".
const Forever time.Duration = -1

// BufferUsage is a bitmask specifying how a buffer will be used.
// It is the WebGPU usage type shared with gogpu/wgpu.
type BufferUsage = gputypes.BufferUsage

// Common usage combinations.
const (
	// UsageUpload is host-writable memory read by transfers.
	UsageUpload = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc

	// UsageReadback is transfer-written memory read by the host.
	UsageReadback = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// Kind tags the type of a destroyable GPU object.
type Kind uint8

const (
	// KindBuffer is a BufferID.
	KindBuffer Kind = iota + 1
	// KindTexture is a TextureID.
	KindTexture
	// KindTextureView is a TextureViewID.
	KindTextureView
	// KindMemory is a MemoryID.
	KindMemory
	// KindCommandPool is a CommandPoolID.
	KindCommandPool
	// KindCounter is a CounterID.
	KindCounter
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindTexture:
		return "Texture"
	case KindTextureView:
		return "TextureView"
	case KindMemory:
		return "Memory"
	case KindCommandPool:
		return "CommandPool"
	case KindCounter:
		return "Counter"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Limits reports device limits relevant to suballocation.
type Limits struct {
	// MaxAlignment is the largest alignment a caller may request for a
	// suballocation. Zero means 256.
	MaxAlignment uint64

	// NonCoherentAtomSize is the granularity of mapped-range flushes.
	// Zero means 1 (coherent memory).
	NonCoherentAtomSize uint64

	// MaxBufferSize is the largest buffer the device can create.
	// Zero means unlimited.
	MaxBufferSize uint64
}

// DefaultLimits returns limits that every supported backend satisfies.
func DefaultLimits() Limits {
	return Limits{
		MaxAlignment:        256,
		NonCoherentAtomSize: 1,
		MaxBufferSize:       256 << 20,
	}
}

// maxAlignment returns MaxAlignment with the zero value resolved.
func (l Limits) maxAlignment() uint64 {
	if l.MaxAlignment == 0 {
		return 256
	}
	return l.MaxAlignment
}

// CheckAlignment panics unless align is a power of two within the device's
// reported MaxAlignment. Alignment violations are programmer errors: the
// device behavior for misaligned accesses is undefined.
func CheckAlignment(l Limits, align uint64) {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("gpucore: alignment %d is not a power of two", align))
	}
	if align > l.maxAlignment() {
		panic(fmt.Sprintf("gpucore: alignment %d exceeds device limit %d", align, l.maxAlignment()))
	}
}

// AlignUp rounds x up to a multiple of align, which must be a power of two.
func AlignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// AlignDown rounds x down to a multiple of align, which must be a power of two.
func AlignDown(x, align uint64) uint64 {
	return x &^ (align - 1)
}
