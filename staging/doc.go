// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package staging serves host-visible byte ranges for transfers to the GPU.
//
// Each allocator pairs a bookkeeping structure from package ring with one
// mapped backing buffer:
//
//   - [Ring] uses a timeline ring: allocations are reclaimed by Tick once
//     the submission counter passes their freeAt value. When it runs out of
//     space it grows, handing the old backing buffer to a deferred.Registry
//     so that in-flight transfers can still read it.
//   - [Arena] is a bump allocator reset once per frame, growing the same way.
//   - [Stream] has a fixed capacity and blocks allocating callers until
//     space is released, for streaming transfers of unknown total size.
//
// An [Alloc] carries the backing buffer, the offset and a slice of the
// mapping covering exactly the allocated range. The slice stays valid until
// the allocation is reclaimed; writing to it afterwards corrupts data of
// later allocations.
//
// [Staged] is a fixed-size upload helper: a device-local buffer plus the
// host-visible buffer it is refreshed from.
package staging

import (
	"errors"
	"log/slog"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/gpucore"
)

func slogger() *slog.Logger { return ringq.Logger() }

// ErrTooLarge is returned by Stream.Alloc for requests that could never
// fit, even into an empty stream.
var ErrTooLarge = errors.New("staging: allocation larger than capacity")

// Device is the subset of gpucore.Device used by staging allocators.
type Device interface {
	gpucore.MemoryDevice
	CopyBuffer(cmd gpucore.CommandBufferID, src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64)
	Limits() gpucore.Limits
}

// Alloc is a range of a mapped staging buffer.
type Alloc struct {
	// Buffer is the backing buffer to copy from.
	Buffer gpucore.BufferID
	// Offset is the start of the range within Buffer.
	Offset uint64
	// Size is the length of the range.
	Size uint64
	// Bytes is the host-writable view of the range.
	Bytes []byte
}

// backing is a mapped buffer.
type backing struct {
	buffer gpucore.BufferID
	mem    []byte
}

func newBacking(dev Device, size uint64, usage gpucore.BufferUsage) (backing, error) {
	size = gpucore.AlignUp(size, atomSize(dev.Limits()))
	buf, err := dev.CreateBuffer(size, usage)
	if err != nil {
		return backing{}, err
	}
	mem, err := dev.MapBuffer(buf)
	if err != nil {
		dev.DestroyBuffer(buf)
		return backing{}, err
	}
	return backing{buffer: buf, mem: mem}, nil
}

func (b backing) view(offset, size uint64) Alloc {
	end := offset + size
	return Alloc{Buffer: b.buffer, Offset: offset, Size: size, Bytes: b.mem[offset:end:end]}
}

func atomSize(l gpucore.Limits) uint64 {
	if l.NonCoherentAtomSize == 0 {
		return 1
	}
	return l.NonCoherentAtomSize
}

// flush makes host writes to a visible to the device, widening the range
// to the non-coherent atom size. Backing sizes are multiples of the atom,
// so the widened range stays in bounds.
func flush(dev Device, a Alloc) error {
	atom := atomSize(dev.Limits())
	start := gpucore.AlignDown(a.Offset, atom)
	end := gpucore.AlignUp(a.Offset+a.Size, atom)
	return dev.FlushMapped(a.Buffer, start, end-start)
}
