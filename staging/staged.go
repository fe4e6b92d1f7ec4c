// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package staging

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/ringq/deferred"
	"github.com/gogpu/ringq/gpucore"
)

// Staged is a device-local buffer with a host-visible twin of the same
// size. Write fills the twin; RecordTransfer copies it to the device-local
// buffer. Callers synchronize writes with transfers still in flight.
type Staged struct {
	dev    Device
	size   uint64
	buffer gpucore.BufferID
	upload backing
}

// NewStaged creates a staged buffer of size bytes. usage is the usage of the
// device-local buffer; gputypes.BufferUsageCopyDst is added to it.
func NewStaged(dev Device, size uint64, usage gpucore.BufferUsage) (*Staged, error) {
	buf, err := dev.CreateBuffer(size, usage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("staging: create staged buffer: %w", err)
	}
	upload, err := newBacking(dev, size, gpucore.UsageUpload)
	if err != nil {
		dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("staging: create staged upload buffer: %w", err)
	}
	return &Staged{dev: dev, size: size, buffer: buf, upload: upload}, nil
}

// Write copies data into the upload buffer at offset and flushes it.
func (s *Staged) Write(offset uint64, data []byte) error {
	end := offset + uint64(len(data))
	if end > s.size || end < offset {
		return fmt.Errorf("staging: write [%d, %d) outside staged buffer of %d bytes", offset, end, s.size)
	}
	copy(s.upload.mem[offset:end], data)
	return flush(s.dev, s.upload.view(offset, uint64(len(data))))
}

// RecordTransfer records a copy of the whole upload buffer into the
// device-local buffer.
func (s *Staged) RecordTransfer(cmd gpucore.CommandBufferID) {
	s.dev.CopyBuffer(cmd, s.upload.buffer, 0, s.buffer, 0, s.size)
}

// Buffer returns the device-local buffer.
func (s *Staged) Buffer() gpucore.BufferID { return s.buffer }

// Size returns the buffer size in bytes.
func (s *Staged) Size() uint64 { return s.size }

// AppendObjects appends both buffers, so a Staged can be interred whole.
func (s *Staged) AppendObjects(dst []deferred.Object) []deferred.Object {
	return append(dst, deferred.Buffer(s.buffer), deferred.Buffer(s.upload.buffer))
}

// Destroy destroys both buffers immediately.
func (s *Staged) Destroy() {
	s.dev.DestroyBuffer(s.buffer)
	s.dev.DestroyBuffer(s.upload.buffer)
}
