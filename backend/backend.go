// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	halsoftware "github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/ringq/backend/software"
	"github.com/gogpu/ringq/backend/wgpu"
	"github.com/gogpu/ringq/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the in-memory software device.
	BackendSoftware = "software"
	// BackendNoop is the name of the wgpu hal noop device.
	BackendNoop = "noop"
	// BackendHALSoftware is the name of the wgpu hal CPU device.
	BackendHALSoftware = "halsoftware"
)

// ErrBackendNotAvailable is returned when a requested backend is not
// registered.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Backend owns a device and the queue work is submitted to.
type Backend interface {
	// Name returns the backend identifier (e.g., "software", "noop").
	Name() string

	// Device returns the device resources are created on.
	Device() gpucore.Device

	// Queue returns the queue of the device.
	Queue() gpucore.Queue

	// Close releases the device. Every object created on it must have
	// been destroyed.
	Close()
}

// SoftwareBackend runs on the in-memory software device.
type SoftwareBackend struct {
	device *software.Device
	queue  *software.Queue
}

// NewSoftwareBackend creates a software backend.
func NewSoftwareBackend(cfg software.Config) *SoftwareBackend {
	d, q := software.New(cfg)
	return &SoftwareBackend{device: d, queue: q}
}

// Name returns "software".
func (b *SoftwareBackend) Name() string { return BackendSoftware }

// Device returns the software device.
func (b *SoftwareBackend) Device() gpucore.Device { return b.device }

// Queue returns the software queue.
func (b *SoftwareBackend) Queue() gpucore.Queue { return b.queue }

// Software returns the underlying device for inspection.
func (b *SoftwareBackend) Software() *software.Device { return b.device }

// Close is a no-op; the software device holds only host memory.
func (b *SoftwareBackend) Close() {}

// HALBackend runs on the first adapter of a gogpu/wgpu hal backend.
type HALBackend struct {
	name      string
	instance  hal.Instance
	halDevice hal.Device
	device    *wgpu.Device
}

// NewNoopBackend opens the hal noop backend, which completes every
// submission immediately and executes nothing.
func NewNoopBackend() (*HALBackend, error) {
	return NewHALBackend(BackendNoop, noop.API{})
}

// NewHALSoftwareBackend opens the hal software backend, which executes
// copies on the CPU.
func NewHALSoftwareBackend() (*HALBackend, error) {
	return NewHALBackend(BackendHALSoftware, halsoftware.API{})
}

// NewHALBackend opens the first adapter of api under name.
func NewHALBackend(name string, api hal.Backend) (*HALBackend, error) {
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("backend: create %s instance: %w", name, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("backend: %s: %w", name, ErrBackendNotAvailable)
	}
	limits := gputypes.DefaultLimits()
	open, err := adapters[0].Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("backend: open %s device: %w", name, err)
	}
	return &HALBackend{
		name:      name,
		instance:  instance,
		halDevice: open.Device,
		device:    wgpu.New(open.Device, open.Queue, &limits),
	}, nil
}

// Name returns the name the backend was opened under.
func (b *HALBackend) Name() string { return b.name }

// Device returns the wgpu adapter over the hal device.
func (b *HALBackend) Device() gpucore.Device { return b.device }

// Queue returns the wgpu adapter, which is also the queue.
func (b *HALBackend) Queue() gpucore.Queue { return b.device }

// Close destroys the hal device and instance.
func (b *HALBackend) Close() {
	b.halDevice.Destroy()
	b.instance.Destroy()
}

var (
	_ Backend = (*SoftwareBackend)(nil)
	_ Backend = (*HALBackend)(nil)
)
