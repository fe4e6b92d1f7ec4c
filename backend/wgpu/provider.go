// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoHAL is returned by FromProvider when the provider does not expose
// hal types.
var ErrNoHAL = errors.New("wgpu: provider does not expose a hal device and queue")

// halProvider is implemented by providers sharing their hal objects, such
// as gogpu applications.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider wraps the device of a host application. The provider must
// implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue. The host keeps ownership of the device.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, ErrNoHAL
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, ErrNoHAL
	}
	return New(device, queue, nil), nil
}
