// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu binds the ringq device abstraction to gogpu/wgpu's hardware
// abstraction layer.
//
// A [Device] wraps a hal.Device and hal.Queue and implements both
// gpucore.Device and gpucore.Queue:
//
//   - Counters are host-side timelines. Each submitted value is tied to the
//     submission index returned by hal.Queue.Submit and completes once
//     Queue.PollCompleted passes it. Values signaled from the host apply
//     immediately.
//   - Command buffers are recording slots: each BeginCommandBuffer opens a
//     fresh command encoder and EndCommandBuffer keeps the encoded
//     hal.CommandBuffer until the slot is recorded again.
//   - MapBuffer maps through hal.Device.MapBuffer. FlushMapped is free for
//     coherent memory and flushes non-coherent memory through UnmapBuffer.
//     Buffers that cannot be mapped are written with [Device.WriteBuffer].
//
// Textures and texture views created elsewhere can be imported so that a
// deferred.Registry can schedule their destruction.
//
// Use [FromProvider] to share the device of a host application that
// implements gpucontext.DeviceProvider.
package wgpu
