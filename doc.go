// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package ringq is a resource-lifecycle core for asynchronous GPU command
// submission.
//
// # Overview
//
// Producer goroutines allocate short-lived host-visible memory, hand it to
// GPU work that executes out of band, and reclaim that memory (and other GPU
// object handles) only once the GPU has provably finished with it. Nothing on
// the allocation path waits for the GPU.
//
// # Architecture
//
// The module is organized leaf to root:
//   - ring: circular sub-allocators over a fixed capacity (State, Timeline,
//     Log, LogTimeline) plus a bump Arena. Pure bookkeeping, no device calls.
//   - submit: an ordered multi-producer submission queue. Every accepted unit
//     of work gets a dense sequence number, and the queue's timeline counter
//     reaching N means everything numbered N or lower has finished.
//   - deferred: a frame-latency registry that batches handle destruction.
//   - fence: a manually polled reactor for waiting on GPU completion without
//     a dedicated goroutine.
//   - staging: host-visible staging memory built from the pieces above.
//   - frame: a per-frame loop tying the queue counter to the registry.
//
// Devices are consumed through the interfaces in gpucore. Two bindings are
// provided: backend/software executes submissions on the host (used by the
// tests and the demo) and backend/wgpu binds github.com/gogpu/wgpu/hal.
//
// # Quick Start
//
//	dev, q := software.New(software.Config{})
//	queue, seed, _ := submit.New(dev, q, submit.Config{})
//	h, _ := seed.Handle()
//	w, _ := h.Begin()
//	// record into w.Cmd ...
//	_ = h.End(w)
//	_, _ = queue.Drive()
//	_ = queue.Drain()
//
// # Logging
//
// ringq produces no log output by default. Call [SetLogger] to enable it.
package ringq
