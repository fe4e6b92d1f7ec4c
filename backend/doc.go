// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects the device a ringq frame loop runs on.
//
// Backends are registered by name and created on demand:
//
//	b, err := backend.Get("noop")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	loop, err := frame.New(b.Device(), b.Queue(), frame.Config{})
//
// # Available Backends
//
//   - "software": in-memory device that executes copies on the host (always available)
//   - "halsoftware": gogpu/wgpu hal CPU device behind the wgpu adapter
//   - "noop": gogpu/wgpu hal noop device behind the wgpu adapter
package backend
