// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package frame runs the per-frame housekeeping that ties the lifecycle
// pieces together.
//
// A [Loop] owns a submission queue, a destruction registry, a staging ring,
// one staging arena per frame in flight and a fence factory. Each frame:
//
//	loop.BeginFrame()  // wait for the frame Depth frames ago, reclaim
//	... producers Begin/End work, allocate staging memory, inter objects ...
//	loop.EndFrame()    // submit and record the frame's marker
//
// BeginFrame blocks until every sequence number allocated by the end of
// the frame Depth frames ago has completed on the GPU. Only then are the
// objects interred during that frame destroyed and its arena reset. Work
// begun in a frame must be ended or reset before that frame is waited on.
package frame
