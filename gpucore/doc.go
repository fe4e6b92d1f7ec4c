// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore defines the device abstraction consumed by ringq.
//
// ringq does not create devices, record real GPU work or set up pipelines.
// It consumes a small device surface, split by concern:
//
//   - [MemoryDevice]: buffers, host mappings, and destruction of the object
//     kinds the deferred registry can retire
//   - [CounterDevice]: monotonically signaled counters, host signal and wait
//   - [CommandDevice]: pooled command buffers and a buffer copy command
//   - [Queue]: ordered submission that signals a counter value
//
//	               +-----------------+
//	               |  ringq packages |
//	               | submit, staging |
//	               +--------+--------+
//	                        | gpucore.Device / gpucore.Queue
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  wgpu adapter   |          |    software     |
//	|  (hal.Device)   |          | (host executed) |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// GPU objects are referenced by opaque IDs ([BufferID], [CounterID], etc.).
// Implementations are responsible for tracking the mapping between IDs and
// backend objects. [Kind] tags an ID with its object type so heterogeneous
// handles can share one collection.
//
// # Contract Violations
//
// Mismatched devices, queue-family mismatches and alignments beyond
// [Limits.MaxAlignment] are programmer errors. They panic at the boundary
// where they are detected; see [CheckAlignment].
package gpucore
