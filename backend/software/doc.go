// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software provides an in-memory implementation of the gpucore
// device and queue interfaces.
//
// Buffers are plain byte slices, counters are host integers and recorded
// copies are executed when a submission retires. The device is meant for
// tests and for running ringq without a GPU:
//
//	dev, queue := software.New(software.Config{})
//
// In the default mode a submission executes and signals its counter inside
// Queue.Submit. With Config.Manual set, submissions stay in flight until the
// test retires them with Queue.Retire or Queue.RetireAll, always in
// submission order, which makes GPU latency observable and deterministic.
//
// Contract violations that would be undefined behavior on a real device
// panic: destroying an object twice, submitting a command buffer to a queue
// of another family, or signaling a counter backwards.
package software
