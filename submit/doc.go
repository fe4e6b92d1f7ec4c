// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package submit serializes work from many producers onto one GPU queue.
//
// Every unit of work receives a dense, increasing sequence number when a
// producer begins recording it. The single consumer submits work strictly
// in sequence order and signals the queue's timeline counter to the last
// sequence number of each batch, so "counter >= N" means every item
// numbered N or lower has finished executing.
//
// Producers each own a [Handle], which bundles a command pool, a free list
// of recycled command buffers and a reference to the shared queue state.
// Handles are not safe for concurrent use, but any number of them may be
// used concurrently with each other and with the consumer:
//
//	q, seed, err := submit.New(dev, queue, submit.Config{})
//	h, err := seed.Handle()
//
//	// producer goroutine
//	w, err := h.Begin()
//	dev.CopyBuffer(w.Cmd, src, 0, dst, 0, n)
//	err = h.End(w) // or h.Reset(w) to abandon the work
//
//	// consumer goroutine
//	for {
//		if _, err := q.Drive(); errors.Is(err, submit.ErrDisconnected) {
//			break
//		}
//		q.Park(wake, wakeValue)
//	}
//
// A sequence number that never reaches the consumer stalls every higher
// number, so abandoned work must still be passed to Reset, which submits
// nothing but advances the queue past the number. [Queue.Run] implements
// the consumer loop for a dedicated goroutine.
package submit
