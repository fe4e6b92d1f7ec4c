// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fence turns GPU counter values into completion notifications.
//
// GPU completion raises no event the host can select on, so waiting
// fences are not woken by the device. Instead a [Factory] keeps the fences
// that have waiters, and its Poll method, called regularly by the frame
// loop, checks each of them without blocking and wakes those that have
// been signaled:
//
//	f, err := factory.Get()
//	queue.Submit(cmds, f.Counter(), f.Value())
//	f.Submitted()
//
//	go func() {
//		<-f.Done()
//		// the GPU has finished
//	}()
//
//	for { // frame loop
//		factory.Poll()
//	}
//
// Block waits on the device directly instead and needs no polling.
package fence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/gpucore"
)

func slogger() *slog.Logger { return ringq.Logger() }

// ErrNotSubmitted is returned by Block when the timeout elapses before
// Submitted is called.
var ErrNotSubmitted = errors.New("fence: not submitted")

// Factory creates fences and wakes their waiters. It is safe for
// concurrent use.
type Factory struct {
	dev gpucore.CounterDevice

	mu      sync.Mutex
	waiting []*Fence
}

// NewFactory creates a factory for fences on dev.
func NewFactory(dev gpucore.CounterDevice) *Factory {
	return &Factory{dev: dev}
}

// Get creates a fence backed by a new counter. Submit work signaling
// Counter() to Value(), then call Submitted.
func (fa *Factory) Get() (*Fence, error) {
	c, err := fa.dev.CreateCounter()
	if err != nil {
		return nil, fmt.Errorf("fence: create counter: %w", err)
	}
	f := newFence(fa, c, 1)
	f.owned = true
	return f, nil
}

// Watch returns an already submitted fence for value on an existing
// counter, such as a submission sequence number on the queue counter.
func (fa *Factory) Watch(counter gpucore.CounterID, value uint64) *Fence {
	f := newFence(fa, counter, value)
	f.Submitted()
	return f
}

func newFence(fa *Factory, counter gpucore.CounterID, value uint64) *Fence {
	return &Fence{
		fa:          fa,
		counter:     counter,
		value:       value,
		submittedCh: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Poll checks every fence that has a waiter and wakes those signaled.
// It never blocks on the device and returns the number of fences woken.
func (fa *Factory) Poll() int {
	fa.mu.Lock()
	due := fa.collectLocked()
	fa.mu.Unlock()

	for _, f := range due {
		f.markDone()
	}
	return len(due)
}

func (fa *Factory) collectLocked() []*Fence {
	if len(fa.waiting) == 0 {
		return nil
	}
	ids := make([]gpucore.CounterID, len(fa.waiting))
	values := make([]uint64, len(fa.waiting))
	for i, f := range fa.waiting {
		ids[i], values[i] = f.counter, f.value
	}
	some, err := fa.dev.WaitCounters(ids, values, true, 0)
	if err != nil {
		slogger().Warn("fence: poll failed", "err", err)
		return nil
	}
	if !some {
		return nil
	}

	var due []*Fence
	kept := fa.waiting[:0]
	for _, f := range fa.waiting {
		if v, err := fa.dev.CounterValue(f.counter); err == nil && v >= f.value {
			due = append(due, f)
			continue
		}
		kept = append(kept, f)
	}
	clear(fa.waiting[len(kept):])
	fa.waiting = kept
	return due
}

// Waiting returns the number of fences with registered waiters.
func (fa *Factory) Waiting() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.waiting)
}

func (fa *Factory) register(f *Fence) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.waiting = append(fa.waiting, f)
}

func (fa *Factory) unregister(f *Fence) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	for i, w := range fa.waiting {
		if w == f {
			fa.waiting = append(fa.waiting[:i], fa.waiting[i+1:]...)
			return
		}
	}
}

// Fence is a counter value that some submitted work will signal.
type Fence struct {
	fa      *Factory
	counter gpucore.CounterID
	value   uint64
	owned   bool

	mu          sync.Mutex
	submitted   bool
	wantWake    bool
	registered  bool
	signaled    bool
	released    bool
	submittedCh chan struct{}
	done        chan struct{}
}

// Counter returns the counter the work must signal.
func (f *Fence) Counter() gpucore.CounterID { return f.counter }

// Value returns the value the work must signal the counter to.
func (f *Fence) Value() uint64 { return f.value }

// Submitted declares that work signaling the fence has been submitted.
// Waiting on the device is only defined after this call.
func (f *Fence) Submitted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitted {
		return
	}
	f.submitted = true
	close(f.submittedCh)
	if f.wantWake && !f.signaled {
		f.registered = true
		f.fa.register(f)
	}
}

// Signaled reports whether the fence has been signaled.
func (f *Fence) Signaled() bool {
	f.mu.Lock()
	if f.signaled {
		f.mu.Unlock()
		return true
	}
	submitted := f.submitted
	f.mu.Unlock()
	if !submitted {
		return false
	}
	v, err := f.fa.dev.CounterValue(f.counter)
	return err == nil && v >= f.value
}

// Block waits on the device until the fence is signaled or timeout
// elapses, returning false on timeout. If the fence is not submitted
// within timeout, Block returns ErrNotSubmitted.
func (f *Fence) Block(timeout time.Duration) (bool, error) {
	start := time.Now()
	switch {
	case timeout < 0:
		<-f.submittedCh
	case timeout == 0:
		select {
		case <-f.submittedCh:
		default:
			return false, ErrNotSubmitted
		}
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-f.submittedCh:
		case <-t.C:
			return false, ErrNotSubmitted
		}
	}

	remaining := timeout
	if timeout > 0 {
		remaining = max(timeout-time.Since(start), 0)
	}
	ok, err := f.fa.dev.WaitCounters([]gpucore.CounterID{f.counter}, []uint64{f.value}, false, remaining)
	if err != nil {
		return false, fmt.Errorf("fence: block: %w", err)
	}
	return ok, nil
}

// Done returns a channel closed once Factory.Poll observes the fence
// signaled. Calling it registers the fence with its factory.
func (f *Fence) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled || f.wantWake {
		return f.done
	}
	f.wantWake = true
	if f.submitted {
		f.registered = true
		f.fa.register(f)
	}
	return f.done
}

// Wait blocks until Factory.Poll observes the fence signaled or ctx is
// done.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fence) markDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return
	}
	f.signaled = true
	f.registered = false
	close(f.done)
}

// Release stops tracking the fence and destroys its counter if the
// factory created it. The work signaling the fence must have completed.
func (f *Fence) Release() {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	registered := f.registered
	f.registered = false
	f.mu.Unlock()

	if registered {
		f.fa.unregister(f)
	}
	if f.owned {
		f.fa.dev.DestroyCounter(f.counter)
	}
}
