// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"time"

	"github.com/gogpu/ringq/gpucore"
)

// pollInterval bounds how long a wait sleeps between PollCompleted checks.
const pollInterval = time.Millisecond

// signal ties a counter value to the hal submission that reaches it.
type signal struct {
	value uint64
	index uint64
}

// counter is a host-side timeline. Submitted values complete when the
// queue's PollCompleted passes their submission index.
type counter struct {
	// host is the highest value signaled from the host.
	host uint64
	// completed is the highest submitted value known to be complete.
	completed uint64
	// pending holds submitted values not yet complete, ascending in both
	// value and index.
	pending []signal
}

// CreateCounter creates a counter with value zero.
func (d *Device) CreateCounter() (gpucore.CounterID, error) {
	id := gpucore.CounterID(d.newID())
	d.mu.Lock()
	d.counters[id] = &counter{}
	d.mu.Unlock()
	return id, nil
}

// DestroyCounter releases the counter and wakes its waiters.
func (d *Device) DestroyCounter(id gpucore.CounterID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.counters[id]; !ok {
		panic(fmt.Sprintf("wgpu: destroy of unknown counter %d", id))
	}
	delete(d.counters, id)
	d.cond.Broadcast()
}

// completedLocked returns the highest hal submission index known to be
// complete.
func (d *Device) completedLocked() uint64 {
	return d.queue.PollCompleted()
}

// valueLocked retires the pending signals whose submissions completed.
func (d *Device) valueLocked(c *counter) uint64 {
	if len(c.pending) > 0 {
		done := d.completedLocked()
		n := 0
		for n < len(c.pending) && c.pending[n].index <= done {
			c.completed = c.pending[n].value
			n++
		}
		c.pending = c.pending[n:]
	}
	return max(c.completed, c.host)
}

// signalLocked records that c reaches value once submission index
// completes. Index 0 means no submission is outstanding.
func (d *Device) signalLocked(c *counter, value, index uint64) {
	if index == 0 || index <= d.completedLocked() && len(c.pending) == 0 {
		c.completed = max(c.completed, value)
		return
	}
	c.pending = append(c.pending, signal{value: value, index: index})
}

// CounterValue returns the counter's current value.
func (d *Device) CounterValue(id gpucore.CounterID) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[id]
	if !ok {
		return 0, ErrUnknownCounter
	}
	return d.valueLocked(c), nil
}

// SignalCounter sets the counter to value from the host.
func (d *Device) SignalCounter(id gpucore.CounterID, value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.counters[id]
	if !ok {
		return ErrUnknownCounter
	}
	if cur := d.valueLocked(c); value <= cur {
		return fmt.Errorf("wgpu: signal counter %d to %d, already at %d", id, value, cur)
	}
	c.host = value
	d.cond.Broadcast()
	return nil
}

// WaitCounters blocks until the counters reach their values. hal reports
// GPU progress only through PollCompleted, so waiters sleep until a host
// signal or submission wakes them and re-check every millisecond.
func (d *Device) WaitCounters(ids []gpucore.CounterID, values []uint64, waitAny bool, timeout time.Duration) (bool, error) {
	if len(ids) != len(values) {
		panic("wgpu: WaitCounters with mismatched ids and values")
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		done, err := d.reachedLocked(ids, values, waitAny)
		if err != nil || done {
			return done, err
		}
		if timeout == 0 {
			return false, nil
		}
		slice := pollInterval
		if timeout > 0 {
			left := time.Until(deadline)
			if left <= 0 {
				return false, nil
			}
			slice = min(slice, left)
		}
		t := time.AfterFunc(slice, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.cond.Broadcast()
		})
		d.cond.Wait()
		t.Stop()
	}
}

func (d *Device) reachedLocked(ids []gpucore.CounterID, values []uint64, waitAny bool) (bool, error) {
	for i, id := range ids {
		c, ok := d.counters[id]
		if !ok {
			return false, ErrUnknownCounter
		}
		reached := d.valueLocked(c) >= values[i]
		if waitAny && reached {
			return true, nil
		}
		if !waitAny && !reached {
			return false, nil
		}
	}
	return !waitAny, nil
}
