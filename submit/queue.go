// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package submit

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/ringq/gpucore"
)

// Errors returned by the submission queue.
var (
	// ErrDead is returned by Handle methods after Queue.Close. The work was
	// discarded; the caller should stop recording.
	ErrDead = errors.New("submit: queue is shutting down")

	// ErrDisconnected is returned by Queue.Drive once every handle has been
	// released and all of their work has been submitted.
	ErrDisconnected = errors.New("submit: all handles released")
)

const (
	defaultBatchSize           = 32
	defaultGrowthWarnThreshold = 1024
)

// Config configures a submission queue.
type Config struct {
	// BatchSize is how many command buffers a handle allocates at a time.
	// Default: 32.
	BatchSize int

	// GrowthWarnThreshold is the number of command buffers a single handle
	// may allocate before a warning is logged. Steady growth past it usually
	// means work is submitted faster than it retires. Default: 1024.
	GrowthWarnThreshold int

	// Label identifies the queue in log output.
	Label string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.GrowthWarnThreshold <= 0 {
		c.GrowthWarnThreshold = defaultGrowthWarnThreshold
	}
	return c
}

// shared is the state referenced by the queue and every handle.
type shared struct {
	dev    gpucore.Device
	family uint32
	cfg    Config

	// counter is signaled by the GPU as batches complete.
	counter gpucore.CounterID
	// avail is a host counter bumped whenever a message is posted or the
	// last handle is released, so a parked consumer wakes up.
	avail gpucore.CounterID

	// firstUnallocated is the next sequence number to hand out.
	firstUnallocated atomic.Uint64

	mu     sync.Mutex
	inbox  []message
	posted uint64
	refs   int
	closed bool
}

func (s *shared) allocate() uint64 {
	return s.firstUnallocated.Add(1) - 1
}

// post delivers a message to the consumer.
func (s *shared) post(m message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, m)
	s.wakeLocked()
}

func (s *shared) wakeLocked() {
	s.posted++
	if err := s.dev.SignalCounter(s.avail, s.posted); err != nil {
		slogger().Warn("submit: wake signal failed", "queue", s.cfg.Label, "err", err)
	}
}

func (s *shared) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *shared) acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}

func (s *shared) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs < 0 {
		panic("submit: handle reference count went negative")
	}
	if s.refs == 0 {
		s.wakeLocked()
	}
}

// Queue is the consumer side of a submission queue. Its methods must be
// called from a single goroutine at a time; Stats and Completed may be
// called from anywhere.
type Queue struct {
	s     *shared
	queue gpucore.Queue

	mu sync.Mutex
	// firstUnsubmitted is the lowest sequence number not yet submitted.
	firstUnsubmitted uint64
	// firstUnsignaled is the lowest value the counter is not known to have
	// reached.
	firstUnsignaled uint64
	pending         messageHeap
	batches         int
	resets          uint64
}

// Seed mints the first handle of a queue.
type Seed struct {
	s    *shared
	used bool
}

// Stats describes the consumer's progress.
type Stats struct {
	// Allocated is the number of sequence numbers handed to producers.
	Allocated uint64
	// Submitted is the highest sequence number submitted to the GPU.
	Submitted uint64
	// Pending is the number of received items waiting for a lower
	// sequence number.
	Pending int
	// Batches is the number of GPU submissions issued.
	Batches int
	// Resets is the number of discarded items passed over.
	Resets uint64
}

// New creates a queue submitting to queue and the seed for its handles.
func New(dev gpucore.Device, queue gpucore.Queue, cfg Config) (*Queue, *Seed, error) {
	cfg = cfg.withDefaults()
	counter, err := dev.CreateCounter()
	if err != nil {
		return nil, nil, fmt.Errorf("submit: create counter: %w", err)
	}
	avail, err := dev.CreateCounter()
	if err != nil {
		dev.DestroyCounter(counter)
		return nil, nil, fmt.Errorf("submit: create wake counter: %w", err)
	}
	s := &shared{
		dev:     dev,
		family:  queue.Family(),
		cfg:     cfg,
		counter: counter,
		avail:   avail,
		refs:    1,
	}
	s.firstUnallocated.Store(1)
	q := &Queue{
		s:                s,
		queue:            queue,
		firstUnsubmitted: 1,
		firstUnsignaled:  1,
	}
	return q, &Seed{s: s}, nil
}

// Handle turns the seed into the queue's first handle. A seed can be used
// once; mint further handles from the returned one.
func (sd *Seed) Handle() (*Handle, error) {
	if sd.used {
		panic("submit: seed already used")
	}
	h, err := newHandle(sd.s)
	if err != nil {
		return nil, err
	}
	sd.used = true
	return h, nil
}

// Release drops an unused seed. It is a no-op once Handle has succeeded.
func (sd *Seed) Release() {
	if sd.used {
		return
	}
	sd.used = true
	sd.s.release()
}

// Counter returns the timeline counter signaled as work completes.
func (q *Queue) Counter() gpucore.CounterID { return q.s.counter }

// Wake returns the host counter bumped whenever work arrives. Pass it to
// Park together with a value above its current one to sleep until either
// new work arrives or submitted work completes.
func (q *Queue) Wake() gpucore.CounterID { return q.s.avail }

// Drive submits the longest run of received work that continues the
// sequence, as one GPU batch. It returns the number of items passed over,
// including discarded ones, and ErrDisconnected once all handles are gone
// and nothing is left to submit. When the GPU submit fails the run stays
// pending.
func (q *Queue) Drive() (int, error) {
	s := q.s
	s.mu.Lock()
	inbox := s.inbox
	s.inbox = nil
	disconnected := s.refs == 0
	s.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range inbox {
		heap.Push(&q.pending, m)
	}

	var (
		cmds   []gpucore.CommandBufferID
		run    []message
		resets uint64
	)
	for q.pending.Len() > 0 && q.pending[0].seq == q.firstUnsubmitted {
		m := heap.Pop(&q.pending).(message)
		if m.kind == msgExecute {
			cmds = append(cmds, m.cmd)
		} else {
			resets++
		}
		run = append(run, m)
		q.firstUnsubmitted++
	}
	n := len(run)
	if n == 0 {
		if disconnected && q.pending.Len() == 0 {
			return 0, ErrDisconnected
		}
		return 0, nil
	}

	// A run of only discarded items still signals, so the counter keeps
	// reaching every allocated number.
	value := q.firstUnsubmitted - 1
	if err := q.queue.Submit(cmds, s.counter, value); err != nil {
		// Nothing was submitted; the next Drive retries the run.
		for _, m := range run {
			heap.Push(&q.pending, m)
		}
		q.firstUnsubmitted -= uint64(n)
		return 0, fmt.Errorf("submit: drive: %w", err)
	}
	q.resets += resets
	q.batches++
	slogger().Debug("submit: batch submitted",
		"queue", s.cfg.Label, "items", n, "commands", len(cmds), "value", value)
	return n, nil
}

// Park blocks until the counter passes the last value Park observed or
// wake reaches wakeValue, and returns the counter's current value.
func (q *Queue) Park(wake gpucore.CounterID, wakeValue uint64) (uint64, error) {
	q.mu.Lock()
	target := q.firstUnsignaled
	q.mu.Unlock()

	ids := []gpucore.CounterID{q.s.counter, wake}
	values := []uint64{target, wakeValue}
	if _, err := q.s.dev.WaitCounters(ids, values, true, gpucore.Forever); err != nil {
		return 0, fmt.Errorf("submit: park: %w", err)
	}
	complete, err := q.s.dev.CounterValue(q.s.counter)
	if err != nil {
		return 0, fmt.Errorf("submit: park: %w", err)
	}
	q.mu.Lock()
	q.firstUnsignaled = max(q.firstUnsignaled, complete+1)
	q.mu.Unlock()
	return complete, nil
}

// Drain blocks until all submitted work has completed. Work received but
// not yet submitted is not waited for.
func (q *Queue) Drain() error {
	q.mu.Lock()
	last := q.firstUnsubmitted - 1
	q.mu.Unlock()
	if last == 0 {
		return nil
	}
	ids := []gpucore.CounterID{q.s.counter}
	if _, err := q.s.dev.WaitCounters(ids, []uint64{last}, false, gpucore.Forever); err != nil {
		return fmt.Errorf("submit: drain: %w", err)
	}
	q.mu.Lock()
	q.firstUnsignaled = max(q.firstUnsignaled, last+1)
	q.mu.Unlock()
	return nil
}

// WaitFor blocks until the counter reaches value or timeout elapses.
func (q *Queue) WaitFor(value uint64, timeout time.Duration) (bool, error) {
	ok, err := q.s.dev.WaitCounters([]gpucore.CounterID{q.s.counter}, []uint64{value}, false, timeout)
	if err != nil {
		return false, fmt.Errorf("submit: wait for %d: %w", value, err)
	}
	return ok, nil
}

// Completed returns the highest sequence number known to have finished.
func (q *Queue) Completed() (uint64, error) {
	v, err := q.s.dev.CounterValue(q.s.counter)
	if err != nil {
		return 0, fmt.Errorf("submit: completed: %w", err)
	}
	return v, nil
}

// Allocated returns the highest sequence number handed out so far.
func (q *Queue) Allocated() uint64 { return q.s.firstUnallocated.Load() - 1 }

// Close makes Handle.Begin and Handle.End fail with ErrDead. Work that
// was already received is still submitted by Drive.
func (q *Queue) Close() {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if q.s.closed {
		return
	}
	q.s.closed = true
	slogger().Info("submit: queue closed", "queue", q.s.cfg.Label)
}

// Destroy releases the queue's counters. All submitted work must have
// completed, as established by Drain, and no handle may use the queue
// afterwards.
func (q *Queue) Destroy() {
	q.Close()
	q.s.dev.DestroyCounter(q.s.counter)
	q.s.dev.DestroyCounter(q.s.avail)
}

// Stats returns a snapshot of the consumer's progress.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Allocated: q.Allocated(),
		Submitted: q.firstUnsubmitted - 1,
		Pending:   q.pending.Len(),
		Batches:   q.batches,
		Resets:    q.resets,
	}
}

// Run drives the queue until every handle is released, parking between
// rounds. It returns nil on disconnect and ctx.Err() if ctx is canceled
// first. Run is meant for a dedicated goroutine.
func (q *Queue) Run(ctx context.Context) error {
	s := q.s
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.wakeLocked()
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		seen := s.posted
		s.mu.Unlock()

		n, err := q.Drive()
		if errors.Is(err, ErrDisconnected) {
			slogger().Info("submit: driver exiting, all handles released", "queue", s.cfg.Label)
			return nil
		}
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := q.Park(s.avail, seen+1); err != nil {
			return err
		}
	}
}
