// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package submit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/ringq/gpucore"
)

// Work is a unit of work being recorded.
type Work struct {
	// Cmd is the command buffer to record into.
	Cmd gpucore.CommandBufferID
	// Seq is the counter value reached once Cmd has executed.
	Seq uint64
}

// HandleStats describes a handle's command buffer pool.
type HandleStats struct {
	// Allocated is the number of command buffers allocated from the pool.
	Allocated int
	// Spare is the number of command buffers ready for reuse.
	Spare int
	// InFlight is the number of ended items not yet known to be complete.
	InFlight int
	// Recording is the number of begun items neither ended nor reset.
	Recording int
}

// Handle is a producer's recording context. It is not safe for
// concurrent use; give each producer goroutine its own handle.
type Handle struct {
	s    *shared
	pool gpucore.CommandPoolID

	spare     []gpucore.CommandBufferID
	inflight  []Work
	recording []Work
	allocated int
	warned    bool
	released  bool
}

func newHandle(s *shared) (*Handle, error) {
	pool, err := s.dev.CreateCommandPool(s.family)
	if err != nil {
		return nil, fmt.Errorf("submit: create command pool: %w", err)
	}
	h := &Handle{s: s, pool: pool}
	if err := h.grow(); err != nil {
		s.dev.DestroyCommandPool(pool)
		return nil, err
	}
	return h, nil
}

// Handle mints an independent handle on the same queue.
func (h *Handle) Handle() (*Handle, error) {
	h.checkLive()
	nh, err := newHandle(h.s)
	if err != nil {
		return nil, err
	}
	h.s.acquire()
	return nh, nil
}

func (h *Handle) checkLive() {
	if h.released {
		panic("submit: use of released handle")
	}
}

func (h *Handle) grow() error {
	cmds, err := h.s.dev.AllocateCommandBuffers(h.pool, h.s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("submit: allocate command buffers: %w", err)
	}
	h.spare = append(h.spare, cmds...)
	h.allocated += len(cmds)
	if h.allocated > h.s.cfg.GrowthWarnThreshold && !h.warned {
		h.warned = true
		slogger().Warn("submit: command buffer pool keeps growing",
			"queue", h.s.cfg.Label, "allocated", h.allocated, "inFlight", len(h.inflight))
	}
	return nil
}

// reclaim moves completed in-flight buffers back to the free list.
func (h *Handle) reclaim() error {
	if len(h.inflight) == 0 {
		return nil
	}
	complete, err := h.s.dev.CounterValue(h.s.counter)
	if err != nil {
		return fmt.Errorf("submit: read counter: %w", err)
	}
	n := 0
	for n < len(h.inflight) && h.inflight[n].Seq <= complete {
		h.spare = append(h.spare, h.inflight[n].Cmd)
		n++
	}
	h.inflight = slices.Delete(h.inflight, 0, n)
	return nil
}

func (h *Handle) takeSpare() (gpucore.CommandBufferID, error) {
	if len(h.spare) == 0 {
		if err := h.reclaim(); err != nil {
			return gpucore.InvalidID, err
		}
	}
	if len(h.spare) == 0 {
		if err := h.grow(); err != nil {
			return gpucore.InvalidID, err
		}
	}
	cmd := h.spare[len(h.spare)-1]
	h.spare = h.spare[:len(h.spare)-1]
	return cmd, nil
}

// Begin starts recording a new unit of work and assigns its sequence
// number. The work must be passed to End or Reset promptly: until then
// every higher sequence number is held back.
func (h *Handle) Begin() (Work, error) {
	h.checkLive()
	if h.s.isClosed() {
		return Work{}, ErrDead
	}
	cmd, err := h.takeSpare()
	if err != nil {
		return Work{}, err
	}
	if err := h.s.dev.BeginCommandBuffer(cmd); err != nil {
		h.spare = append(h.spare, cmd)
		return Work{}, fmt.Errorf("submit: begin: %w", err)
	}
	// Allocate the number last: once allocated it must reach the queue.
	w := Work{Cmd: cmd, Seq: h.s.allocate()}
	h.recording = append(h.recording, w)
	return w, nil
}

func (h *Handle) finish(w Work) {
	i := slices.Index(h.recording, w)
	if i < 0 {
		panic(fmt.Sprintf("submit: work %d is not recording on this handle", w.Seq))
	}
	h.recording = slices.Delete(h.recording, i, i+1)
}

// End finishes recording w and hands it to the queue for submission. After
// Queue.Close the work is discarded instead and ErrDead is returned.
func (h *Handle) End(w Work) error {
	h.checkLive()
	if h.s.isClosed() {
		return h.discard(w, ErrDead)
	}
	if err := h.s.dev.EndCommandBuffer(w.Cmd); err != nil {
		return h.discard(w, fmt.Errorf("submit: end: %w", err))
	}
	h.finish(w)
	h.inflight = append(h.inflight, w)
	h.s.post(message{kind: msgExecute, seq: w.Seq, cmd: w.Cmd})
	return nil
}

// Reset discards whatever was recorded into w. Nothing executes, but the
// sequence number still reaches the queue so later work is not stalled.
func (h *Handle) Reset(w Work) error {
	h.checkLive()
	return h.discard(w, nil)
}

func (h *Handle) discard(w Work, cause error) error {
	h.finish(w)
	h.s.post(message{kind: msgReset, seq: w.Seq})
	// The buffer stays in the pool; the next Begin re-records it.
	h.spare = append(h.spare, w.Cmd)
	if err := h.s.dev.ResetCommandBuffer(w.Cmd); err != nil {
		slogger().Warn("submit: reset failed", "queue", h.s.cfg.Label, "seq", w.Seq, "err", err)
		return errors.Join(cause, fmt.Errorf("submit: reset: %w", err))
	}
	return cause
}

// Release discards unfinished recordings, waits for the handle's submitted
// work to complete, destroys its command pool and drops its reference to
// the queue. The queue must keep being driven while Release waits. When
// the last reference is dropped, Drive reports ErrDisconnected.
func (h *Handle) Release() error {
	h.checkLive()
	var firstErr error
	for len(h.recording) > 0 {
		if err := h.discard(h.recording[0], nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	var last uint64
	for _, w := range h.inflight {
		last = max(last, w.Seq)
	}
	if last > 0 {
		ids := []gpucore.CounterID{h.s.counter}
		if _, err := h.s.dev.WaitCounters(ids, []uint64{last}, false, gpucore.Forever); err != nil {
			slogger().Warn("submit: release wait failed", "queue", h.s.cfg.Label, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("submit: release: %w", err)
			}
		}
	}
	h.s.dev.DestroyCommandPool(h.pool)
	h.released = true
	h.spare = nil
	h.inflight = nil
	h.s.release()
	return firstErr
}

// Counter returns the queue's timeline counter.
func (h *Handle) Counter() gpucore.CounterID { return h.s.counter }

// Stats returns a snapshot of the handle's pool.
func (h *Handle) Stats() HandleStats {
	return HandleStats{
		Allocated: h.allocated,
		Spare:     len(h.spare),
		InFlight:  len(h.inflight),
		Recording: len(h.recording),
	}
}
