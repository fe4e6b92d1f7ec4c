// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/deferred"
	"github.com/gogpu/ringq/fence"
	"github.com/gogpu/ringq/gpucore"
	"github.com/gogpu/ringq/staging"
	"github.com/gogpu/ringq/submit"
)

func slogger() *slog.Logger { return ringq.Logger() }

// ErrTimeout is returned by BeginFrame when the GPU did not finish an old
// frame within Config.WaitTimeout.
var ErrTimeout = errors.New("frame: timed out waiting for an earlier frame")

const defaultDepth = 3

// Config configures a frame loop.
type Config struct {
	// Depth is the number of frames in flight. Default: 3.
	Depth int

	// StagingCapacity is the initial staging ring capacity. Default: 64 KiB.
	StagingCapacity uint64

	// ArenaCapacity is the initial capacity of each frame arena.
	// Default: 64 KiB.
	ArenaCapacity uint64

	// WaitTimeout bounds how long BeginFrame waits for an old frame.
	// Zero waits forever.
	WaitTimeout time.Duration

	// Queue configures the submission queue.
	Queue submit.Config
}

// Loop is a frame loop. BeginFrame, EndFrame and Shutdown must be called
// from one goroutine; the parts it exposes are safe for concurrent use.
type Loop struct {
	dev     gpucore.Device
	cfg     Config
	queue   *submit.Queue
	root    *submit.Handle
	reg     *deferred.Registry
	ring    *staging.Ring
	arenas  []*staging.Arena
	fences  *fence.Factory
	markers []uint64
	frame   uint64
	started bool
}

// Stats is a snapshot of a loop's progress.
type Stats struct {
	Frame     uint64
	Completed uint64
	Interred  int
	Queue     submit.Stats
}

// New creates a frame loop submitting to queue.
func New(dev gpucore.Device, queue gpucore.Queue, cfg Config) (*Loop, error) {
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDepth
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = gpucore.Forever
	}
	q, seed, err := submit.New(dev, queue, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	root, err := seed.Handle()
	if err != nil {
		seed.Release()
		q.Destroy()
		return nil, fmt.Errorf("frame: %w", err)
	}
	l := &Loop{
		dev:     dev,
		cfg:     cfg,
		queue:   q,
		root:    root,
		reg:     deferred.New(cfg.Depth),
		fences:  fence.NewFactory(dev),
		markers: make([]uint64, cfg.Depth),
	}
	l.ring, err = staging.NewRing(dev, l.reg, staging.RingConfig{Capacity: cfg.StagingCapacity})
	if err != nil {
		l.abort()
		return nil, fmt.Errorf("frame: %w", err)
	}
	for range cfg.Depth {
		a, err := staging.NewArena(dev, l.reg, staging.ArenaConfig{Capacity: cfg.ArenaCapacity})
		if err != nil {
			l.abort()
			return nil, fmt.Errorf("frame: %w", err)
		}
		l.arenas = append(l.arenas, a)
	}
	return l, nil
}

// abort tears down a partially constructed loop. Nothing was submitted.
func (l *Loop) abort() {
	for _, a := range l.arenas {
		a.Destroy()
	}
	if l.ring != nil {
		l.ring.Destroy()
	}
	if err := l.root.Release(); err != nil {
		slogger().Warn("frame: release root handle", "err", err)
	}
	l.queue.Destroy()
}

// Handle mints a producer handle. Release it before Shutdown.
func (l *Loop) Handle() (*submit.Handle, error) { return l.root.Handle() }

// Queue returns the submission queue.
func (l *Loop) Queue() *submit.Queue { return l.queue }

// Registry returns the destruction registry. Objects interred into it are
// destroyed Depth frames later.
func (l *Loop) Registry() *deferred.Registry { return l.reg }

// Staging returns the staging ring. Pass the sequence number of the work
// reading an allocation as its freeAt.
func (l *Loop) Staging() *staging.Ring { return l.ring }

// Arena returns the current frame's arena. Its allocations stay valid until
// the frame's slot comes around again, Depth frames later.
func (l *Loop) Arena() *staging.Arena { return l.arenas[l.slot()] }

// Fences returns the fence factory polled once per frame.
func (l *Loop) Fences() *fence.Factory { return l.fences }

// Completion returns a fence that completes once work with sequence number
// seq has finished.
func (l *Loop) Completion(seq uint64) *fence.Fence {
	return l.fences.Watch(l.queue.Counter(), seq)
}

// Frame returns the number of frames ended so far.
func (l *Loop) Frame() uint64 { return l.frame }

func (l *Loop) slot() int { return int(l.frame % uint64(len(l.markers))) }

// BeginFrame waits for the frame Depth frames ago, then reclaims what it
// used: interred objects are destroyed, the staging ring is ticked to the
// completed sequence number and the slot's arena is reset. Fences are
// polled last.
//
// Work submitted and objects interred before the first BeginFrame belong
// to the slot preceding frame 0 and are reclaimed Depth-1 frames later.
func (l *Loop) BeginFrame() error {
	if _, err := l.queue.Drive(); err != nil && !errors.Is(err, submit.ErrDisconnected) {
		return fmt.Errorf("frame: %w", err)
	}
	if !l.started {
		l.markers[len(l.markers)-1] = l.queue.Allocated()
		l.started = true
	}
	if marker := l.markers[l.slot()]; marker > 0 {
		ok, err := l.queue.WaitFor(marker, l.cfg.WaitTimeout)
		if err != nil {
			return fmt.Errorf("frame: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: frame %d, sequence %d", ErrTimeout, l.frame, marker)
		}
	}
	completed, err := l.queue.Completed()
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}

	destroyed := l.reg.BeginFrame(l.dev)
	l.ring.Tick(completed)
	l.arenas[l.slot()].Reset()
	woken := l.fences.Poll()
	slogger().Debug("frame: begin",
		"frame", l.frame, "completed", completed, "destroyed", destroyed, "woken", woken)
	return nil
}

// EndFrame submits the frame's work and records its marker.
func (l *Loop) EndFrame() error {
	if _, err := l.queue.Drive(); err != nil && !errors.Is(err, submit.ErrDisconnected) {
		return fmt.Errorf("frame: %w", err)
	}
	l.markers[l.slot()] = l.queue.Allocated()
	l.frame++
	return nil
}

// Stats returns a snapshot of the loop's progress.
func (l *Loop) Stats() Stats {
	completed, err := l.queue.Completed()
	if err != nil {
		slogger().Warn("frame: read completed value", "err", err)
	}
	return Stats{
		Frame:     l.frame,
		Completed: completed,
		Interred:  l.reg.Len(),
		Queue:     l.queue.Stats(),
	}
}

// Shutdown closes the queue, submits what is left, waits for the GPU and
// destroys everything the loop owns, including objects still interred.
// Every handle minted by Handle must have been released.
func (l *Loop) Shutdown() error {
	l.queue.Close()
	if err := l.root.Release(); err != nil {
		return fmt.Errorf("frame: shutdown: %w", err)
	}
	for {
		n, err := l.queue.Drive()
		if errors.Is(err, submit.ErrDisconnected) {
			break
		}
		if err != nil {
			return fmt.Errorf("frame: shutdown: %w", err)
		}
		if n == 0 {
			// Sequence numbers are held by handles that were never released.
			slogger().Warn("frame: shutdown with live handles", "pending", l.queue.Stats().Pending)
			break
		}
	}
	if err := l.queue.Drain(); err != nil {
		return fmt.Errorf("frame: shutdown: %w", err)
	}
	l.fences.Poll()
	cleared := l.reg.Clear(l.dev)
	l.ring.Destroy()
	for _, a := range l.arenas {
		a.Destroy()
	}
	l.queue.Destroy()
	slogger().Info("frame: shut down", "frames", l.frame, "destroyed", cleared)
	return nil
}
