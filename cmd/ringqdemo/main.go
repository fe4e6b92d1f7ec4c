// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command ringqdemo runs a frame loop with concurrent producers uploading
// through the staging ring.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/ringq"
	"github.com/gogpu/ringq/backend"
	"github.com/gogpu/ringq/deferred"
	"github.com/gogpu/ringq/frame"
	"github.com/gogpu/ringq/gpucore"
	"github.com/gogpu/ringq/submit"
)

const uploadSize = 256

func main() {
	var (
		name      = flag.String("backend", "", "backend name (default: best available)")
		producers = flag.Int("producers", 4, "concurrent producers per frame")
		frames    = flag.Int("frames", 120, "frames to run")
		depth     = flag.Int("depth", 3, "frames in flight")
		stagingSz = flag.Uint64("staging", 16<<10, "initial staging ring capacity in bytes")
		verbose   = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if *verbose {
		ringq.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if *producers < 1 {
		log.Fatalf("producers must be at least 1, got %d", *producers)
	}

	b, err := openBackend(*name)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer b.Close()

	start := time.Now()
	stats, err := run(b, *producers, *frames, frame.Config{Depth: *depth, StagingCapacity: *stagingSz})
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("backend:    %s\n", b.Name())
	fmt.Printf("frames:     %d (%.1f/s)\n", stats.Frame, float64(stats.Frame)/elapsed.Seconds())
	fmt.Printf("completed:  %d\n", stats.Completed)
	fmt.Printf("submitted:  %d in %d batches\n", stats.Queue.Submitted, stats.Queue.Batches)
	fmt.Printf("uploaded:   %d bytes\n", stats.Completed*uploadSize)
}

func openBackend(name string) (backend.Backend, error) {
	if name == "" {
		return backend.Default()
	}
	return backend.Get(name)
}

func run(b backend.Backend, producers, frames int, cfg frame.Config) (frame.Stats, error) {
	dev := b.Device()
	loop, err := frame.New(dev, b.Queue(), cfg)
	if err != nil {
		return frame.Stats{}, err
	}

	handles := make([]*submit.Handle, producers)
	targets := make([]gpucore.BufferID, producers)
	for i := range handles {
		if handles[i], err = loop.Handle(); err != nil {
			return frame.Stats{}, err
		}
		if targets[i], err = dev.CreateBuffer(uploadSize, gpucore.UsageReadback); err != nil {
			return frame.Stats{}, err
		}
	}

	for f := range frames {
		if err := loop.BeginFrame(); err != nil {
			return frame.Stats{}, err
		}
		var g errgroup.Group
		for i, h := range handles {
			g.Go(func() error { return produce(loop, dev, h, targets[i], byte(f+i)) })
		}
		if err := g.Wait(); err != nil {
			return frame.Stats{}, err
		}
		if err := loop.EndFrame(); err != nil {
			return frame.Stats{}, err
		}
	}

	for _, h := range handles {
		if err := h.Release(); err != nil {
			return frame.Stats{}, err
		}
	}
	stats := loop.Stats()
	for _, t := range targets {
		loop.Registry().Inter(deferred.Buffer(t))
	}
	return stats, loop.Shutdown()
}

// produce records one upload of uploadSize bytes into dst.
func produce(loop *frame.Loop, dev gpucore.Device, h *submit.Handle, dst gpucore.BufferID, fill byte) error {
	w, err := h.Begin()
	if err != nil {
		return err
	}
	a, err := loop.Staging().Alloc(uploadSize, 4, w.Seq)
	if err != nil {
		_ = h.Reset(w)
		return err
	}
	for i := range a.Bytes {
		a.Bytes[i] = fill
	}
	if err := loop.Staging().Flush(a); err != nil {
		_ = h.Reset(w)
		return err
	}
	dev.CopyBuffer(w.Cmd, a.Buffer, a.Offset, dst, 0, uploadSize)
	return h.End(w)
}
