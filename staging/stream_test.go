// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package staging

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/ringq/gpucore"
)

func newStream(t *testing.T, capacity uint64) *Stream {
	t.Helper()
	s, err := NewStream(newDevice(t, gpucore.Limits{}), capacity, 0)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s
}

func mustSpan(t *testing.T, s *Stream, size, align uint64) *Span {
	t.Helper()
	sp, err := s.Alloc(context.Background(), size, align)
	if err != nil {
		t.Fatalf("Alloc(%d, %d): %v", size, align, err)
	}
	return sp
}

func TestStreamTooLarge(t *testing.T) {
	s := newStream(t, 64)
	for _, req := range [][2]uint64{{65, 1}, {60, 8}} {
		if _, err := s.Alloc(context.Background(), req[0], req[1]); !errors.Is(err, ErrTooLarge) {
			t.Errorf("Alloc(%d, %d) error = %v, want ErrTooLarge", req[0], req[1], err)
		}
	}
	sp := mustSpan(t, s, 64, 1)
	sp.Release()
}

func TestStreamBlocksUntilRelease(t *testing.T) {
	s := newStream(t, 64)
	a := mustSpan(t, s, 40, 1)
	b := mustSpan(t, s, 20, 1)
	if a.Offset != 0 || b.Offset != 40 {
		t.Fatalf("offsets = %d, %d, want 0, 40", a.Offset, b.Offset)
	}

	got := make(chan *Span, 1)
	go func() {
		sp, err := s.Alloc(context.Background(), 30, 1)
		if err != nil {
			t.Errorf("blocked Alloc: %v", err)
		}
		got <- sp
	}()

	select {
	case <-got:
		t.Fatal("Alloc returned while the stream was full")
	case <-time.After(20 * time.Millisecond):
	}

	a.Release()
	var c *Span
	select {
	case c = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("Alloc still blocked after Release")
	}
	if c.Offset != 0 {
		t.Errorf("offset after wrap = %d, want 0", c.Offset)
	}
	b.Release()
	c.Release()

	full := mustSpan(t, s, 64, 1)
	full.Release()
}

func TestStreamCanceled(t *testing.T) {
	s := newStream(t, 64)
	sp := mustSpan(t, s, 60, 1)
	defer sp.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Alloc(ctx, 8, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Alloc error = %v, want DeadlineExceeded", err)
	}
}

func TestStreamOutOfOrderRelease(t *testing.T) {
	s := newStream(t, 32)
	a := mustSpan(t, s, 16, 1)
	b := mustSpan(t, s, 16, 1)

	b.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Alloc(ctx, 16, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Alloc behind a live older span error = %v, want DeadlineExceeded", err)
	}

	a.Release()
	full := mustSpan(t, s, 32, 1)
	full.Release()
}

func TestStreamConcurrent(t *testing.T) {
	s := newStream(t, 64)
	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(w), 1))
			for range 200 {
				size := 1 + rng.Uint64N(16)
				align := uint64(1) << rng.UintN(3)
				sp, err := s.Alloc(context.Background(), size, align)
				if err != nil {
					return err
				}
				if sp.Offset%align != 0 {
					return errors.New("misaligned span")
				}
				for i := range sp.Bytes {
					sp.Bytes[i] = byte(w)
				}
				runtime.Gosched()
				for _, v := range sp.Bytes {
					if v != byte(w) {
						return errors.New("span overwritten by another allocation")
					}
				}
				sp.Release()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sp, err := s.Alloc(ctx, 64, 1)
	if err != nil {
		t.Fatalf("full-capacity Alloc after drain: %v", err)
	}
	sp.Release()
}
