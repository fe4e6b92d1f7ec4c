// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	halsoftware "github.com/gogpu/wgpu/hal/software"

	"github.com/gogpu/ringq/deferred"
	"github.com/gogpu/ringq/gpucore"
	"github.com/gogpu/ringq/submit"
)

// openDevice opens the first adapter of a hal backend for testing.
func openDevice(t *testing.T, api hal.Backend) (hal.Device, hal.Queue) {
	t.Helper()
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	return openDevice(t, noop.API{})
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device, queue := createNoopDevice(t)
	return New(device, queue, nil)
}

// newSoftwareDevice wraps the hal software backend, which executes copies.
func newSoftwareDevice(t *testing.T) *Device {
	t.Helper()
	device, queue := openDevice(t, halsoftware.API{})
	return New(device, queue, nil)
}

// laggingQueue completes submissions only when told to and can fail them.
type laggingQueue struct {
	hal.Queue
	done atomic.Uint64
	fail atomic.Bool
}

func (q *laggingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if q.fail.Load() {
		return 0, errors.New("device lost")
	}
	return q.Queue.Submit(cmds)
}

func (q *laggingQueue) PollCompleted() uint64 { return q.done.Load() }

func newLaggingDevice(t *testing.T) (*Device, *laggingQueue) {
	t.Helper()
	device, queue := createNoopDevice(t)
	lq := &laggingQueue{Queue: queue}
	return New(device, lq, nil), lq
}

// recordCopy records an executable command buffer copying 16 bytes.
func recordCopy(t *testing.T, d *Device, cmd gpucore.CommandBufferID, src, dst gpucore.BufferID) {
	t.Helper()
	if err := d.BeginCommandBuffer(cmd); err != nil {
		t.Fatalf("BeginCommandBuffer: %v", err)
	}
	d.CopyBuffer(cmd, src, 0, dst, 0, 16)
	if err := d.EndCommandBuffer(cmd); err != nil {
		t.Fatalf("EndCommandBuffer: %v", err)
	}
}

func mustBuffer(t *testing.T, d *Device, size uint64, usage gpucore.BufferUsage) gpucore.BufferID {
	t.Helper()
	id, err := d.CreateBuffer(size, usage)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	return id
}

func TestNewLimits(t *testing.T) {
	d := newTestDevice(t)
	lim := d.Limits()
	if lim.NonCoherentAtomSize != 1 || lim.MaxAlignment != 256 {
		t.Errorf("Limits() = %+v", lim)
	}
	if lim.MaxBufferSize != gputypes.DefaultLimits().MaxBufferSize {
		t.Errorf("MaxBufferSize = %d, want the default limit", lim.MaxBufferSize)
	}
}

func TestBufferMapping(t *testing.T) {
	d := newTestDevice(t)

	up := mustBuffer(t, d, 64, gpucore.UsageUpload)
	if err := d.FlushMapped(up, 0, 4); !errors.Is(err, ErrNotMapped) {
		t.Errorf("FlushMapped before map = %v, want ErrNotMapped", err)
	}
	mem, err := d.MapBuffer(up)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	if len(mem) != 64 {
		t.Fatalf("mapping is %d bytes, want 64", len(mem))
	}
	copy(mem, "hello, gpu!")
	if err := d.FlushMapped(up, 1, 11); err != nil {
		t.Errorf("FlushMapped: %v", err)
	}
	if err := d.FlushMapped(up, 60, 8); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("FlushMapped past the end = %v, want ErrOutOfRange", err)
	}

	local := mustBuffer(t, d, 64, gputypes.BufferUsageStorage)
	if _, err := d.MapBuffer(local); !errors.Is(err, ErrNotMappable) {
		t.Errorf("MapBuffer of storage buffer = %v, want ErrNotMappable", err)
	}
	if _, err := d.CreateBuffer(0, gpucore.UsageUpload); err == nil {
		t.Error("CreateBuffer(0) succeeded")
	}

	d.UnmapBuffer(up)
	if err := d.FlushMapped(up, 0, 4); !errors.Is(err, ErrNotMapped) {
		t.Errorf("FlushMapped after unmap = %v, want ErrNotMapped", err)
	}
	d.DestroyBuffer(up)
	d.DestroyBuffer(local)
	if n := d.Live(gpucore.KindBuffer); n != 0 {
		t.Errorf("Live(Buffer) = %d, want 0", n)
	}
}

func TestUploadAndReadBack(t *testing.T) {
	d := newSoftwareDevice(t)
	src := mustBuffer(t, d, 16, gpucore.UsageUpload)
	dst := mustBuffer(t, d, 16, gpucore.UsageReadback)
	c, _ := d.CreateCounter()
	pool, _ := d.CreateCommandPool(d.Family())
	cmds, _ := d.AllocateCommandBuffers(pool, 1)

	want := []byte("sixteen bytes!!!")
	mem, err := d.MapBuffer(src)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	copy(mem, want)
	if err := d.FlushMapped(src, 0, 16); err != nil {
		t.Fatalf("FlushMapped: %v", err)
	}
	recordCopy(t, d, cmds[0], src, dst)
	if err := d.Submit(cmds, c, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := d.WaitCounters([]gpucore.CounterID{c}, []uint64{1}, false, time.Second); err != nil || !ok {
		t.Fatalf("WaitCounters = %v, %v", ok, err)
	}
	got, err := d.MapBuffer(dst)
	if err != nil {
		t.Fatalf("MapBuffer(readback): %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read back %q, want %q", got, want)
	}

	d.DestroyCommandPool(pool)
	d.DestroyCounter(c)
	d.DestroyBuffer(src)
	d.DestroyBuffer(dst)
}

func TestWriteBuffer(t *testing.T) {
	d := newSoftwareDevice(t)
	buf := mustBuffer(t, d, 8, gpucore.UsageReadback)
	if err := d.WriteBuffer(buf, 4, []byte("ring")); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := d.WriteBuffer(buf, 6, []byte("ring")); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteBuffer past the end = %v, want ErrOutOfRange", err)
	}
	got, err := d.MapBuffer(buf)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	if !bytes.Equal(got[4:], []byte("ring")) {
		t.Errorf("buffer = %q, want ring at offset 4", got)
	}
	d.DestroyBuffer(buf)
}

func TestCounterSubmitAndHostSignal(t *testing.T) {
	d := newTestDevice(t)
	c, err := d.CreateCounter()
	if err != nil {
		t.Fatalf("CreateCounter: %v", err)
	}
	defer d.DestroyCounter(c)

	if v, err := d.CounterValue(c); err != nil || v != 0 {
		t.Fatalf("CounterValue() = %d, %v, want 0", v, err)
	}
	if err := d.Submit(nil, c, 3); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if v, _ := d.CounterValue(c); v != 3 {
		t.Fatalf("CounterValue() = %d after empty submit, want 3", v)
	}

	if err := d.SignalCounter(c, 2); err == nil {
		t.Error("SignalCounter below the current value succeeded")
	}
	done := make(chan bool, 1)
	go func() {
		ok, _ := d.WaitCounters([]gpucore.CounterID{c}, []uint64{5}, false, gpucore.Forever)
		done <- ok
	}()
	time.Sleep(5 * time.Millisecond)
	if err := d.SignalCounter(c, 5); err != nil {
		t.Fatalf("SignalCounter: %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Error("WaitCounters woken by host signal returned false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitCounters not woken by host signal")
	}

	if ok, _ := d.WaitCounters([]gpucore.CounterID{c}, []uint64{9}, false, 10*time.Millisecond); ok {
		t.Error("WaitCounters for an unsignaled value returned true")
	}
	if _, err := d.CounterValue(gpucore.CounterID(9999)); !errors.Is(err, ErrUnknownCounter) {
		t.Errorf("CounterValue of unknown counter = %v, want ErrUnknownCounter", err)
	}
}

func TestCounterFollowsPollCompleted(t *testing.T) {
	d, q := newLaggingDevice(t)
	src := mustBuffer(t, d, 16, gpucore.UsageUpload)
	dst := mustBuffer(t, d, 16, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	c, _ := d.CreateCounter()
	pool, _ := d.CreateCommandPool(d.Family())
	cmds, _ := d.AllocateCommandBuffers(pool, 2)

	recordCopy(t, d, cmds[0], src, dst)
	if err := d.Submit(cmds[:1], c, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// An empty submission completes with the work before it.
	if err := d.Submit(nil, c, 2); err != nil {
		t.Fatalf("empty Submit: %v", err)
	}
	if v, _ := d.CounterValue(c); v != 0 {
		t.Fatalf("CounterValue() = %d before completion, want 0", v)
	}
	if ok, _ := d.WaitCounters([]gpucore.CounterID{c}, []uint64{1}, false, 5*time.Millisecond); ok {
		t.Fatal("WaitCounters returned true before the submission completed")
	}

	done := make(chan bool, 1)
	go func() {
		ok, _ := d.WaitCounters([]gpucore.CounterID{c}, []uint64{2}, false, 5*time.Second)
		done <- ok
	}()
	q.done.Store(1)
	if ok := <-done; !ok {
		t.Fatal("WaitCounters did not observe PollCompleted")
	}
	if v, _ := d.CounterValue(c); v != 2 {
		t.Errorf("CounterValue() = %d, want 2", v)
	}
	d.DestroyCommandPool(pool)
}

func TestFailedSubmitKeepsCommandBuffers(t *testing.T) {
	d, q := newLaggingDevice(t)
	src := mustBuffer(t, d, 16, gpucore.UsageUpload)
	dst := mustBuffer(t, d, 16, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	c, _ := d.CreateCounter()
	pool, _ := d.CreateCommandPool(d.Family())
	cmds, _ := d.AllocateCommandBuffers(pool, 1)
	recordCopy(t, d, cmds[0], src, dst)

	q.fail.Store(true)
	if err := d.Submit(cmds, c, 1); err == nil {
		t.Fatal("Submit on a failing queue succeeded")
	}
	if v, _ := d.CounterValue(c); v != 0 {
		t.Fatalf("CounterValue() = %d after failed submit, want 0", v)
	}

	q.fail.Store(false)
	if err := d.Submit(cmds, c, 1); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	q.done.Store(1)
	if v, _ := d.CounterValue(c); v != 1 {
		t.Errorf("CounterValue() = %d after resubmit, want 1", v)
	}
	d.DestroyCommandPool(pool)
}

func TestDestroyPoolWhileExecutingPanics(t *testing.T) {
	d, _ := newLaggingDevice(t)
	src := mustBuffer(t, d, 16, gpucore.UsageUpload)
	dst := mustBuffer(t, d, 16, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	c, _ := d.CreateCounter()
	pool, _ := d.CreateCommandPool(d.Family())
	cmds, _ := d.AllocateCommandBuffers(pool, 1)
	recordCopy(t, d, cmds[0], src, dst)
	if err := d.Submit(cmds, c, 1); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("DestroyCommandPool with executing work did not panic")
		}
	}()
	d.DestroyCommandPool(pool)
}

func TestCommandBuffers(t *testing.T) {
	d := newTestDevice(t)
	src := mustBuffer(t, d, 16, gpucore.UsageUpload)
	dst := mustBuffer(t, d, 16, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	c, err := d.CreateCounter()
	if err != nil {
		t.Fatalf("CreateCounter: %v", err)
	}
	pool, err := d.CreateCommandPool(d.Family())
	if err != nil {
		t.Fatalf("CreateCommandPool: %v", err)
	}
	cmds, err := d.AllocateCommandBuffers(pool, 2)
	if err != nil {
		t.Fatalf("AllocateCommandBuffers: %v", err)
	}

	for round := uint64(1); round <= 2; round++ {
		recordCopy(t, d, cmds[0], src, dst)
		if err := d.Submit(cmds[:1], c, round); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if ok, err := d.WaitCounters([]gpucore.CounterID{c}, []uint64{round}, false, time.Second); err != nil || !ok {
			t.Fatalf("WaitCounters(%d) = %v, %v", round, ok, err)
		}
	}

	if err := d.BeginCommandBuffer(cmds[1]); err != nil {
		t.Fatalf("BeginCommandBuffer: %v", err)
	}
	if err := d.ResetCommandBuffer(cmds[1]); err != nil {
		t.Fatalf("ResetCommandBuffer: %v", err)
	}

	d.DestroyCommandPool(pool)
	d.DestroyCounter(c)
	d.DestroyBuffer(src)
	d.DestroyBuffer(dst)
	if n := d.Live(gpucore.KindCommandPool); n != 0 {
		t.Errorf("Live(CommandPool) = %d, want 0", n)
	}
}

func TestSubmitFamilyMismatchPanics(t *testing.T) {
	d := newTestDevice(t)
	c, err := d.CreateCounter()
	if err != nil {
		t.Fatalf("CreateCounter: %v", err)
	}
	pool, _ := d.CreateCommandPool(1)
	cmds, _ := d.AllocateCommandBuffers(pool, 1)
	if err := d.BeginCommandBuffer(cmds[0]); err != nil {
		t.Fatalf("BeginCommandBuffer: %v", err)
	}
	if err := d.EndCommandBuffer(cmds[0]); err != nil {
		t.Fatalf("EndCommandBuffer: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Submit from another family did not panic")
		}
	}()
	_ = d.Submit(cmds, c, 1)
}

func TestSubmissionQueueOverNoop(t *testing.T) {
	d := newTestDevice(t)
	q, seed, err := submit.New(d, d, submit.Config{BatchSize: 4, Label: "noop"})
	if err != nil {
		t.Fatalf("submit.New: %v", err)
	}
	h, err := seed.Handle()
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	for range 10 {
		w, err := h.Begin()
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if err := h.End(w); err != nil {
			t.Fatalf("End: %v", err)
		}
		if _, err := q.Drive(); err != nil {
			t.Fatalf("Drive: %v", err)
		}
	}
	if err := q.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if v, err := q.Completed(); err != nil || v != 10 {
		t.Fatalf("Completed() = %d, %v, want 10", v, err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := q.Drive(); !errors.Is(err, submit.ErrDisconnected) {
		t.Fatalf("Drive after release = %v, want ErrDisconnected", err)
	}
	q.Destroy()
	if n := d.Live(gpucore.KindCounter); n != 0 {
		t.Errorf("Live(Counter) = %d, want 0", n)
	}
}

func TestImportedTextureDeferred(t *testing.T) {
	device, queue := createNoopDevice(t)
	d := New(device, queue, nil)

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "imported",
		Size:          hal.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	id := d.ImportTexture(tex)

	reg := deferred.New(1)
	reg.Inter(deferred.Texture(id))
	if n := reg.BeginFrame(d); n != 1 {
		t.Fatalf("BeginFrame destroyed %d objects, want 1", n)
	}
	if n := d.Live(gpucore.KindTexture); n != 0 {
		t.Errorf("Live(Texture) = %d, want 0", n)
	}
}

type fakeGPUDevice struct{}

func (fakeGPUDevice) Poll(bool) {}
func (fakeGPUDevice) Destroy()  {}

type fakeGPUQueue struct{}

type fakeGPUAdapter struct{}

type fakeProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *fakeProvider) Device() gpucontext.Device             { return fakeGPUDevice{} }
func (p *fakeProvider) Queue() gpucontext.Queue               { return fakeGPUQueue{} }
func (p *fakeProvider) Adapter() gpucontext.Adapter           { return fakeGPUAdapter{} }
func (p *fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *fakeProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{Name: "noop"} }
func (p *fakeProvider) HalDevice() any                        { return p.device }
func (p *fakeProvider) HalQueue() any                         { return p.queue }

type plainProvider struct{ fakeProvider }

func (p *plainProvider) HalDevice() string { return "" }

func TestFromProvider(t *testing.T) {
	device, queue := createNoopDevice(t)
	d, err := FromProvider(&fakeProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("FromProvider: %v", err)
	}
	if d.HalDevice() != device {
		t.Error("FromProvider wrapped a different device")
	}

	if _, err := FromProvider(&fakeProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("FromProvider with nil hal objects = %v, want ErrNoHAL", err)
	}
	if _, err := FromProvider(&plainProvider{}); !errors.Is(err, ErrNoHAL) {
		t.Errorf("FromProvider without HalDevice() any = %v, want ErrNoHAL", err)
	}
}
