package display

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
	"github.com/breeze-rmm/displaycore/region"
)

func runScheduler(t *testing.T) (*scheduler.Scheduler, func()) {
	t.Helper()
	sched := scheduler.New(2, 8, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return sched, func() {
		cancel()
		sched.Stop()
	}
}

func testFB(w, h int, storage framebuffer.StorageKind) *framebuffer.FB {
	stride := w * 4
	buf := make([]byte, stride*h)
	fb := framebuffer.New(w, h, pixfmt.XRGB8888, 0, storage)
	fb.SetSystemMemoryBytes(buf, stride)
	return fb
}

type fakeServer struct {
	damaged   chan region.Region
	processed chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		damaged:   make(chan region.Region, 8),
		processed: make(chan struct{}, 8),
	}
}

func (s *fakeServer) DamageRegion(d region.Region) {
	s.damaged <- d
}

func (s *fakeServer) ProcessAllFBUpdateRequests() {
	select {
	case s.processed <- struct{}{}:
	default:
	}
}

func TestFeedBufferPassThroughIdentityFrame(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	srv := newFakeServer()
	d := New(0, 0, sched, srv)

	fb := testFB(4, 4, framebuffer.StorageSystemMemory)

	d.FeedBuffer(fb, region.Full(4, 4))

	select {
	case dmg := <-srv.damaged:
		if dmg.Empty() {
			t.Fatal("expected non-empty damage region")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("damage notification never fired")
	}

	if d.CurrentBuffer() != fb {
		t.Fatalf("current buffer should equal the input FB for an identity transform")
	}
	if d.H264Supported() {
		t.Fatal("system-memory storage must never report h264 support")
	}

	snap := d.Metrics()
	if snap.FramesFed != 1 {
		t.Fatalf("FramesFed = %d, want 1", snap.FramesFed)
	}
	if snap.FramesDamaged != 1 {
		t.Fatalf("FramesDamaged = %d, want 1", snap.FramesDamaged)
	}
}

func TestFeedBufferSetsH264SupportedOnlyForGPUNormal(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	srv := newFakeServer()
	d := New(0, 0, sched, srv)

	gpuFB := testFB(8, 8, framebuffer.StorageGPUBuffer)

	d.FeedBuffer(gpuFB, region.Full(8, 8))

	select {
	case <-srv.damaged:
	case <-time.After(2 * time.Second):
		t.Fatal("damage notification never fired")
	}

	if !d.H264Supported() {
		t.Fatal("GPU-backed, identity-transform FB should be h264 eligible")
	}
}

func TestFeedBufferRotatedGPUFrameDisablesH264(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	srv := newFakeServer()
	d := New(0, 0, sched, srv)

	gpuFB := testFB(8, 8, framebuffer.StorageGPUBuffer)
	gpuFB.Transform = framebuffer.Transform90

	d.FeedBuffer(gpuFB, region.Full(8, 8))

	select {
	case <-srv.damaged:
	case <-time.After(2 * time.Second):
		t.Fatal("damage notification never fired")
	}

	if d.H264Supported() {
		t.Fatal("a rotated FB must not be reported as h264 eligible even if GPU-backed")
	}
}

func TestUnrefAtZeroReleasesCurrentBuffer(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	srv := newFakeServer()
	d := New(0, 0, sched, srv)

	fb := testFB(4, 4, framebuffer.StorageSystemMemory)

	released := make(chan struct{}, 1)
	fb.SetReleaseFunc(func(*framebuffer.FB) {
		select {
		case released <- struct{}{}:
		default:
		}
	})

	d.FeedBuffer(fb, region.Full(4, 4))

	select {
	case <-srv.damaged:
	case <-time.After(2 * time.Second):
		t.Fatal("damage notification never fired")
	}

	if d.CurrentBuffer() != fb {
		t.Fatalf("current buffer should be adopted")
	}

	d.Unref()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("expected release callback to fire once hold reaches zero")
	}
}
