package h264

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
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

func testFB(w, h int) *framebuffer.FB {
	stride := w * 4
	buf := make([]byte, stride*h)
	fb := framebuffer.New(w, h, pixfmt.XRGB8888, 0, framebuffer.StorageSystemMemory)
	fb.SetSystemMemoryBytes(buf, stride)
	return fb
}

func TestFirstFrameIsAlwaysKeyframe(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	if err := e.Create(16, 16, pixfmt.XRGB8888); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var mu sync.Mutex
	packets := [][]byte{}
	done := make(chan struct{})
	e.SetPacketHandler(func(packet []byte, failed bool, userdata any) {
		mu.Lock()
		packets = append(packets, packet)
		mu.Unlock()
		close(done)
	}, nil)

	fb := testFB(16, 16)
	if err := e.Feed(fb); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("packet handler never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(packets) != 1 || len(packets[0]) == 0 || packets[0][0] != 1 {
		t.Fatalf("expected first packet to carry keyframe flag, got %v", packets)
	}
}

func TestPacketsFireInFeedOrder(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	if err := e.Create(8, 8, pixfmt.XRGB8888); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var mu sync.Mutex
	var order []byte
	done := make(chan struct{})
	e.SetPacketHandler(func(packet []byte, failed bool, userdata any) {
		mu.Lock()
		// the software backend's packet is [keyframeFlag, pixels...]; every
		// pixel in a test FB is filled with the same tag byte.
		order = append(order, packet[1])
		if len(order) == 3 {
			close(done)
		}
		mu.Unlock()
	}, nil)

	for _, tag := range []byte{'A', 'B', 'C'} {
		fb := testFB(8, 8)
		buf := fb.Bytes()
		for i := range buf {
			buf[i] = tag
		}
		if err := e.Feed(fb); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all packets delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []byte{'A', 'B', 'C'}
	for i, tag := range want {
		if order[i] != tag {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRequestKeyframeAffectsOnlyNextFrame(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	if err := e.Create(8, 8, pixfmt.XRGB8888); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var mu sync.Mutex
	var flags []byte
	done := make(chan struct{})
	e.SetPacketHandler(func(packet []byte, failed bool, userdata any) {
		mu.Lock()
		flags = append(flags, packet[0])
		if len(flags) == 2 {
			close(done)
		}
		mu.Unlock()
	}, nil)

	// first Feed consumes the auto-set keyframe latch from Create.
	if err := e.Feed(testFB(8, 8)); err != nil {
		t.Fatal(err)
	}
	if err := e.Feed(testFB(8, 8)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("packets not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if flags[0] != 1 {
		t.Fatalf("first packet should be keyframe, got flag=%d", flags[0])
	}
	if flags[1] != 0 {
		t.Fatalf("second packet should be delta without RequestKeyframe, got flag=%d", flags[1])
	}
}

func TestFeedBeforeCreateErrors(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	if err := e.Feed(testFB(4, 4)); err != ErrNotInitialized {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}
