package openh264

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/h264"
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

func TestFeedFrameThenReadProducesOneRectangle(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	enc := h264.New(sched)
	f := New(enc)
	if err := f.Init(8, 8, pixfmt.XRGB8888); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ready := make(chan struct{}, 1)
	f.SetReadyHandler(func(any) {
		select {
		case ready <- struct{}{}:
		default:
		}
	}, nil)

	if err := f.FeedFrame(testFB(8, 8)); err != nil {
		t.Fatalf("FeedFrame: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback never fired")
	}

	out := framebuffer.NewByteVector(1024)
	if n := f.Read(out); n != 1 {
		t.Fatalf("Read = %d, want 1", n)
	}
	payload := out.Bytes()
	if len(payload) < 2 || payload[0] != 0 || payload[1] != 1 {
		t.Fatalf("expected u16(1) rect count, got %x", payload[:2])
	}

	if n := f.Read(out); n != 0 {
		t.Fatalf("second Read = %d, want 0 with nothing pending", n)
	}
}

func TestFormatChangeSetsResetFlag(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	enc := h264.New(sched)
	f := New(enc)
	if err := f.Init(8, 8, pixfmt.XRGB8888); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ready := make(chan struct{}, 1)
	f.SetReadyHandler(func(any) {
		select {
		case ready <- struct{}{}:
		default:
		}
	}, nil)

	if err := f.FeedFrame(testFB(16, 16)); err != nil {
		t.Fatalf("FeedFrame: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback never fired")
	}

	out := framebuffer.NewByteVector(1024)
	f.Read(out)
	payload := out.Bytes()
	// rect head is 12 bytes after the u16 count; flags is the second u32
	// of the {length, flags} header that follows.
	flagsOff := 2 + 12 + 4
	flags := uint32(payload[flagsOff])<<24 | uint32(payload[flagsOff+1])<<16 | uint32(payload[flagsOff+2])<<8 | uint32(payload[flagsOff+3])
	if flags&ResetContext == 0 {
		t.Fatalf("expected ResetContext flag set, flags=%x", flags)
	}
}
