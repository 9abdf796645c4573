package tight

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
	sched := scheduler.New(4, 16, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return sched, func() {
		cancel()
		sched.Stop()
	}
}

func solidFB(w, h int) *framebuffer.FB {
	stride := w * 4
	buf := make([]byte, stride*h)
	for i := range buf {
		buf[i] = byte(i)
	}
	fb := framebuffer.New(w, h, pixfmt.XRGB8888, 0, framebuffer.StorageSystemMemory)
	fb.SetSystemMemoryBytes(buf, stride)
	return fb
}

func TestEncodeFrameBasicSmoke(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	e.Init(128, 128)

	fmtReg, _ := pixfmt.Lookup(pixfmt.XRGB8888)
	fb := solidFB(128, 128)

	done := make(chan struct{})
	var payload []byte
	err := e.EncodeFrame(fmtReg, fb, fmtReg, region.Full(128, 128), QualityLossless, func(dst *framebuffer.ByteVector, userdata any) {
		payload = append([]byte(nil), dst.Bytes()...)
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onDone never called")
	}

	if len(payload) < 2 {
		t.Fatalf("payload too short: %d", len(payload))
	}
	nRects := int(payload[0])<<8 | int(payload[1])
	if nRects != 4 {
		t.Fatalf("nRects = %d, want 4 (2x2 tile grid)", nRects)
	}

	// Each rect head is 12 bytes (u16 x, u16 y, u16 w, u16 h, s32 encoding),
	// followed by the basic control byte identifying the shard stream.
	off := 2
	wantShards := []byte{0x00, 0x10, 0x00, 0x10}
	for i := 0; i < 4; i++ {
		if off+12 >= len(payload) {
			t.Fatalf("payload truncated before rect %d", i)
		}
		off += 12
		control := payload[off]
		if control != wantShards[i] {
			t.Fatalf("rect %d control byte = %d, want %d", i, control, wantShards[i])
		}
		off++
		// compact size: read varint
		size := 0
		shift := 0
		for {
			b := payload[off]
			off++
			size |= int(b&0x7f) << shift
			if b&0x80 == 0 {
				break
			}
			shift += 7
		}
		off += size
	}
}

func TestEncodeFrameJPEGQualityMapping(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	e.Init(64, 64)

	fmtReg, _ := pixfmt.Lookup(pixfmt.XRGB8888)
	fb := solidFB(64, 64)

	done := make(chan struct{})
	var payload []byte
	err := e.EncodeFrame(fmtReg, fb, fmtReg, region.Full(64, 64), QualityHigh, func(dst *framebuffer.ByteVector, userdata any) {
		payload = append([]byte(nil), dst.Bytes()...)
		close(done)
	}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onDone never called")
	}

	nRects := int(payload[0])<<8 | int(payload[1])
	if nRects != 1 {
		t.Fatalf("nRects = %d, want 1 (64x64 == one tile)", nRects)
	}
	control := payload[2+12]
	if control != jpegControlByte {
		t.Fatalf("control byte = %#x, want %#x", control, jpegControlByte)
	}
}

func TestEncodeFrameRejectsOverlappingCalls(t *testing.T) {
	sched, stop := runScheduler(t)
	defer stop()

	e := New(sched)
	e.Init(128, 128)
	fmtReg, _ := pixfmt.Lookup(pixfmt.XRGB8888)
	fb := solidFB(128, 128)

	err := e.EncodeFrame(fmtReg, fb, fmtReg, region.Full(128, 128), QualityLossless, func(*framebuffer.ByteVector, any) {}, nil)
	if err != nil {
		t.Fatalf("first EncodeFrame: %v", err)
	}
	if err := e.EncodeFrame(fmtReg, fb, fmtReg, region.Full(128, 128), QualityLossless, func(*framebuffer.ByteVector, any) {}, nil); err != ErrEncodeInFlight {
		t.Fatalf("expected ErrEncodeInFlight, got %v", err)
	}
}

func TestCeilDiv(t *testing.T) {
	if ceilDiv(128, 64) != 2 {
		t.Fatalf("ceilDiv(128,64) = %d, want 2", ceilDiv(128, 64))
	}
	if ceilDiv(0, 64) != 0 {
		t.Fatalf("ceilDiv(0,64) = %d, want 0", ceilDiv(0, 64))
	}
}
