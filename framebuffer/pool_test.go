package framebuffer

import (
	"testing"

	"github.com/breeze-rmm/displaycore/pixfmt"
)

func TestPoolGetAllocatesWhenEmpty(t *testing.T) {
	p := NewPool()
	calls := 0
	fb := p.Get(64, 64, func() *FB {
		calls++
		return New(64, 64, pixfmt.XRGB8888, 0, StorageSystemMemory)
	})
	if fb == nil || calls != 1 {
		t.Fatalf("expected fresh allocation, calls=%d", calls)
	}
}

func TestPoolPutGetReusesOnMatchingDimensions(t *testing.T) {
	p := NewPool()
	fb := New(32, 32, pixfmt.XRGB8888, 0, StorageSystemMemory)
	p.Put(fb)

	calls := 0
	got := p.Get(32, 32, func() *FB {
		calls++
		return New(32, 32, pixfmt.XRGB8888, 0, StorageSystemMemory)
	})
	if calls != 0 {
		t.Fatalf("expected reuse, but allocator was called")
	}
	if got.RefCount() != 1 || got.HoldCount() != 0 {
		t.Fatalf("reused FB not reset: ref=%d hold=%d", got.RefCount(), got.HoldCount())
	}
}

func TestPoolDropsOnResolutionChange(t *testing.T) {
	p := NewPool()
	fb := New(32, 32, pixfmt.XRGB8888, 0, StorageSystemMemory)
	p.Put(fb)

	calls := 0
	p.Get(64, 64, func() *FB {
		calls++
		return New(64, 64, pixfmt.XRGB8888, 0, StorageSystemMemory)
	})
	if calls != 1 {
		t.Fatalf("expected fresh allocation after resolution change, calls=%d", calls)
	}
}

func TestPoolPutDropsMismatchedDimensions(t *testing.T) {
	p := NewPool()
	p.Get(16, 16, func() *FB { return New(16, 16, pixfmt.XRGB8888, 0, StorageSystemMemory) })

	mismatched := New(8, 8, pixfmt.XRGB8888, 0, StorageSystemMemory)
	p.Put(mismatched)

	calls := 0
	p.Get(16, 16, func() *FB {
		calls++
		return New(16, 16, pixfmt.XRGB8888, 0, StorageSystemMemory)
	})
	if calls != 1 {
		t.Fatalf("expected mismatched FB to be dropped, calls=%d", calls)
	}
}
