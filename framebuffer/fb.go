// Package framebuffer implements the FB object of spec.md §4.1: a pixel
// buffer with two independent lifecycle counters — ref (memory lifetime)
// and hold (pipeline possession) — plus the growable ByteVector output
// buffer encoders write into and the reusable-FB Pool collaborator named
// in spec.md §6.
package framebuffer

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/breeze-rmm/displaycore/pixfmt"
)

// StorageKind distinguishes a system-memory-backed FB from one backed by a
// GPU buffer object (dma-buf, D3D11 texture, IOSurface, ...).
type StorageKind int

const (
	StorageSystemMemory StorageKind = iota
	StorageGPUBuffer
)

func (k StorageKind) String() string {
	if k == StorageGPUBuffer {
		return "gpu"
	}
	return "system-memory"
}

// Transform is one of the eight RFB/Wayland output transforms spec.md §3
// requires an FB to carry.
type Transform int

const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// ReleaseFunc is invoked exactly once, when an FB's hold count drops to
// zero. The closure carries whatever "context" the producer needs —
// spec.md's "callback + userdata pair" collapses naturally into a Go
// closure (see DESIGN.md).
type ReleaseFunc func(fb *FB)

// GPUImporter maps a GPU-kind FB's backing buffer object into a readable
// address the encoders can use. Supplied by the capture source; a FB
// without one can still be held and passed around, just not Map()'d.
type GPUImporter interface {
	Import(fb *FB) (address uintptr, err error)
}

// ErrNoImporter is returned by Map for a GPU-kind FB with no GPUImporter set.
var ErrNoImporter = errors.New("framebuffer: GPU FB has no importer")

// FB is a pixel buffer with its metadata and two independent atomic
// lifecycle counters, per spec.md §3/§4.1.
type FB struct {
	Width, Height int
	Format        pixfmt.FourCC
	Modifier      uint64
	Transform     Transform
	Storage       StorageKind

	mu       sync.Mutex
	backing  []byte // retains the slice for system-memory FBs, so the GC can't reclaim it out from under address
	address  uintptr
	stride   int
	size     int
	mapped   bool
	importer GPUImporter
	gpu      any // opaque GPU handle (dma-buf fd, texture pointer, ...)

	release ReleaseFunc

	ref  atomic.Int32
	hold atomic.Int32
}

// New constructs an FB with ref=1, hold=0, as required by spec.md §4.1.
func New(width, height int, format pixfmt.FourCC, modifier uint64, storage StorageKind) *FB {
	fb := &FB{
		Width:     width,
		Height:    height,
		Format:    format,
		Modifier:  modifier,
		Transform: TransformNormal,
		Storage:   storage,
	}
	fb.ref.Store(1)
	return fb
}

// SetSystemMemory attaches the backing address/stride/size for a
// StorageSystemMemory FB whose memory is not managed by the Go runtime
// (e.g. a shared-memory segment or a CGo-owned buffer). Call once, before
// the FB is shared. Prefer SetSystemMemoryBytes for Go-allocated buffers.
func (fb *FB) SetSystemMemory(address uintptr, stride, size int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.backing = nil
	fb.address = address
	fb.stride = stride
	fb.size = size
	fb.mapped = true
}

// SetSystemMemoryBytes attaches a Go-allocated pixel buffer to a
// StorageSystemMemory FB. Unlike SetSystemMemory, the FB retains buf so
// the garbage collector cannot reclaim it while the FB is alive.
func (fb *FB) SetSystemMemoryBytes(buf []byte, stride int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.backing = buf
	if len(buf) > 0 {
		fb.address = uintptr(unsafe.Pointer(&buf[0]))
	} else {
		fb.address = 0
	}
	fb.stride = stride
	fb.size = len(buf)
	fb.mapped = true
}

// SetGPUBuffer attaches the opaque GPU buffer handle and an importer used
// to map it to a readable address on demand. Call once, before the FB is
// shared.
func (fb *FB) SetGPUBuffer(handle any, importer GPUImporter) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.gpu = handle
	fb.importer = importer
}

// SetReleaseFunc attaches the callback invoked when hold reaches zero.
func (fb *FB) SetReleaseFunc(fn ReleaseFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.release = fn
}

// Ref increments the memory-lifetime count.
func (fb *FB) Ref() {
	fb.ref.Add(1)
}

// Unref decrements the memory-lifetime count. It panics if the FB would be
// freed (ref reaching zero) while still held — per spec.md §4.1 this would
// violate the release-callback contract the holder is relying on.
func (fb *FB) Unref() {
	remaining := fb.ref.Add(-1)
	if remaining < 0 {
		panic("framebuffer: Unref called more times than Ref")
	}
	if remaining == 0 && fb.hold.Load() > 0 {
		panic("framebuffer: Unref dropped ref to zero while hold > 0")
	}
}

// Hold increments the pipeline-possession count, signalling to the
// producer that the buffer's contents must not be mutated.
func (fb *FB) Hold() {
	fb.hold.Add(1)
}

// Release decrements the pipeline-possession count. When it reaches zero
// the release callback, if any, fires synchronously on the calling
// goroutine.
func (fb *FB) Release() {
	remaining := fb.hold.Add(-1)
	if remaining < 0 {
		panic("framebuffer: Release called more times than Hold")
	}
	if remaining == 0 {
		fb.mu.Lock()
		release := fb.release
		fb.mu.Unlock()
		if release != nil {
			release(fb)
		}
	}
}

// HoldCount and RefCount expose the current counter values, mainly for
// tests and diagnostics.
func (fb *FB) HoldCount() int32 { return fb.hold.Load() }
func (fb *FB) RefCount() int32  { return fb.ref.Load() }

// Map ensures the FB's address is readable, importing a GPU buffer object
// on first use. Idempotent for system-memory FBs.
func (fb *FB) Map() (uintptr, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.Storage == StorageSystemMemory {
		fb.mapped = true
		return fb.address, nil
	}

	if fb.mapped {
		return fb.address, nil
	}
	if fb.importer == nil {
		return 0, ErrNoImporter
	}
	addr, err := fb.importer.Import(fb)
	if err != nil {
		return 0, err
	}
	fb.address = addr
	fb.mapped = true
	return addr, nil
}

// Address, Stride and Size return the FB's current mapping state without
// forcing a Map.
func (fb *FB) Address() uintptr {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.address
}

func (fb *FB) Stride() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.stride
}

func (fb *FB) Size() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.size
}

// GPUHandle returns the opaque GPU buffer handle set by SetGPUBuffer, or
// nil for a system-memory FB.
func (fb *FB) GPUHandle() any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.gpu
}

// Bytes reinterprets the mapped address as a byte slice of length Size, for
// pipeline stages (damage hashing, resampling, encoding) that need to read
// or write pixels directly. The FB must already be mapped (see Map); a
// zero address yields a nil slice.
func (fb *FB) Bytes() []byte {
	fb.mu.Lock()
	backing := fb.backing
	addr, size := fb.address, fb.size
	fb.mu.Unlock()

	if backing != nil {
		return backing
	}
	if addr == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
