// Package h264 implements the single-writer hardware H.264 encoder of
// spec.md §4.5: a FIFO queue of FBs awaiting encode, at most one FB in
// flight, a keyframe latch, and a pluggable backend abstraction.
//
// It is grounded on the teacher's VideoEncoder/encoderBackend split
// (encoder.go): the backendFactory registration pattern is kept for
// selecting a hardware backend at runtime, and encoder_software.go's
// placeholder backend becomes this package's reference backend for
// environments without a hardware encoder available.
package h264

import (
	"errors"
	"sync"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

var log = logging.L("h264")

// PacketHandler receives one encoded packet. failed is true when the
// worker's encode step errored; per spec.md §9(c) this is logged
// explicitly (not silently discarded, unlike the source this was
// distilled from).
type PacketHandler func(packet []byte, failed bool, userdata any)

// Backend is the pluggable hardware/software encode step. SetDimensions
// changes an existing backend's target size; Encoder itself never calls it,
// since Create always builds a fresh backend. EncodeFrame receives the FB
// to encode and whether it must produce a keyframe.
type Backend interface {
	Name() string
	IsHardware() bool
	SetDimensions(width, height int, format pixfmt.FourCC) error
	EncodeFrame(fb *framebuffer.FB, keyframe bool) ([]byte, error)
	Close() error
}

// BackendFactory constructs a Backend for the given target size/format, or
// returns an error if this backend can't be used on the current system.
type BackendFactory func(width, height int, format pixfmt.FourCC) (Backend, error)

var (
	hardwareFactoriesMu sync.Mutex
	hardwareFactories   []BackendFactory
)

// RegisterHardwareFactory adds a hardware backend candidate. Create tries
// every registered factory, in registration order, before falling back to
// the software reference backend.
func RegisterHardwareFactory(factory BackendFactory) {
	hardwareFactoriesMu.Lock()
	defer hardwareFactoriesMu.Unlock()
	hardwareFactories = append(hardwareFactories, factory)
}

// ErrNotInitialized is returned by operations on a destroyed or
// not-yet-created Encoder.
var ErrNotInitialized = errors.New("h264: encoder not initialized")

// Encoder is a single display's H.264 encoder state, per spec.md §3.
type Encoder struct {
	sched *scheduler.Scheduler

	mu              sync.Mutex
	backend         Backend
	width, height   int
	format          pixfmt.FourCC
	queue           []*framebuffer.FB
	inFlight        bool
	nextIsKeyframe  bool
	handler         PacketHandler
	handlerUserdata any
}

// New constructs an Encoder bound to sched, which both runs its worker
// jobs and is the "main scheduler" its packet-ready/queue-draining steps
// run on (spec.md §7: "H.264 encoder's queue is mutated only on the main
// scheduler").
func New(sched *scheduler.Scheduler) *Encoder {
	return &Encoder{sched: sched}
}

// Create allocates a backend for a w×h display of the given pixel format,
// preferring a registered hardware backend and falling back to software.
func (e *Encoder) Create(width, height int, format pixfmt.FourCC) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	backend, err := newBackend(width, height, format)
	if err != nil {
		return err
	}
	e.backend = backend
	e.width, e.height, e.format = width, height, format
	e.nextIsKeyframe = true
	log.Info("h264 encoder created", "width", width, "height", height, "backend", backend.Name(), "hardware", backend.IsHardware())
	return nil
}

func newBackend(width, height int, format pixfmt.FourCC) (Backend, error) {
	hardwareFactoriesMu.Lock()
	factories := append([]BackendFactory(nil), hardwareFactories...)
	hardwareFactoriesMu.Unlock()

	for _, factory := range factories {
		backend, err := factory(width, height, format)
		if err == nil && backend != nil {
			return backend, nil
		}
	}
	return newSoftwareBackend(width, height, format)
}

// Destroy closes the backend and drops any queued FBs, releasing their
// holds/refs. The Encoder must not be used afterward.
func (e *Encoder) Destroy() {
	e.mu.Lock()
	backend := e.backend
	queued := e.queue
	e.backend = nil
	e.queue = nil
	e.mu.Unlock()

	for _, fb := range queued {
		fb.Release()
		fb.Unref()
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			log.Warn("backend close failed", "error", err)
		}
	}
}

// SetPacketHandler installs the callback invoked with each encoded packet.
func (e *Encoder) SetPacketHandler(handler PacketHandler, userdata any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
	e.handlerUserdata = userdata
}

// RequestKeyframe latches the next FB to enter encoding as a keyframe.
func (e *Encoder) RequestKeyframe() {
	e.mu.Lock()
	e.nextIsKeyframe = true
	e.mu.Unlock()
}

// Feed enqueues fb (taking a hold + ref) and, if no encode is currently in
// flight, schedules a worker job for it.
func (e *Encoder) Feed(fb *framebuffer.FB) error {
	e.mu.Lock()
	if e.backend == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	fb.Ref()
	fb.Hold()
	e.queue = append(e.queue, fb)
	shouldStart := !e.inFlight
	if shouldStart {
		e.inFlight = true
	}
	e.mu.Unlock()

	if shouldStart {
		e.startNext()
	}
	return nil
}

// startNext dequeues the head FB and schedules its encode worker job.
// Called only while inFlight is already true, either from Feed or from the
// completion of a prior worker job; if the queue is empty it clears
// inFlight instead.
func (e *Encoder) startNext() {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.inFlight = false
		e.mu.Unlock()
		return
	}
	current := e.queue[0]
	e.queue = e.queue[1:]
	keyframe := e.nextIsKeyframe
	e.nextIsKeyframe = false
	backend := e.backend
	e.mu.Unlock()

	e.sched.SpawnWorker(func() {
		e.encodeWorker(backend, current, keyframe)
	}, nil)
}

// encodeWorker runs step 3 of spec.md §4.5's feed algorithm off the main
// thread, then posts the completion (release/unref, packet-ready callback,
// schedule-next) back onto the main scheduler.
func (e *Encoder) encodeWorker(backend Backend, fb *framebuffer.FB, keyframe bool) {
	packet, err := backend.EncodeFrame(fb, keyframe)
	failed := err != nil
	if failed {
		log.Warn("h264 encode failed, packet dropped", "error", err)
	}

	e.sched.PostMain(func() {
		fb.Release()
		fb.Unref()

		e.mu.Lock()
		handler, userdata := e.handler, e.handlerUserdata
		e.mu.Unlock()
		if handler != nil {
			handler(packet, failed, userdata)
		}

		e.startNext()
	})
}
