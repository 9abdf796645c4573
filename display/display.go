// Package display implements the display aggregator of spec.md §4.7: the
// glue object owning one resampler, one damage refinery and one H.264
// framer, exposing FeedBuffer as the single entry point a capture source
// drives.
//
// It is grounded on the teacher's Session/SessionManager shape (session.go):
// one object per active capture target, holding its own encoder and
// differ, ref-counted by the surrounding registry rather than owning its
// own lifetime outright.
package display

import (
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/displaycore/damage"
	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/h264"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/openh264"
	"github.com/breeze-rmm/displaycore/region"
	"github.com/breeze-rmm/displaycore/resample"
)

var log = logging.L("display")

// Server is the notification-sink collaborator spec.md's module list
// names: a non-owning back-reference the aggregator uses to tell the
// enclosing session registry that a region became available for update
// delivery, and to learn when clients have outstanding update requests.
type Server interface {
	DamageRegion(d region.Region)
	ProcessAllFBUpdateRequests()
}

// Display owns one resampler, one damage refinery and one H.264 framer for
// a single capture target, per spec.md §3.
type Display struct {
	X, Y int

	server Server

	resampler *resample.Resampler
	refinery  *damage.Refinery
	h264enc   *h264.Encoder
	framer    *openh264.Framer

	h264Supported atomic.Bool
	framerCreated bool
	current       *framebuffer.FB

	metrics *Metrics

	ref atomic.Int32
}

// New constructs a Display at (xPos, yPos) with ref=1, wired to sched for
// all of its scheduled work and server as its notification sink.
func New(xPos, yPos int, sched *scheduler.Scheduler, server Server) *Display {
	d := &Display{
		X: xPos, Y: yPos,
		server:    server,
		resampler: resample.New(sched),
		refinery:  damage.New(),
		h264enc:   h264.New(sched),
		metrics:   newMetrics(),
	}
	d.framer = openh264.New(d.h264enc)
	d.framer.SetReadyHandler(func(any) {
		if d.server != nil {
			d.server.ProcessAllFBUpdateRequests()
		}
	}, nil)
	d.ref.Store(1)
	return d
}

// Ref increments the display's reference count.
func (d *Display) Ref() {
	d.ref.Add(1)
}

// Unref decrements the display's reference count, releasing its current
// buffer and tearing down its encoder when it reaches zero.
func (d *Display) Unref() {
	if d.ref.Add(-1) == 0 {
		if d.current != nil {
			d.current.Release()
			d.current.Unref()
			d.current = nil
		}
		if d.framerCreated {
			d.framer.Destroy()
		}
	}
}

// GetServer returns the display's non-owning back-reference to its
// enclosing session registry.
func (d *Display) GetServer() Server {
	return d.server
}

// H264Supported reports whether the most recently fed FB was eligible for
// the H.264 path (GPU-kind storage with an identity transform).
func (d *Display) H264Supported() bool {
	return d.h264Supported.Load()
}

// CurrentBuffer returns the latest normalised FB adopted from the
// resampler, or nil if none has been fed yet.
func (d *Display) CurrentBuffer() *framebuffer.FB {
	return d.current
}

// FeedBuffer runs spec.md §4.7's five-step pipeline: H.264 eligibility
// check, damage-refinery sizing, refinement, transform, and a resampler
// feed whose completion callback adopts the normalised FB as current.
func (d *Display) FeedBuffer(fb *framebuffer.FB, damageHint region.Region) {
	start := time.Now()
	h264Eligible := fb.Storage == framebuffer.StorageGPUBuffer && fb.Transform == framebuffer.TransformNormal
	defer func() { d.metrics.recordFeed(time.Since(start), h264Eligible) }()

	if h264Eligible {
		d.h264Supported.Store(true)
		if !d.framerCreated {
			if err := d.framer.Init(fb.Width, fb.Height, fb.Format); err != nil {
				log.Warn("h264 framer init failed", "error", err)
			} else {
				d.framerCreated = true
			}
		}
		if d.framerCreated {
			if err := d.framer.FeedFrame(fb); err != nil {
				log.Warn("h264 feed failed", "error", err)
			}
		}
	} else {
		d.h264Supported.Store(false)
	}

	d.refinery.Resize(fb.Width, fb.Height)
	refined := d.refinery.Refine(fb, damageHint)
	transformed := resample.TransformRegion(fb.Transform, fb.Width, fb.Height, refined)

	d.resampler.Feed(fb, transformed, d.onResamplerDone, nil)
}

func (d *Display) onResamplerDone(outFB *framebuffer.FB, damageOut region.Region, userdata any) {
	if d.current != nil {
		d.current.Release()
		d.current.Unref()
	}
	outFB.Ref()
	outFB.Hold()
	d.current = outFB

	if damageOut.Empty() {
		d.metrics.recordSkip()
		return
	}
	d.metrics.recordDamage(damageOut.Bounds().Dx() * damageOut.Bounds().Dy())
	if d.server != nil {
		d.server.DamageRegion(damageOut)
	}
}

// Metrics returns a snapshot of this display's pipeline counters.
func (d *Display) Metrics() Snapshot {
	return d.metrics.Snapshot()
}
