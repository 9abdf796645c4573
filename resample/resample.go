// Package resample implements the resampler of spec.md §4.3: it turns a
// possibly-rotated/flipped FB plus a damage region into a normalised
// (transform = identity) FB plus the equivalent damage region, invoking a
// completion callback posted through the same scheduling context feed was
// called from.
//
// It is grounded on the teacher's bgraToNV12 pool-by-resolution pattern
// (colorconv.go) for the pooled output buffer, and on session_stream.go's
// "do work, then post completion back onto the owning loop" shape for
// Feed's callback contract.
package resample

import (
	"image"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
	"github.com/breeze-rmm/displaycore/region"
)

var log = logging.L("resample")

// DoneFunc is invoked with the normalised FB and the transformed damage
// region once Feed completes. userdata is passed through unchanged.
type DoneFunc func(outFB *framebuffer.FB, damage region.Region, userdata any)

// Resampler normalises an input FB's transform, reusing a pooled output FB
// when a copy is required and passing the input through by reference when
// it's already identity.
type Resampler struct {
	sched *scheduler.Scheduler
	pool  *framebuffer.Pool
}

// New constructs a Resampler. sched is the scheduling context Feed's
// completion callback is posted back onto (spec.md: "Completion is posted
// to the same scheduling context that feed was called from").
func New(sched *scheduler.Scheduler) *Resampler {
	return &Resampler{sched: sched, pool: framebuffer.NewPool()}
}

// Destroy releases the resampler's pooled buffers. The Resampler must not
// be used afterward.
func (r *Resampler) Destroy() {
	r.pool = framebuffer.NewPool()
}

// Feed normalises fb's transform and reports it to onDone together with
// transformedDamage, which the caller has already mapped into the
// normalised coordinate space (see TransformRegion) and which is passed on
// unchanged. When
// fb.Transform is already TransformNormal, fb is passed straight through
// by reference (no copy); the callee is responsible for taking any refs it
// needs. onDone never runs before Feed returns — it is always posted
// through the scheduler, even for the identity fast path, so callers can't
// accidentally rely on synchronous delivery.
func (r *Resampler) Feed(fb *framebuffer.FB, transformedDamage region.Region, onDone DoneFunc, userdata any) {
	if fb.Transform == framebuffer.TransformNormal {
		r.sched.PostMain(func() {
			onDone(fb, transformedDamage, userdata)
		})
		return
	}

	outFB, outDamage, err := r.normalise(fb, transformedDamage)
	if err != nil {
		log.Warn("resample: normalise failed, passing through untransformed", "error", err)
		r.sched.PostMain(func() {
			onDone(fb, transformedDamage, userdata)
		})
		return
	}
	r.sched.PostMain(func() {
		onDone(outFB, outDamage, userdata)
	})
}

// normalise copies fb's pixels into a pool-owned FB with transform reset
// to identity. damage is already in the output coordinate space and is
// returned as is.
func (r *Resampler) normalise(fb *framebuffer.FB, damage region.Region) (*framebuffer.FB, region.Region, error) {
	outW, outH := TransformedSize(fb.Transform, fb.Width, fb.Height)

	format, err := pixfmt.Lookup(fb.Format)
	if err != nil {
		return nil, nil, err
	}
	bpp := format.BytesPerPixel()
	outStride := outW * bpp

	outFB := r.pool.Get(outW, outH, func() *framebuffer.FB {
		return framebuffer.New(outW, outH, fb.Format, fb.Modifier, framebuffer.StorageSystemMemory)
	})
	outFB.Width, outFB.Height = outW, outH
	buf := make([]byte, outStride*outH)

	src := fb.Bytes()
	srcStride := fb.Stride()
	for y := 0; y < fb.Height; y++ {
		for x := 0; x < fb.Width; x++ {
			sx, sy := x, y
			tx, ty := TransformPoint(fb.Transform, fb.Width, fb.Height, sx, sy)
			srcOff := sy*srcStride + sx*bpp
			dstOff := ty*outStride + tx*bpp
			if srcOff+bpp > len(src) || dstOff+bpp > len(buf) {
				continue
			}
			copy(buf[dstOff:dstOff+bpp], src[srcOff:srcOff+bpp])
		}
	}

	outFB.SetSystemMemoryBytes(buf, outStride)
	return outFB, damage, nil
}

// TransformedSize returns the pixel dimensions a buffer of size w×h has
// after applying t (rotations swap width and height; flips do not).
func TransformedSize(t framebuffer.Transform, w, h int) (int, int) {
	switch t {
	case framebuffer.Transform90, framebuffer.Transform270,
		framebuffer.TransformFlipped90, framebuffer.TransformFlipped270:
		return h, w
	default:
		return w, h
	}
}

// TransformPoint maps a point (x, y) in a w×h source image to its position
// in the transformed output, for transform t.
func TransformPoint(t framebuffer.Transform, w, h, x, y int) (int, int) {
	switch t {
	case framebuffer.TransformNormal:
		return x, y
	case framebuffer.Transform90:
		return h - 1 - y, x
	case framebuffer.Transform180:
		return w - 1 - x, h - 1 - y
	case framebuffer.Transform270:
		return y, w - 1 - x
	case framebuffer.TransformFlipped:
		return w - 1 - x, y
	case framebuffer.TransformFlipped90:
		return h - 1 - y, w - 1 - x
	case framebuffer.TransformFlipped180:
		return x, h - 1 - y
	case framebuffer.TransformFlipped270:
		return y, x
	default:
		return x, y
	}
}

// TransformRegion maps every rectangle of in, expressed in a w×h source
// image's coordinates, through transform t. It walks each rectangle's four
// corners through TransformPoint and takes their bounding box, which is
// exact for the axis-aligned rotate/flip transforms spec.md §3 defines.
func TransformRegion(t framebuffer.Transform, w, h int, in region.Region) region.Region {
	if t == framebuffer.TransformNormal || in.Empty() {
		return in
	}
	out := make(region.Region, 0, len(in))
	for _, rect := range in {
		x0, y0 := TransformPoint(t, w, h, rect.Min.X, rect.Min.Y)
		x1, y1 := TransformPoint(t, w, h, rect.Max.X-1, rect.Max.Y-1)
		out = append(out, normalizeRect(x0, y0, x1, y1))
	}
	return out
}

func normalizeRect(x0, y0, x1, y1 int) image.Rectangle {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return image.Rect(x0, y0, x1+1, y1+1)
}
