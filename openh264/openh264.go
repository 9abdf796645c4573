// Package openh264 implements the Open-H.264 framing of spec.md §4.6: it
// wraps the h264 package's packet stream with an RFB rectangle header and
// an 8-byte length/flags prefix, and tracks the "needs reset" latch a
// reconfigured encoder sets.
//
// It is grounded on the wire-rectangle shape of the corpus's only real RFB
// server, `other_examples/02cc4c6f_patdhlk-rfb__rfb.go.go`, and on the
// teacher's describeH264NALUs Annex-B scanner, reused here for test
// diagnostics.
package openh264

import (
	"errors"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/h264"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

var log = logging.L("openh264")

// rfbEncodingOpenH264 is the RFB PixelFormat encoding number spec.md §6
// reserves for Open-H.264 rectangles.
const rfbEncodingOpenH264 = 50

// ResetContext is bit 0 of an Open-H.264 rectangle's flags field: the
// encoder's parameters changed and the decoder must re-initialise.
const ResetContext uint32 = 0x1

// ReadyFunc is invoked whenever feed_frame's packet handler appends bytes
// to the pending buffer, signalling the session layer that this display
// has new content to offer.
type ReadyFunc func(userdata any)

// Framer is a single display's Open-H.264 framing state, per spec.md §3.
type Framer struct {
	encoder *h264.Encoder

	width, height int
	format        pixfmt.FourCC
	created       bool

	pending       *framebuffer.ByteVector
	needsReset    bool
	onReady       ReadyFunc
	readyUserdata any
}

// New constructs a Framer that drives enc and installs itself as enc's
// packet handler.
func New(enc *h264.Encoder) *Framer {
	f := &Framer{encoder: enc, pending: framebuffer.NewByteVector(64 * 1024)}
	enc.SetPacketHandler(f.onPacket, nil)
	return f
}

// Init prepares the framer to emit rectangles for a w×h display of the
// given format, and creates the underlying encoder.
func (f *Framer) Init(width, height int, format pixfmt.FourCC) error {
	if err := f.encoder.Create(width, height, format); err != nil {
		return err
	}
	f.width, f.height, f.format = width, height, format
	f.created = true
	return nil
}

// Destroy tears down the underlying encoder. The Framer must not be used
// afterward.
func (f *Framer) Destroy() {
	f.encoder.Destroy()
	f.created = false
}

// SetReadyHandler installs the callback fired when new bytes land in the
// pending buffer.
func (f *Framer) SetReadyHandler(fn ReadyFunc, userdata any) {
	f.onReady = fn
	f.readyUserdata = userdata
}

// ErrNotInitialized is returned by FeedFrame/Read before Init.
var ErrNotInitialized = errors.New("openh264: framer not initialized")

// FeedFrame compares fb's (width, height, format) with the framer's; on a
// mismatch it recreates the underlying encoder and sets needsReset, then
// delegates to the encoder's Feed.
func (f *Framer) FeedFrame(fb *framebuffer.FB) error {
	if !f.created {
		return ErrNotInitialized
	}
	if fb.Width != f.width || fb.Height != f.height || fb.Format != f.format {
		f.encoder.Destroy()
		if err := f.encoder.Create(fb.Width, fb.Height, fb.Format); err != nil {
			return err
		}
		f.width, f.height, f.format = fb.Width, fb.Height, fb.Format
		f.needsReset = true
		log.Info("openh264: encoder recreated on format change", "width", fb.Width, "height", fb.Height)
	}
	return f.encoder.Feed(fb)
}

// RequestKeyframe forwards to the underlying encoder's keyframe latch.
func (f *Framer) RequestKeyframe() {
	f.encoder.RequestKeyframe()
}

// onPacket is the h264.Encoder's packet handler: it appends successful
// packets to pending and notifies onReady. Failed packets are logged and
// dropped, per spec.md §9(c) — never silently discarded.
func (f *Framer) onPacket(packet []byte, failed bool, userdata any) {
	if failed {
		log.Warn("openh264: dropping failed packet")
		return
	}
	f.pending.Write(packet)
	log.Debug("packet appended", "bytes", len(packet), "nalus", describeNALUs(packet))
	if f.onReady != nil {
		f.onReady(f.readyUserdata)
	}
}

// Read drains pending into out as one Open-H.264 rectangle: a
// rectangle-count of 1, a rectangle head for (0,0,W,H), an 8-byte
// {length, flags} header, then the pending bytes. Returns 0 (out left
// untouched) if there's nothing pending, 1 otherwise. The needs_reset
// latch, if set, is emitted once via ResetContext and then cleared.
func (f *Framer) Read(out *framebuffer.ByteVector) int {
	if f.pending.Len() == 0 {
		return 0
	}

	out.Reset()
	out.WriteUint16BE(1)
	writeRectHead(out, 0, 0, f.width, f.height)

	var flags uint32
	if f.needsReset {
		flags |= ResetContext
		f.needsReset = false
	}
	payload := f.pending.Bytes()
	out.WriteUint32BE(uint32(len(payload)))
	out.WriteUint32BE(flags)
	out.Write(payload)

	f.pending.Reset()
	return 1
}

func writeRectHead(dst *framebuffer.ByteVector, x, y, w, h int) {
	dst.WriteUint16BE(uint16(x))
	dst.WriteUint16BE(uint16(y))
	dst.WriteUint16BE(uint16(w))
	dst.WriteUint16BE(uint16(h))
	dst.WriteInt32BE(rfbEncodingOpenH264)
}
