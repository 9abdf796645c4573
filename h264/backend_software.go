package h264

import (
	"errors"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

// softwareBackend is the reference backend used when no hardware factory
// claims the target format, grounded on the teacher's softwareEncoder
// placeholder (encoder_software.go): it exists so the rest of the pipeline
// has something to drive in environments without a hardware encoder, not
// to produce a standards-compliant bitstream.
type softwareBackend struct {
	width, height int
	format        pixfmt.FourCC
}

func newSoftwareBackend(width, height int, format pixfmt.FourCC) (Backend, error) {
	return &softwareBackend{width: width, height: height, format: format}, nil
}

func (s *softwareBackend) Name() string     { return "software" }
func (s *softwareBackend) IsHardware() bool { return false }
func (s *softwareBackend) Close() error     { return nil }

func (s *softwareBackend) SetDimensions(width, height int, format pixfmt.FourCC) error {
	s.width, s.height, s.format = width, height, format
	return nil
}

// EncodeFrame produces a placeholder "packet" carrying the keyframe flag
// and the FB's raw pixel bytes, standing in for a real NAL unit stream
// until a CGo/hardware H.264 backend is wired for this build target.
func (s *softwareBackend) EncodeFrame(fb *framebuffer.FB, keyframe bool) ([]byte, error) {
	pix := fb.Bytes()
	if len(pix) == 0 {
		return nil, errors.New("h264: empty frame")
	}
	out := make([]byte, 1+len(pix))
	if keyframe {
		out[0] = 1
	}
	copy(out[1:], pix)
	return out, nil
}
