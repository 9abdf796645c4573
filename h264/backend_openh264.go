package h264

import (
	openh264 "github.com/y9o/go-openh264"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

func init() {
	RegisterHardwareFactory(newOpenH264Backend)
}

// openH264Backend wraps github.com/y9o/go-openh264, the teacher's own
// go.mod dependency that nothing in its codebase actually imported. It is
// revived here as this module's hardware backend rather than dropped, per
// DESIGN.md's "wire it or delete it" rule: a hardware H.264 encoder is
// exactly the collaborator spec.md §4.5 names.
type openH264Backend struct {
	enc           *openh264.Encoder
	width, height int
	i420          []byte
}

func newOpenH264Backend(width, height int, format pixfmt.FourCC) (Backend, error) {
	enc, err := openh264.NewEncoder(width, height)
	if err != nil {
		return nil, err
	}
	return &openH264Backend{enc: enc, width: width, height: height}, nil
}

func (b *openH264Backend) Name() string     { return "openh264" }
func (b *openH264Backend) IsHardware() bool { return true }

func (b *openH264Backend) Close() error {
	return b.enc.Close()
}

func (b *openH264Backend) SetDimensions(width, height int, format pixfmt.FourCC) error {
	if width == b.width && height == b.height {
		return nil
	}
	enc, err := openh264.NewEncoder(width, height)
	if err != nil {
		return err
	}
	b.enc.Close()
	b.enc = enc
	b.width, b.height = width, height
	b.i420 = nil
	return nil
}

// EncodeFrame converts fb to I420 (openh264's expected input plane layout)
// and submits it with the requested picture type.
func (b *openH264Backend) EncodeFrame(fb *framebuffer.FB, keyframe bool) ([]byte, error) {
	format, err := pixfmt.Lookup(fb.Format)
	if err != nil {
		return nil, err
	}
	b.i420 = bgraToI420(b.i420, fb.Bytes(), fb.Stride(), b.width, b.height, format)
	return b.enc.EncodeI420(b.i420, keyframe)
}

// bgraToI420 converts a 32-bit-per-pixel buffer into planar I420 (Y plane,
// then subsampled U and V planes), reusing dst across calls the way the
// teacher's getNV12Buffer/bgraToNV12 pair does for NV12 — same BT.601
// coefficients, different plane layout (I420 keeps U and V separate
// instead of interleaving them).
func bgraToI420(dst []byte, pix []byte, stride, width, height int, format pixfmt.Format) []byte {
	ySize := width * height
	cSize := ySize / 4
	need := ySize + 2*cSize
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	y := dst[:ySize]
	u := dst[ySize : ySize+cSize]
	v := dst[ySize+cSize:]

	bpp := format.BytesPerPixel()
	for row := 0; row < height; row++ {
		rowOff := row * stride
		yOff := row * width
		for col := 0; col < width; col++ {
			off := rowOff + col*bpp
			if off+bpp > len(pix) {
				continue
			}
			value := littleEndianUint32(pix[off : off+bpp])
			r, g, b := pixfmt.ExtractRGB(format, value)

			yVal := (66*int(r) + 129*int(g) + 25*int(b) + 128) >> 8
			y[yOff+col] = clampByte(yVal + 16)

			if row%2 == 0 && col%2 == 0 {
				uVal := (-38*int(r) - 74*int(g) + 112*int(b) + 128) >> 8
				vVal := (112*int(r) - 94*int(g) - 18*int(b) + 128) >> 8
				cIdx := (row/2)*(width/2) + col/2
				u[cIdx] = clampByte(uVal + 128)
				v[cIdx] = clampByte(vVal + 128)
			}
		}
	}
	return dst
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func littleEndianUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
