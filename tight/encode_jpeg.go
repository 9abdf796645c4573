package tight

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

// jpegControlByte is the Tight compression-type nibble for JPEG mode
// (RFC 6143 §7.7.4): bits 7-4 = 1001, no stream selected, no reset flags.
const jpegControlByte = 0x90

// encodeJPEGTile implements spec.md §4.4 step 4's JPEG path. Quality maps
// to JPEG quality 66 (high) or 33 (low). The RFB Tight spec calls for
// 4:2:2 chroma subsampling; stdlib image/jpeg always encodes 4:2:0 and
// exposes no subsampling knob, so this tile's JPEG stream is 4:2:0 instead
// — documented as a deviation in DESIGN.md rather than silently claimed as
// spec-exact.
func encodeJPEGTile(t *tile, srcFB *framebuffer.FB, rect image.Rectangle, srcFmt pixfmt.Format, quality Quality) error {
	img := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))

	pix := srcFB.Bytes()
	stride := srcFB.Stride()
	bpp := srcFmt.BytesPerPixel()

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowOff := y*stride + rect.Min.X*bpp
		dstRow := (y - rect.Min.Y) * img.Stride
		for x := 0; x < rect.Dx(); x++ {
			srcOff := rowOff + x*bpp
			if srcOff+bpp > len(pix) {
				continue
			}
			value := littleEndianUint32(pix[srcOff : srcOff+bpp])
			r, g, b := pixfmt.ExtractRGB(srcFmt, value)
			di := dstRow + x*4
			img.Pix[di+0] = r
			img.Pix[di+1] = g
			img.Pix[di+2] = b
			img.Pix[di+3] = 255
		}
	}

	q := jpegQualityHigh
	if quality == QualityLow {
		q = jpegQualityLow
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: q}); err != nil {
		return err
	}
	if buf.Len() > tileBufferCap {
		return ErrTileOverflow
	}
	copy(t.buffer[:buf.Len()], buf.Bytes())
	t.size = buf.Len()
	t.typeByte = jpegControlByte
	return nil
}
