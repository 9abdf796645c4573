package tight

import (
	"image"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/pixfmt"
)

// encodeBasicTile implements spec.md §4.4 step 4's "lossless" path: convert
// each pixel row to dstFmt's compact form, feed the rows into shard's
// persistent deflate stream, and flush with a sync flush so the tile's
// compressed bytes are self-contained while the stream's dictionary state
// carries forward to the next tile on the same shard.
func encodeBasicTile(t *tile, stream *shardStream, shard int, srcFB *framebuffer.FB, rect image.Rectangle, srcFmt, dstFmt pixfmt.Format) error {
	pix := srcFB.Bytes()
	stride := srcFB.Stride()
	srcBPP := srcFmt.BytesPerPixel()
	dstBPP := dstFmt.CompactBytesPerPixel()

	row := make([]byte, rect.Dx()*dstBPP)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowOff := y*stride + rect.Min.X*srcBPP
		for x := 0; x < rect.Dx(); x++ {
			srcOff := rowOff + x*srcBPP
			if srcOff+srcBPP > len(pix) {
				continue
			}
			value := littleEndianUint32(pix[srcOff : srcOff+srcBPP])
			r, g, b := pixfmt.ExtractRGB(srcFmt, value)
			pixfmt.PackCompact(dstFmt, r, g, b, row[x*dstBPP:(x+1)*dstBPP])
		}
		if _, err := stream.zw.Write(row); err != nil {
			return err
		}
	}
	if err := stream.zw.Flush(); err != nil {
		return err
	}

	size := stream.buf.Len()
	if size > tileBufferCap {
		stream.buf.Reset()
		return ErrTileOverflow
	}
	copy(t.buffer[:size], stream.buf.Bytes())
	stream.buf.Reset()

	t.size = size
	t.typeByte = byte(shard << 4)
	return nil
}

func littleEndianUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
