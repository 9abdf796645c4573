// Package tight implements the tile-sharded Tight encoder of spec.md §4.4:
// a grid of 64×64 tiles, four persistent per-column-shard deflate streams,
// and an optional JPEG mode, wired through the internal/scheduler worker
// pool the same way the rest of this module schedules off-main work.
//
// It is grounded on the teacher's image/jpeg use (encode.go's EncodeJPEG)
// for the JPEG path and its bufferPool/imagePool pattern (pool.go) for
// reusable per-tile scratch buffers. The deflate "basic" mode has no
// ecosystem analog anywhere in the retrieved corpus, so it is built
// directly on stdlib compress/flate (see DESIGN.md).
package tight

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"image"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/internal/scheduler"
	"github.com/breeze-rmm/displaycore/pixfmt"
	"github.com/breeze-rmm/displaycore/region"
)

var log = logging.L("tight")

// TileSize is the Tight encoder's tile edge length in pixels (spec.md
// §4.4; distinct from the damage refinery's 32-pixel tile).
const TileSize = 64

// tileBufferCap is the fixed per-tile output buffer capacity, per spec.md
// §4.4: "2·64·64·4 bytes".
const tileBufferCap = 2 * TileSize * TileSize * 4

// rfbEncodingTight is the RFB PixelFormat encoding number for Tight
// (RFC 6143 §7.7.4).
const rfbEncodingTight = 7

// Quality selects the per-tile compression mode.
type Quality int

const (
	QualityUnspecified Quality = iota
	QualityLow
	QualityHigh
	QualityLossless
)

const (
	jpegQualityHigh = 66
	jpegQualityLow  = 33
)

const numShards = 4

type tileState int

const (
	tileReady tileState = iota
	tileDamaged
	tileEncoded
)

type tile struct {
	state    tileState
	typeByte byte
	size     int
	buffer   [tileBufferCap]byte
}

// DoneFunc is invoked once per EncodeFrame call, after the finish job has
// appended every encoded tile's rectangle to dst.
type DoneFunc func(dst *framebuffer.ByteVector, userdata any)

// ErrTileOverflow is returned (basic mode: it is fatal; JPEG mode: the tile
// is merely marked failed) when a tile's compressed output would exceed
// tileBufferCap.
var ErrTileOverflow = errors.New("tight: tile output exceeds fixed buffer capacity")

// ErrEncodeInFlight is returned by EncodeFrame if the previous frame has
// not fully drained (spec.md §7: "Tight frames are not concurrent").
var ErrEncodeInFlight = errors.New("tight: previous encode has not finished")

// Encoder is a single display's Tight encoder state, per spec.md §3.
type Encoder struct {
	sched *scheduler.Scheduler

	width, height int
	cols, rows    int
	tiles         []tile

	streams [numShards]*shardStream

	dst      *framebuffer.ByteVector
	encoding bool
	pending  int32

	onDone   DoneFunc
	userdata any
}

type shardStream struct {
	buf *bytes.Buffer
	zw  *flate.Writer
}

func newShardStream() *shardStream {
	buf := new(bytes.Buffer)
	zw, err := flate.NewWriter(buf, flate.DefaultCompression)
	if err != nil {
		// flate.NewWriter only errors on an invalid level constant.
		panic(fmt.Sprintf("tight: flate.NewWriter: %v", err))
	}
	return &shardStream{buf: buf, zw: zw}
}

// New constructs a Tight encoder bound to sched for its worker shards and
// finish job.
func New(sched *scheduler.Scheduler) *Encoder {
	e := &Encoder{sched: sched, dst: framebuffer.NewByteVector(64 * 1024)}
	for i := range e.streams {
		e.streams[i] = newShardStream()
	}
	return e
}

// Init sizes the encoder's tile grid for a w×h display, per spec.md's
// `init(W,H)` operation.
func (e *Encoder) Init(w, h int) {
	e.resize(w, h)
}

// Resize re-sizes the tile grid, discarding all tile state. Deflate stream
// dictionaries are left untouched — spec.md requires their continuity
// across frames, and nothing about a resize invalidates compression
// history for tiles that haven't been re-encoded yet.
func (e *Encoder) Resize(w, h int) {
	e.resize(w, h)
}

func (e *Encoder) resize(w, h int) {
	e.width, e.height = w, h
	e.cols = ceilDiv(w, TileSize)
	e.rows = ceilDiv(h, TileSize)
	e.tiles = make([]tile, e.cols*e.rows)
	log.Debug("resized", "width", w, "height", h, "cols", e.cols, "rows", e.rows)
}

// Destroy releases the encoder's deflate streams. The Encoder must not be
// used afterward.
func (e *Encoder) Destroy() {
	for i := range e.streams {
		e.streams[i] = nil
	}
	e.tiles = nil
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func (e *Encoder) tileIndex(tx, ty int) int { return ty*e.cols + tx }

func (e *Encoder) tileRect(tx, ty int) image.Rectangle {
	x0, y0 := tx*TileSize, ty*TileSize
	x1, y1 := x0+TileSize, y0+TileSize
	if x1 > e.width {
		x1 = e.width
	}
	if y1 > e.height {
		y1 = e.height
	}
	return image.Rect(x0, y0, x1, y1)
}

// EncodeFrame runs the five-step algorithm of spec.md §4.4: damage
// application, shard scheduling across four worker jobs (one per deflate
// stream), per-tile encode, and a main-thread finalisation pass that
// assembles the RFB rectangle stream and invokes onDone. Returns
// ErrEncodeInFlight if a previous EncodeFrame call hasn't finished yet.
func (e *Encoder) EncodeFrame(dstFmt pixfmt.Format, srcFB *framebuffer.FB, srcFmt pixfmt.Format, damage region.Region, quality Quality, onDone DoneFunc, userdata any) error {
	if e.encoding {
		return ErrEncodeInFlight
	}
	for i := range e.tiles {
		if e.tiles[i].state != tileReady {
			return ErrEncodeInFlight
		}
	}

	e.encoding = true
	e.onDone = onDone
	e.userdata = userdata
	e.dst.Reset()

	nDamaged := e.applyDamage(damage)
	e.dst.WriteUint16BE(uint16(nDamaged))

	if nDamaged == 0 {
		e.finish()
		return nil
	}

	e.pending = numShards
	for shard := 0; shard < numShards; shard++ {
		shard := shard
		e.sched.SpawnWorker(func() {
			e.encodeShard(shard, srcFB, srcFmt, dstFmt, quality)
		}, func() {
			e.pending--
			if e.pending == 0 {
				e.finish()
			}
		})
	}
	return nil
}

// applyDamage marks every tile overlapping damage as tileDamaged (the rest
// tileReady) and returns the damaged-tile count, the RFB rectangle-count
// header value.
func (e *Encoder) applyDamage(damage region.Region) int {
	for i := range e.tiles {
		e.tiles[i].state = tileReady
	}
	n := 0
	for ty := 0; ty < e.rows; ty++ {
		for tx := 0; tx < e.cols; tx++ {
			rect := e.tileRect(tx, ty)
			if overlapsAny(rect, damage) {
				idx := e.tileIndex(tx, ty)
				if e.tiles[idx].state != tileDamaged {
					e.tiles[idx].state = tileDamaged
					n++
				}
			}
		}
	}
	return n
}

func overlapsAny(rect image.Rectangle, damage region.Region) bool {
	for _, d := range damage {
		if rect.Overlaps(d) {
			return true
		}
	}
	return false
}

// encodeShard processes every damaged tile at grid column x where
// x mod numShards == shard, row-major within that column subset, using
// only stream[shard] — spec.md's column-disjoint shard-ownership
// invariant.
func (e *Encoder) encodeShard(shard int, srcFB *framebuffer.FB, srcFmt, dstFmt pixfmt.Format, quality Quality) {
	stream := e.streams[shard]
	for ty := 0; ty < e.rows; ty++ {
		for tx := shard; tx < e.cols; tx += numShards {
			idx := e.tileIndex(tx, ty)
			t := &e.tiles[idx]
			if t.state != tileDamaged {
				continue
			}
			rect := e.tileRect(tx, ty)
			if err := e.encodeTile(t, stream, shard, srcFB, rect, srcFmt, dstFmt, quality); err != nil {
				if errors.Is(err, ErrTileOverflow) && quality != QualityHigh && quality != QualityLow {
					panic(fmt.Sprintf("tight: basic-mode tile overflow at (%d,%d): n_rects header already committed, no safe partial RFB update", tx, ty))
				}
				log.Warn("tile encode failed", "x", tx, "y", ty, "error", err)
				t.state = tileReady
				continue
			}
			t.state = tileEncoded
		}
	}
}

func (e *Encoder) encodeTile(t *tile, stream *shardStream, shard int, srcFB *framebuffer.FB, rect image.Rectangle, srcFmt, dstFmt pixfmt.Format, quality Quality) error {
	if quality == QualityUnspecified {
		panic("tight: encode_frame called with quality unspecified")
	}
	useJPEG := (quality == QualityHigh || quality == QualityLow)
	if useJPEG {
		if err := encodeJPEGTile(t, srcFB, rect, srcFmt, quality); err != nil {
			return err
		}
		return nil
	}
	return encodeBasicTile(t, stream, shard, srcFB, rect, srcFmt, dstFmt)
}

// finish runs on the main scheduler: it walks the grid row-major, appends
// every encoded tile's rectangle to dst, resets tile state to ready, and
// invokes onDone.
func (e *Encoder) finish() {
	run := func() {
		for ty := 0; ty < e.rows; ty++ {
			for tx := 0; tx < e.cols; tx++ {
				idx := e.tileIndex(tx, ty)
				t := &e.tiles[idx]
				if t.state != tileEncoded {
					continue
				}
				rect := e.tileRect(tx, ty)
				writeRectHead(e.dst, rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
				e.dst.WriteByte(t.typeByte)
				writeCompactSize(e.dst, t.size)
				e.dst.Write(t.buffer[:t.size])
				t.state = tileReady
			}
		}
		e.encoding = false
		onDone, userdata := e.onDone, e.userdata
		e.onDone, e.userdata = nil, nil
		if onDone != nil {
			onDone(e.dst, userdata)
		}
	}
	e.sched.PostMain(run)
}

func writeRectHead(dst *framebuffer.ByteVector, x, y, w, h int) {
	dst.WriteUint16BE(uint16(x))
	dst.WriteUint16BE(uint16(y))
	dst.WriteUint16BE(uint16(w))
	dst.WriteUint16BE(uint16(h))
	dst.WriteInt32BE(rfbEncodingTight)
}

// writeCompactSize appends n encoded as Tight's "compact length" varint:
// 7 bits per byte, continuation bit set in every byte but the last.
func writeCompactSize(dst *framebuffer.ByteVector, n int) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		dst.WriteByte(b)
		if n == 0 {
			return
		}
	}
}
