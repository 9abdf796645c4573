// Package damage implements the damage refinery of spec.md §4.2: a grid of
// per-tile content hashes that collapses a caller-supplied damage hint into
// the rectangles that actually changed between two consecutive frames.
//
// It is grounded on the teacher's frameDiffer (internal/remote's
// frame_diff.go), generalised from a whole-frame CRC32 skip check into a
// per-tile grid using a 64-bit non-cryptographic hash, per spec.md §4.2's
// "fast content digest ... a 64-bit non-cryptographic mixer".
package damage

import (
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/breeze-rmm/displaycore/framebuffer"
	"github.com/breeze-rmm/displaycore/internal/logging"
	"github.com/breeze-rmm/displaycore/pixfmt"
	"github.com/breeze-rmm/displaycore/region"
)

var log = logging.L("damage")

// TileSize is the damage refinery's tile edge length in pixels (spec.md
// §4.2: T = 32).
const TileSize = 32

// Refinery holds the per-tile hash grid for one display's damage tracking.
// Resized lazily on dimension change, per spec.md §3.
type Refinery struct {
	mu         sync.Mutex
	width      int
	height     int
	cols, rows int
	hashes     []uint64
	valid      []bool
}

// New constructs an empty refinery. Call Resize (or just Refine, which
// resizes lazily) before first use.
func New() *Refinery {
	return &Refinery{}
}

// Resize grows or shrinks the tile grid to cover a w×h FB. Existing tile
// hashes are discarded; the next Refine call will therefore report every
// tile that overlaps the caller's damage hint as changed, which is safe
// (it can only ever over-report, never under-report, and a dimension
// change means the prior hashes no longer describe anything meaningful).
func (r *Refinery) Resize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.width == w && r.height == h {
		return
	}
	r.resizeLocked(w, h)
	log.Debug("resized", "width", w, "height", h, "cols", r.cols, "rows", r.rows)
}

// Refine computes, for each tile intersecting inRegion, a content hash of
// that tile's pixels in fb. Tiles whose hash changed (or had none) have
// their bounding rectangle unioned into the result; their stored hash is
// updated. Tiles outside inRegion are left untouched. The result holds
// only tiles that intersect inRegion, but each is a whole (edge-clipped)
// tile rectangle, so it extends past inRegion wherever inRegion is not
// tile-aligned. It is expressed in fb's own (untransformed) pixel
// coordinates.
func (r *Refinery) Refine(fb *framebuffer.FB, inRegion region.Region) region.Region {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.width != fb.Width || r.height != fb.Height {
		r.resizeLocked(fb.Width, fb.Height)
	}

	format, err := pixfmt.Lookup(fb.Format)
	if err != nil {
		log.Warn("refine: unknown pixel format, treating whole hint as damaged", "format", fb.Format)
		return inRegion
	}
	bpp := format.BytesPerPixel()
	pix := fb.Bytes()
	stride := fb.Stride()

	var out region.Region
	for _, hint := range inRegion {
		clamped := hint.Intersect(image.Rect(0, 0, fb.Width, fb.Height))
		if clamped.Empty() {
			continue
		}
		startCol := clamped.Min.X / TileSize
		startRow := clamped.Min.Y / TileSize
		endCol := ceilDiv(clamped.Max.X, TileSize)
		endRow := ceilDiv(clamped.Max.Y, TileSize)

		for ty := startRow; ty < endRow; ty++ {
			for tx := startCol; tx < endCol; tx++ {
				tileRect := r.tileRect(tx, ty)
				h := hashTile(pix, stride, bpp, tileRect)
				idx := ty*r.cols + tx
				if r.valid[idx] && r.hashes[idx] == h {
					continue
				}
				r.hashes[idx] = h
				r.valid[idx] = true
				out = out.Add(tileRect)
			}
		}
	}
	return out
}

// resizeLocked is Resize's body, called with mu already held.
func (r *Refinery) resizeLocked(w, h int) {
	r.width, r.height = w, h
	r.cols = ceilDiv(w, TileSize)
	r.rows = ceilDiv(h, TileSize)
	n := r.cols * r.rows
	r.hashes = make([]uint64, n)
	r.valid = make([]bool, n)
}

// tileRect returns the pixel-space rectangle for grid cell (tx, ty),
// clipped to the FB's actual dimensions at the right/bottom edges.
func (r *Refinery) tileRect(tx, ty int) image.Rectangle {
	x0, y0 := tx*TileSize, ty*TileSize
	x1, y1 := x0+TileSize, y0+TileSize
	if x1 > r.width {
		x1 = r.width
	}
	if y1 > r.height {
		y1 = r.height
	}
	return image.Rect(x0, y0, x1, y1)
}

// hashTile digests exactly the pixel bytes covered by rect, row by row,
// so that a partial edge tile's hash covers only its actual pixels (per
// spec.md §4.2's tie-break rule).
func hashTile(pix []byte, stride, bpp int, rect image.Rectangle) uint64 {
	d := xxhash.New()
	rowBytes := rect.Dx() * bpp
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := y*stride + rect.Min.X*bpp
		if off < 0 || off+rowBytes > len(pix) {
			continue
		}
		d.Write(pix[off : off+rowBytes])
	}
	return d.Sum64()
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
