// Package region implements the damage-region value type shared across the
// damage refinery, resampler, Tight encoder and display aggregator
// (spec.md §3's "Damage region": a set of axis-aligned integer rectangles
// over the FB pixel grid). It is grounded on the rectangle-list idiom the
// corpus's own RFB server uses to describe changed screen regions
// (compareImages in the retrieved rfb.go reference), built on the stdlib
// image.Rectangle rather than a hand-rolled rect type.
package region

import "image"

// Region is an unordered set of rectangles. Empty sets are legal and
// represent "nothing changed".
type Region []image.Rectangle

// Empty reports whether the region contains no rectangles.
func (r Region) Empty() bool {
	return len(r) == 0
}

// Add appends rect to the region unless it is empty.
func (r Region) Add(rect image.Rectangle) Region {
	if rect.Empty() {
		return r
	}
	return append(r, rect)
}

// Union returns the concatenation of r and other. Callers that need a
// minimal rectangle set should follow with a de-duplication pass; spec.md
// does not require rectangles to be merged, only that every dirtied tile's
// bounding box appears.
func Union(r, other Region) Region {
	if len(other) == 0 {
		return r
	}
	out := make(Region, 0, len(r)+len(other))
	out = append(out, r...)
	out = append(out, other...)
	return out
}

// Bounds returns the smallest rectangle containing every rectangle in r.
// The zero Rectangle is returned for an empty region.
func (r Region) Bounds() image.Rectangle {
	if len(r) == 0 {
		return image.Rectangle{}
	}
	b := r[0]
	for _, rect := range r[1:] {
		b = b.Union(rect)
	}
	return b
}

// Full returns a Region covering the entire w×h pixel grid.
func Full(w, h int) Region {
	if w <= 0 || h <= 0 {
		return nil
	}
	return Region{image.Rect(0, 0, w, h)}
}

// Translate shifts every rectangle in r by (dx, dy).
func (r Region) Translate(dx, dy int) Region {
	out := make(Region, len(r))
	for i, rect := range r {
		out[i] = rect.Add(image.Pt(dx, dy))
	}
	return out
}
