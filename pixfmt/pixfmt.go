// Package pixfmt is the pixel-format registry collaborator named in
// spec.md §6: a table mapping FourCC codes to the RFB wire pixel-format
// record (bits-per-pixel, depth, byte order, channel masks/shifts).
package pixfmt

import "fmt"

// FourCC is a 4-character pixel format code, e.g. "XR24" for XRGB8888.
type FourCC uint32

// FourCC values for the formats this module's encoders understand.
var (
	XRGB8888 = MakeFourCC('X', 'R', '2', '4')
	ARGB8888 = MakeFourCC('A', 'R', '2', '4')
	XBGR8888 = MakeFourCC('X', 'B', '2', '4')
	ABGR8888 = MakeFourCC('A', 'B', '2', '4')
)

// MakeFourCC packs four characters into a FourCC the way V4L2/DRM do.
func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f FourCC) String() string {
	b := [4]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b[:])
}

// Format is the RFB PixelFormat wire record (RFC 6143 §7.4): bits per
// pixel, color depth, byte order, and the per-channel max/shift pairs a
// decoder needs to unpack a sample.
type Format struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool

	RedMax, GreenMax, BlueMax       uint16
	RedShift, GreenShift, BlueShift uint8
}

// BytesPerPixel returns the storage width of one sample.
func (f Format) BytesPerPixel() int {
	return (int(f.BitsPerPixel) + 7) / 8
}

// CompactBytesPerPixel is the width Tight's "compact" pixel representation
// uses for this format: 3 bytes for 24-bit-depth true-colour formats (the
// alpha/padding byte is dropped), otherwise the same as BytesPerPixel.
func (f Format) CompactBytesPerPixel() int {
	if f.TrueColour && f.Depth == 24 && f.BitsPerPixel == 32 {
		return 3
	}
	return f.BytesPerPixel()
}

var registry = map[FourCC]Format{
	XRGB8888: {
		BitsPerPixel: 32, Depth: 24, BigEndian: false, TrueColour: true,
		RedMax: 0xff, GreenMax: 0xff, BlueMax: 0xff,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	},
	ARGB8888: {
		BitsPerPixel: 32, Depth: 24, BigEndian: false, TrueColour: true,
		RedMax: 0xff, GreenMax: 0xff, BlueMax: 0xff,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	},
	XBGR8888: {
		BitsPerPixel: 32, Depth: 24, BigEndian: false, TrueColour: true,
		RedMax: 0xff, GreenMax: 0xff, BlueMax: 0xff,
		RedShift: 0, GreenShift: 8, BlueShift: 16,
	},
	ABGR8888: {
		BitsPerPixel: 32, Depth: 24, BigEndian: false, TrueColour: true,
		RedMax: 0xff, GreenMax: 0xff, BlueMax: 0xff,
		RedShift: 0, GreenShift: 8, BlueShift: 16,
	},
}

// ErrUnknownFormat is returned by Lookup for an unregistered FourCC.
type ErrUnknownFormat struct{ Code FourCC }

func (e ErrUnknownFormat) Error() string {
	return fmt.Sprintf("pixfmt: unknown FourCC %q", e.Code)
}

// Lookup resolves a FourCC to its RFB pixel-format record.
func Lookup(code FourCC) (Format, error) {
	f, ok := registry[code]
	if !ok {
		return Format{}, ErrUnknownFormat{Code: code}
	}
	return f, nil
}

// Register adds or replaces the format for a FourCC. Used by callers that
// need a format this module doesn't ship by default.
func Register(code FourCC, f Format) {
	registry[code] = f
}

// ExtractRGB unpacks the 8-bit red/green/blue samples out of a little-
// endian 32-bit pixel encoded according to f's shifts, regardless of which
// of the four channel orderings f uses.
func ExtractRGB(f Format, pixel uint32) (r, g, b byte) {
	r = byte(pixel >> f.RedShift)
	g = byte(pixel >> f.GreenShift)
	b = byte(pixel >> f.BlueShift)
	return
}

// PackCompact writes the Tight "compact" representation of (r, g, b) under
// destination format f into out: the low CompactBytesPerPixel bytes of the
// little-endian 32-bit pixel that ExtractRGB would have unpacked them from
// (spec.md §4.4: "recode rows through a canonical ... 3-byte
// representation" when the destination is 24-bit true-colour).
func PackCompact(f Format, r, g, b byte, out []byte) {
	value := uint32(r)<<f.RedShift | uint32(g)<<f.GreenShift | uint32(b)<<f.BlueShift
	n := f.CompactBytesPerPixel()
	for i := 0; i < n; i++ {
		out[i] = byte(value >> (8 * i))
	}
}
