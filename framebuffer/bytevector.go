package framebuffer

import "encoding/binary"

// ByteVector is the growable output buffer encoders append wire bytes to
// (spec.md §3). It is a thin wrapper over a byte slice rather than
// bytes.Buffer because encoders need direct access to the backing slice
// (e.g. to patch a length field written earlier) without an extra copy.
type ByteVector struct {
	buf []byte
}

// NewByteVector allocates a ByteVector with the given initial capacity.
func NewByteVector(capacity int) *ByteVector {
	return &ByteVector{buf: make([]byte, 0, capacity)}
}

// Reset truncates the vector to zero length without releasing capacity.
func (v *ByteVector) Reset() {
	v.buf = v.buf[:0]
}

// Len returns the number of bytes currently written.
func (v *ByteVector) Len() int {
	return len(v.buf)
}

// Bytes returns the written bytes. The slice is invalidated by the next
// mutating call.
func (v *ByteVector) Bytes() []byte {
	return v.buf
}

// WriteByte appends a single byte.
func (v *ByteVector) WriteByte(b byte) {
	v.buf = append(v.buf, b)
}

// Write appends p.
func (v *ByteVector) Write(p []byte) {
	v.buf = append(v.buf, p...)
}

// WriteUint16BE appends x as a big-endian u16.
func (v *ByteVector) WriteUint16BE(x uint16) {
	v.buf = binary.BigEndian.AppendUint16(v.buf, x)
}

// WriteUint32BE appends x as a big-endian u32.
func (v *ByteVector) WriteUint32BE(x uint32) {
	v.buf = binary.BigEndian.AppendUint32(v.buf, x)
}

// WriteInt32BE appends x as a big-endian s32 (the RFB rectangle-head
// encoding field is a signed 32-bit value).
func (v *ByteVector) WriteInt32BE(x int32) {
	v.buf = binary.BigEndian.AppendUint32(v.buf, uint32(x))
}
