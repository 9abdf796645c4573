package framebuffer

import "testing"

func TestByteVectorWriteAndReset(t *testing.T) {
	v := NewByteVector(4)
	v.WriteByte(0x01)
	v.WriteUint16BE(0x0203)
	v.WriteUint32BE(0x04050607)
	v.WriteInt32BE(-1)

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xff, 0xff, 0xff, 0xff}
	got := v.Bytes()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%x)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], want[i])
		}
	}

	v.Reset()
	if v.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", v.Len())
	}
}

func TestByteVectorWriteAppendsRaw(t *testing.T) {
	v := NewByteVector(0)
	v.Write([]byte{1, 2, 3})
	v.Write([]byte{4, 5})
	if v.Len() != 5 {
		t.Fatalf("Len = %d, want 5", v.Len())
	}
}
