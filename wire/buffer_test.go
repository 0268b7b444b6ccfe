package wire

import (
	"bytes"
	"math/big"
	"testing"
)

func TestUint32RoundTrip(t *testing.T) {
	b := New()
	b.WriteUint32(0xdeadbeef)
	v, err := b.ReadUint32()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("got %x, want %x", v, 0xdeadbeef)
	}
	if b.Available() != 0 {
		t.Fatalf("expected buffer drained, got %d bytes left", b.Available())
	}
}

func TestStringRoundTrip(t *testing.T) {
	b := New()
	b.WriteString("ssh-userauth")
	s, err := b.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "ssh-userauth" {
		t.Fatalf("got %q", s)
	}
}

func TestMpintPositiveHighBit(t *testing.T) {
	// 0x80 must be encoded with a leading zero byte so it isn't read as negative.
	n := big.NewInt(0x80)
	b := New()
	b.WriteMpint(n)
	raw := b.Bytes()
	if len(raw) != 6 || raw[4] != 0x00 || raw[5] != 0x80 {
		t.Fatalf("unexpected encoding: %x", raw)
	}
	got, err := b.ReadMpint()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(n) != 0 {
		t.Fatalf("got %v want %v", got, n)
	}
}

func TestMpintZero(t *testing.T) {
	b := New()
	b.WriteMpint(big.NewInt(0))
	if !bytes.Equal(b.Bytes(), []byte{0, 0, 0, 0}) {
		t.Fatalf("zero mpint should encode as a zero-length string, got %x", b.Bytes())
	}
}

func TestReadUnderflow(t *testing.T) {
	b := New()
	b.WriteUint8(1)
	if _, err := b.ReadUint32(); err != ErrUnderflow {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
}

func TestCompact(t *testing.T) {
	b := New()
	b.WriteString("hello")
	if _, err := b.ReadUint32(); err != nil {
		t.Fatal(err)
	}
	b.Compact()
	if b.Available() != 5 {
		t.Fatalf("expected 5 bytes available after compact, got %d", b.Available())
	}
}
