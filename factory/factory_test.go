package factory

import (
	"bytes"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	for _, name := range CipherNames() {
		cf, err := Cipher(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		keymat := make([]byte, 256)
		for i := range keymat {
			keymat[i] = byte(i)
		}
		enc, err := cf.New(append([]byte(nil), keymat...))
		if err != nil {
			t.Fatalf("%s: New enc: %v", name, err)
		}
		dec, err := cf.New(append([]byte(nil), keymat...))
		if err != nil {
			t.Fatalf("%s: New dec: %v", name, err)
		}
		plain := []byte("the quick brown fox jumps over the lazy dog")
		ct := make([]byte, len(plain))
		enc.XORKeyStream(ct, plain)
		pt := make([]byte, len(plain))
		dec.XORKeyStream(pt, ct)
		if !bytes.Equal(pt, plain) {
			t.Fatalf("%s: round trip mismatch: got %q want %q", name, pt, plain)
		}
	}
}

func TestCipherUnknownName(t *testing.T) {
	if _, err := Cipher("rot13"); err != ErrUnknownCipher {
		t.Fatalf("expected ErrUnknownCipher, got %v", err)
	}
}

func TestMACDeterministic(t *testing.T) {
	for _, name := range MACNames() {
		mf, err := MAC(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		key := []byte("01234567890123456789012345678901")
		h1 := mf.New(key)
		h2 := mf.New(key)
		h1.Write([]byte("packet payload"))
		h2.Write([]byte("packet payload"))
		if !bytes.Equal(h1.Sum(nil), h2.Sum(nil)) {
			t.Fatalf("%s: same key+input produced different MACs", name)
		}
		if h1.Size() != mf.Size {
			t.Fatalf("%s: Size()=%d want %d", name, h1.Size(), mf.Size)
		}
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	cf, err := Compression("zlib")
	if err != nil {
		t.Fatal(err)
	}
	plain := bytes.Repeat([]byte("compress me please "), 64)
	deflated, err := Deflate(cf, plain)
	if err != nil {
		t.Fatal(err)
	}
	inflated, err := Inflate(cf, deflated)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(inflated, plain) {
		t.Fatal("deflate/inflate round trip mismatch")
	}
}

func TestCompressionDelayedFlag(t *testing.T) {
	cf, err := Compression("zlib@openssh.com")
	if err != nil {
		t.Fatal(err)
	}
	if !cf.Delayed {
		t.Fatal("zlib@openssh.com must report Delayed=true")
	}
	none, err := Compression("none")
	if err != nil {
		t.Fatal(err)
	}
	if none.Delayed {
		t.Fatal("none must not be delayed")
	}
}

func TestManagerDefaults(t *testing.T) {
	m := NewManager()
	if len(m.CipherNames()) == 0 || len(m.MACNames()) == 0 || len(m.CompressionNames()) == 0 {
		t.Fatal("manager must expose non-empty name lists")
	}
	b := make([]byte, 16)
	if _, err := m.PRNG.Read(b); err != nil {
		t.Fatalf("PRNG read: %v", err)
	}
}
