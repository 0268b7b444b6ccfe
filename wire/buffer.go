// Package wire implements a read/write-positioned byte buffer with the
// typed getters/putters SSH binary packets are built from (RFC 4251 §5).
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package wire

import (
	"encoding/binary"
	"errors"
	"math/big"
)

// ErrUnderflow is returned when a typed read runs past the write position.
var ErrUnderflow = errors.New("wire: buffer underflow")

// Buffer is an expandable byte buffer with independent read and write
// positions. Reads never advance past the write position; writes grow
// capacity as needed.
type Buffer struct {
	buf  []byte
	rpos int
	wpos int
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewFromBytes returns a Buffer whose contents are already fully written
// (rpos at 0, wpos at len(b)), taking ownership of b.
func NewFromBytes(b []byte) *Buffer {
	return &Buffer{buf: b, wpos: len(b)}
}

// Available reports how many unread bytes remain.
func (b *Buffer) Available() int {
	return b.wpos - b.rpos
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.rpos:b.wpos]
}

// Len returns the total written length, including already-read bytes.
func (b *Buffer) Len() int {
	return b.wpos
}

// Reset empties the buffer, keeping its backing array.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.rpos = 0
	b.wpos = 0
}

// Compact drops already-read bytes and rebases rpos/wpos to zero.
func (b *Buffer) Compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.rpos:b.wpos])
	b.buf = b.buf[:n]
	b.rpos = 0
	b.wpos = n
}

func (b *Buffer) grow(n int) {
	need := b.wpos + n
	if need <= cap(b.buf) {
		b.buf = b.buf[:need]
		b.wpos = need
		return
	}
	nb := make([]byte, need, need*2+16)
	copy(nb, b.buf[:b.wpos])
	b.buf = nb
	b.wpos = need
}

// WriteRaw appends raw bytes.
func (b *Buffer) WriteRaw(p []byte) {
	b.grow(len(p))
	copy(b.buf[b.wpos-len(p):], p)
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.grow(1)
	b.buf[b.wpos-1] = v
}

// WriteBool appends a boolean as a single byte (0 or 1).
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.grow(4)
	binary.BigEndian.PutUint32(b.buf[b.wpos-4:], v)
}

// WriteUint64 appends a big-endian uint64.
func (b *Buffer) WriteUint64(v uint64) {
	b.grow(8)
	binary.BigEndian.PutUint64(b.buf[b.wpos-8:], v)
}

// WriteString appends a uint32 length prefix followed by the UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteUint32(uint32(len(s)))
	b.WriteRaw([]byte(s))
}

// WriteMpint appends a multiple-precision integer per RFC 4251 §5: a
// uint32 length followed by the big-endian magnitude, with a leading zero
// byte inserted when the high bit of the first byte would otherwise be
// mistaken for a sign bit. Only non-negative values are encoded
// correctly: a negative n is written as its magnitude.
func (b *Buffer) WriteMpint(n *big.Int) {
	if n.Sign() == 0 {
		b.WriteUint32(0)
		return
	}
	bs := n.Bytes()
	if bs[0]&0x80 != 0 {
		padded := make([]byte, len(bs)+1)
		copy(padded[1:], bs)
		bs = padded
	}
	b.WriteUint32(uint32(len(bs)))
	b.WriteRaw(bs)
}

// ReadUint8 reads one byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	if b.Available() < 1 {
		return 0, ErrUnderflow
	}
	v := b.buf[b.rpos]
	b.rpos++
	return v, nil
}

// ReadBool reads a single byte as a boolean (nonzero is true).
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.Available() < 4 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint32(b.buf[b.rpos:])
	b.rpos += 4
	return v, nil
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	if b.Available() < 8 {
		return 0, ErrUnderflow
	}
	v := binary.BigEndian.Uint64(b.buf[b.rpos:])
	b.rpos += 8
	return v, nil
}

// ReadRaw reads exactly n raw bytes.
func (b *Buffer) ReadRaw(n int) ([]byte, error) {
	if b.Available() < n {
		return nil, ErrUnderflow
	}
	v := b.buf[b.rpos : b.rpos+n]
	b.rpos += n
	return v, nil
}

// ReadString reads a uint32-length-prefixed UTF-8 string.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	raw, err := b.ReadRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadMpint reads an RFC 4251 §5 multiple-precision integer as an unsigned
// magnitude; negative (two's-complement) values are not decoded.
func (b *Buffer) ReadMpint() (*big.Int, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	raw, err := b.ReadRaw(int(n))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}
