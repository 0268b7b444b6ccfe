// Package transport implements the stateful SSH-2 binary packet protocol
// (RFC 4253 §6): length+padding framing, per-packet MAC, cipher, delayed
// compression, and sequence numbering, plus the identification-string
// exchange and the net.Conn-style dialer/listener that carries it all.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package transport

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"hash"
	"io"
	"sync"

	"blitter.com/go/sshcore/factory"
)

// Packet length bounds (distilled spec §3 invariant; RFC 4253 §6.1).
const (
	MinPacketLength = 5
	MaxPacketLength = 262144

	// minBlockSize is the floor applied to every direction's block size,
	// matching the teacher's PAD_SZ-adjacent assumption that framing
	// never shrinks below a single DES/AES-class block even with a null
	// cipher installed.
	minBlockSize = 8
)

// ErrProtocolLength is returned when a decoded packet_length field falls
// outside [MinPacketLength, MaxPacketLength].
var ErrProtocolLength = errors.New("transport: packet length out of range")

// ErrMac is returned when the trailing MAC fails constant-time comparison
// against the locally recomputed value.
var ErrMac = errors.New("transport: MAC verification failed")

// direction holds the per-direction codec state (distilled spec §3:
// "Packet Codec State").
type direction struct {
	cipher      cipher.Stream
	mac         hash.Hash
	macSize     int
	blockSize   int
	compression factory.CompressionFactory

	seq     uint32 // wraps mod 2^32; never reset except "continues across NEWKEYS"
	packets uint64
	bytes   uint64
}

func newDirection() direction {
	return direction{blockSize: minBlockSize}
}

// Codec is the stateful packet framer described in distilled spec §4.2,
// grounded on xsnet.Conn.WritePacket/Read's padding scheme and
// cipher.StreamReader/StreamWriter plumbing, corrected from the teacher's
// cumulative-hash pseudo-HMAC (a single hash.Hash fed every payload ever
// sent, reused and never keyed - see xsnet/chan.go getStream) to a true
// per-packet hash.Hash-based HMAC keyed per RFC 4253 §7.2, computed fresh
// over seq||packet on every call as this spec's MAC invariant requires.
type Codec struct {
	encMu sync.Mutex
	decMu sync.Mutex

	egress  direction
	ingress direction

	ingressBuf    []byte
	phase         int // 0: awaiting header, 1: awaiting body
	decoderLength uint32

	rand   io.Reader
	authed *bool // shared with session.Session; gates delayed compression
}

// NewCodec returns a Codec with null cipher/MAC/compression installed on
// both directions (the state before the first KEX completes), drawing
// padding bytes from rnd and consulting *authed for delayed-compression
// activation (distilled spec open question: authed flips true after
// USERAUTH_SUCCESS is sent but before the next ingress dispatch).
func NewCodec(rnd io.Reader, authed *bool) *Codec {
	return &Codec{
		egress:  newDirection(),
		ingress: newDirection(),
		rand:    rnd,
		authed:  authed,
	}
}

// InstallEgress swaps in newly derived egress cipher/MAC/compression
// state (called by the session core on NEWKEYS). Sequence number is
// left untouched; byte/packet counters reset, matching the distilled
// spec's pinned invariant ("counters are reset on NEWKEYS ... sequence
// counters continue").
func (c *Codec) InstallEgress(cs cipher.Stream, mac hash.Hash, macSize, blockSize int, comp factory.CompressionFactory) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	c.egress.cipher = cs
	c.egress.mac = mac
	c.egress.macSize = macSize
	c.egress.blockSize = blockSize
	c.egress.compression = comp
	c.egress.packets = 0
	c.egress.bytes = 0
}

// InstallIngress is InstallEgress's ingress counterpart.
func (c *Codec) InstallIngress(cs cipher.Stream, mac hash.Hash, macSize, blockSize int, comp factory.CompressionFactory) {
	c.decMu.Lock()
	defer c.decMu.Unlock()
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	c.ingress.cipher = cs
	c.ingress.mac = mac
	c.ingress.macSize = macSize
	c.ingress.blockSize = blockSize
	c.ingress.compression = comp
	c.ingress.packets = 0
	c.ingress.bytes = 0
}

// EgressBytes/IngressBytes expose the per-direction byte counters the
// session core sums for the KEX Coordinator's rekey-trigger check.
func (c *Codec) EgressBytes() uint64  { return c.egress.bytes }
func (c *Codec) IngressBytes() uint64 { return c.ingress.bytes }

func compressionActive(d *direction, authed *bool) bool {
	if d.compression.NewWriter == nil {
		return false
	}
	if !d.compression.Delayed {
		return true
	}
	return authed != nil && *authed
}

// Encode serializes payload into one SSH binary packet: optional
// compression, length+padding framing, MAC, and cipher, in that order
// (distilled spec §4.2 Encode steps 1-8). Encode is safe for concurrent
// callers; they are serialized so wire order matches call order.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()

	body := payload
	if compressionActive(&c.egress, c.authed) {
		compressed, err := factory.Deflate(c.egress.compression, body)
		if err != nil {
			return nil, err
		}
		body = compressed
	}

	bs := c.egress.blockSize
	payloadLen := len(body)
	pad := bs - ((payloadLen + 5) % bs)
	if pad < 4 {
		pad += bs
	}

	frame := make([]byte, 4+1+payloadLen+pad)
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+payloadLen+pad))
	frame[4] = byte(pad)
	copy(frame[5:5+payloadLen], body)
	if pad > 0 {
		if _, err := io.ReadFull(c.rand, frame[5+payloadLen:]); err != nil {
			return nil, err
		}
	}

	var macOut []byte
	if c.egress.mac != nil {
		c.egress.mac.Reset()
		var seqBytes [4]byte
		binary.BigEndian.PutUint32(seqBytes[:], c.egress.seq)
		c.egress.mac.Write(seqBytes[:])
		c.egress.mac.Write(frame)
		macOut = c.egress.mac.Sum(nil)[:c.egress.macSize]
	}

	if c.egress.cipher != nil {
		c.egress.cipher.XORKeyStream(frame, frame)
	}

	out := frame
	if macOut != nil {
		out = append(out, macOut...)
	}

	c.egress.seq++
	c.egress.packets++
	c.egress.bytes += uint64(len(out))
	return out, nil
}

// Decode feeds newly arrived bytes into the ingress state machine and
// returns every fully-framed payload that became available as a result
// (distilled spec §4.2 Decode, a two-phase machine over the accumulating
// decoder buffer). It returns zero payloads, not an error, when only a
// partial packet is available - the caller simply waits for more bytes.
func (c *Codec) Decode(chunk []byte) ([][]byte, error) {
	c.decMu.Lock()
	defer c.decMu.Unlock()

	c.ingressBuf = append(c.ingressBuf, chunk...)
	var out [][]byte

	for {
		if c.phase == 0 {
			bs := c.ingress.blockSize
			if len(c.ingressBuf) <= bs {
				break
			}
			if c.ingress.cipher != nil {
				c.ingress.cipher.XORKeyStream(c.ingressBuf[:bs], c.ingressBuf[:bs])
			}
			length := binary.BigEndian.Uint32(c.ingressBuf[:4])
			if length < MinPacketLength || length > MaxPacketLength {
				return out, ErrProtocolLength
			}
			c.decoderLength = length
			c.phase = 1
		}

		frameLen := int(c.decoderLength) + 4
		total := frameLen + c.ingress.macSize
		if len(c.ingressBuf) < total {
			break
		}

		bs := c.ingress.blockSize
		if frameLen > bs && c.ingress.cipher != nil {
			c.ingress.cipher.XORKeyStream(c.ingressBuf[bs:frameLen], c.ingressBuf[bs:frameLen])
		}

		if c.ingress.mac != nil {
			c.ingress.mac.Reset()
			var seqBytes [4]byte
			binary.BigEndian.PutUint32(seqBytes[:], c.ingress.seq)
			c.ingress.mac.Write(seqBytes[:])
			c.ingress.mac.Write(c.ingressBuf[:frameLen])
			sum := c.ingress.mac.Sum(nil)[:c.ingress.macSize]
			if !hmac.Equal(sum, c.ingressBuf[frameLen:total]) {
				return out, ErrMac
			}
		}

		padLen := int(c.ingressBuf[4])
		payloadEnd := frameLen - padLen
		if payloadEnd < 5 {
			return out, ErrProtocolLength
		}
		payload := append([]byte(nil), c.ingressBuf[5:payloadEnd]...)

		if compressionActive(&c.ingress, c.authed) {
			inflated, err := factory.Inflate(c.ingress.compression, payload)
			if err != nil {
				return out, err
			}
			payload = inflated
		}

		out = append(out, payload)

		c.ingress.seq++
		c.ingress.packets++
		c.ingress.bytes += uint64(total)

		remaining := len(c.ingressBuf) - total
		rest := make([]byte, remaining)
		copy(rest, c.ingressBuf[total:])
		c.ingressBuf = rest
		c.phase = 0
	}

	return out, nil
}
