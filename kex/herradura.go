package kex

import (
	"crypto/sha256"
	"errors"
	"math/big"

	hkex "blitter.com/go/herradurakex"
	"blitter.com/go/sshcore/wire"
)

func init() {
	Register("herradura-kex", func() KeyExchange { return newHerradura(256, 64) })
}

// herradura wraps blitter.com/go/herradurakex behind the KeyExchange
// capability, carrying the teacher's HKExDialSetup/HKExAcceptSetup D/peerD
// exchange in-band as a single SSH_MSG_KEXDH_INIT-numbered message instead
// of the teacher's raw fmt.Fprintf/fmt.Fscanf pre-framing exchange.
type herradura struct {
	h        *hkex.HerraduraKEx
	isServer bool
	secret   *big.Int
	hash     []byte

	serverID, clientID           []byte
	serverKexInit, clientKexInit []byte
}

func newHerradura(bits, passes int) *herradura {
	return &herradura{h: hkex.New(bits, passes)}
}

func (k *herradura) Init(serverID, clientID, serverKexInit, clientKexInit []byte, isServer bool) ([]byte, error) {
	k.isServer = isServer
	k.serverID, k.clientID = serverID, clientID
	k.serverKexInit, k.clientKexInit = serverKexInit, clientKexInit

	if !isServer {
		b := wire.New()
		b.WriteUint8(30)
		b.WriteMpint(k.h.D())
		return b.Bytes(), nil
	}
	return nil, nil
}

func (k *herradura) Next(payload []byte) ([]byte, bool, error) {
	b := wire.NewFromBytes(payload)
	msgType, err := b.ReadUint8()
	if err != nil {
		return nil, false, err
	}

	if !k.isServer {
		if msgType != 31 {
			return nil, false, errors.New("kex: herradura expected server D reply")
		}
		peerD, err := b.ReadMpint()
		if err != nil {
			return nil, false, err
		}
		k.h.SetPeerD(peerD)
		k.h.ComputeFA()
		k.finish()
		return nil, true, nil
	}

	if msgType != 30 {
		return nil, false, errors.New("kex: herradura expected client D")
	}
	peerD, err := b.ReadMpint()
	if err != nil {
		return nil, false, err
	}
	k.h.SetPeerD(peerD)
	k.h.ComputeFA()
	k.finish()

	reply := wire.New()
	reply.WriteUint8(31)
	reply.WriteMpint(k.h.D())
	return reply.Bytes(), true, nil
}

func (k *herradura) finish() {
	k.secret = k.h.FA()
	b := wire.New()
	b.WriteString(string(k.clientID))
	b.WriteString(string(k.serverID))
	b.WriteString(string(k.clientKexInit))
	b.WriteString(string(k.serverKexInit))
	b.WriteMpint(k.secret)
	sum := sha256.Sum256(b.Bytes())
	k.hash = sum[:]
}

func (k *herradura) SharedSecret() *big.Int { return k.secret }
func (k *herradura) ExchangeHash() []byte   { return k.hash }
