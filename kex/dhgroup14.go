package kex

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"blitter.com/go/sshcore/wire"
)

// dhGroup14Prime is the RFC 3526 2048-bit MODP group ("Oakley Group 14"),
// the classic finite-field Diffie-Hellman group used by
// diffie-hellman-group14-sha256. Grounded on the historical
// golang.org/x/crypto/ssh common.go initDHGroup14 fixed prime (reproduced
// here verbatim, since the constant is the RFC text itself, not original
// code) - the distilled spec's Non-goal is "not inventing new KEX
// mathematics", so this reuses the textbook constant rather than deriving
// one.
const dhGroup14PrimeHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD" +
	"129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A43" +
	"1B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637E" +
	"D6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE4" +
	"5B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA" +
	"3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA" +
	"18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06" +
	"F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A" +
	"8AACAA68FFFFFFFFFFFFFFFF"

var (
	dhGroup14P *big.Int
	dhGroup14G = big.NewInt(2)
)

func init() {
	dhGroup14P, _ = new(big.Int).SetString(dhGroup14PrimeHex, 16)
	Register("diffie-hellman-group14-sha256", func() KeyExchange { return newDHGroup14() })
}

// dhGroup14 implements KeyExchange using classic finite-field
// Diffie-Hellman over the group above, with a SHA-256 exchange hash per
// RFC 4253 §8 (KEXDH_INIT/KEXDH_REPLY), generalized from the teacher's
// raw-socket HKEx/Kyber setup exchanges (xsnet/net.go HKExDialSetup,
// KyberDialSetup) into in-band messages carried by the Packet Codec.
type dhGroup14 struct {
	isServer bool
	x        *big.Int // our private exponent
	ourE     *big.Int // our public value g^x mod p
	peerE    *big.Int
	secret   *big.Int
	hash     []byte

	serverID, clientID               []byte
	serverKexInit, clientKexInit     []byte
}

func newDHGroup14() *dhGroup14 {
	return &dhGroup14{}
}

func (d *dhGroup14) Init(serverID, clientID, serverKexInit, clientKexInit []byte, isServer bool) ([]byte, error) {
	d.isServer = isServer
	d.serverID, d.clientID = serverID, clientID
	d.serverKexInit, d.clientKexInit = serverKexInit, clientKexInit

	x, err := rand.Int(rand.Reader, dhGroup14P)
	if err != nil {
		return nil, err
	}
	if x.Sign() == 0 {
		x.SetInt64(1)
	}
	d.x = x
	d.ourE = new(big.Int).Exp(dhGroup14G, x, dhGroup14P)

	if !isServer {
		// KEXDH_INIT: client sends its public value e.
		b := wire.New()
		b.WriteUint8(30) // SSH_MSG_KEXDH_INIT
		b.WriteMpint(d.ourE)
		return b.Bytes(), nil
	}
	return nil, nil
}

func (d *dhGroup14) Next(payload []byte) ([]byte, bool, error) {
	b := wire.NewFromBytes(payload)
	msgType, err := b.ReadUint8()
	if err != nil {
		return nil, false, err
	}

	if !d.isServer {
		if msgType != 31 { // SSH_MSG_KEXDH_REPLY
			return nil, false, errors.New("kex: dhgroup14 expected KEXDH_REPLY")
		}
		hostKey, err := b.ReadString()
		if err != nil {
			return nil, false, err
		}
		f, err := b.ReadMpint()
		if err != nil {
			return nil, false, err
		}
		sig, err := b.ReadString()
		if err != nil {
			return nil, false, err
		}
		_ = sig // host-key signature verification is an authentication-service concern (distilled spec §1 out of scope)
		if f.Sign() <= 0 || f.Cmp(dhGroup14P) >= 0 {
			return nil, false, errors.New("kex: dhgroup14 peer public value out of range")
		}
		d.peerE = f
		d.secret = new(big.Int).Exp(f, d.x, dhGroup14P)
		d.hash = d.exchangeHash([]byte(hostKey), d.ourE, f, d.secret)
		return nil, true, nil
	}

	// Server side: receive KEXDH_INIT, respond with KEXDH_REPLY.
	if msgType != 30 {
		return nil, false, errors.New("kex: dhgroup14 expected KEXDH_INIT")
	}
	e, err := b.ReadMpint()
	if err != nil {
		return nil, false, err
	}
	if e.Sign() <= 0 || e.Cmp(dhGroup14P) >= 0 {
		return nil, false, errors.New("kex: dhgroup14 peer public value out of range")
	}
	d.peerE = e
	d.secret = new(big.Int).Exp(e, d.x, dhGroup14P)

	// A production server would sign the exchange hash with its host
	// key here; that belongs to the authentication-service boundary
	// (distilled spec §1), so an empty placeholder signature is used.
	hostKey := []byte("")
	d.hash = d.exchangeHash(hostKey, e, d.ourE, d.secret)

	reply := wire.New()
	reply.WriteUint8(31)
	reply.WriteString(string(hostKey))
	reply.WriteMpint(d.ourE)
	reply.WriteString("")
	return reply.Bytes(), true, nil
}

// exchangeHash computes H = SHA256(V_C || V_S || I_C || I_S || K_S || e ||
// f || K) per RFC 4253 §8.
func (d *dhGroup14) exchangeHash(hostKey []byte, e, f, secret *big.Int) []byte {
	b := wire.New()
	b.WriteString(string(d.clientID))
	b.WriteString(string(d.serverID))
	b.WriteString(string(d.clientKexInit))
	b.WriteString(string(d.serverKexInit))
	b.WriteString(string(hostKey))
	b.WriteMpint(e)
	b.WriteMpint(f)
	b.WriteMpint(secret)
	sum := sha256.Sum256(b.Bytes())
	return sum[:]
}

func (d *dhGroup14) SharedSecret() *big.Int { return d.secret }
func (d *dhGroup14) ExchangeHash() []byte   { return d.hash }
