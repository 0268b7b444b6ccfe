package kex

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"blitter.com/go/kyber"
	"blitter.com/go/sshcore/wire"
)

func init() {
	Register("kyber512-kex", func() KeyExchange { return newKyberKEX(kyber.Kyber512) })
	Register("kyber-kex", func() KeyExchange { return newKyberKEX(kyber.Kyber768) })
	Register("kyber1024-kex", func() KeyExchange { return newKyberKEX(kyber.Kyber1024) })
}

// kyberKEX wraps blitter.com/go/kyber's KEM behind the KeyExchange
// capability, grounded on the teacher's KyberDialSetup/KyberAcceptSetup
// (xsnet/net.go): the client generates a keypair and sends its public key;
// the server encapsulates a shared secret against it and returns the
// ciphertext, folding the teacher's KEX_KYBER512/768/1024 size variants
// into the constructor parameter instead of a runtime switch.
type kyberKEX struct {
	param kyber.ParameterSet

	isServer   bool
	privateKey *kyber.PrivateKey
	publicKey  *kyber.PublicKey
	secret     *big.Int
	hash       []byte

	serverID, clientID           []byte
	serverKexInit, clientKexInit []byte
}

func newKyberKEX(p kyber.ParameterSet) *kyberKEX {
	return &kyberKEX{param: p}
}

func (k *kyberKEX) Init(serverID, clientID, serverKexInit, clientKexInit []byte, isServer bool) ([]byte, error) {
	k.isServer = isServer
	k.serverID, k.clientID = serverID, clientID
	k.serverKexInit, k.clientKexInit = serverKexInit, clientKexInit

	if !isServer {
		pub, priv, err := k.param.GenerateKeyPair(rand.Reader)
		if err != nil {
			return nil, err
		}
		k.publicKey, k.privateKey = pub, priv
		b := wire.New()
		b.WriteUint8(30)
		b.WriteString(string(pub.Bytes()))
		return b.Bytes(), nil
	}
	return nil, nil
}

func (k *kyberKEX) Next(payload []byte) ([]byte, bool, error) {
	b := wire.NewFromBytes(payload)
	msgType, err := b.ReadUint8()
	if err != nil {
		return nil, false, err
	}

	if !k.isServer {
		if msgType != 31 {
			return nil, false, errors.New("kex: kyber expected KEM ciphertext reply")
		}
		ct, err := b.ReadString()
		if err != nil {
			return nil, false, err
		}
		secret := k.privateKey.KEMDecrypt([]byte(ct))
		k.finish(secret)
		return nil, true, nil
	}

	if msgType != 30 {
		return nil, false, errors.New("kex: kyber expected client public key")
	}
	peerPubBytes, err := b.ReadString()
	if err != nil {
		return nil, false, err
	}
	peerPub, err := k.param.PublicKeyFromBytes([]byte(peerPubBytes))
	if err != nil {
		return nil, false, err
	}
	ct, secret, err := peerPub.KEMEncrypt(rand.Reader)
	if err != nil {
		return nil, false, err
	}
	k.finish(secret)

	reply := wire.New()
	reply.WriteUint8(31)
	reply.WriteString(string(ct))
	return reply.Bytes(), true, nil
}

func (k *kyberKEX) finish(secret []byte) {
	k.secret = new(big.Int).SetBytes(secret)
	b := wire.New()
	b.WriteString(string(k.clientID))
	b.WriteString(string(k.serverID))
	b.WriteString(string(k.clientKexInit))
	b.WriteString(string(k.serverKexInit))
	b.WriteMpint(k.secret)
	sum := sha256.Sum256(b.Bytes())
	k.hash = sum[:]
}

func (k *kyberKEX) SharedSecret() *big.Int { return k.secret }
func (k *kyberKEX) ExchangeHash() []byte   { return k.hash }
