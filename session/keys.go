package session

import (
	"crypto/cipher"
	"hash"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/kex"
)

// direction bundles the concrete cipher/MAC/compression instances built
// from one side's derived key material, ready to hand to
// transport.Codec.InstallEgress/InstallIngress.
type direction struct {
	cipher    cipher.Stream
	mac       hash.Hash
	macSize   int
	blockSize int
	comp      factory.CompressionFactory
}

// buildDirection constructs the cipher/MAC/compression trio for one
// traffic direction from its negotiated algorithm names and its slice of
// the six RFC 4253 §7.2 derived keys, mirroring the teacher's per-
// direction getStream() key setup (xsnet/chan.go) generalized to the
// Factory Manager Facade's named lookups.
func buildDirection(mgr *factory.Manager, cipherName, macName, compName string, encKey, ivKey, macKey []byte) (direction, error) {
	var d direction

	cf, err := mgr.Cipher(cipherName)
	if err != nil {
		return d, err
	}
	keymat := append(append([]byte(nil), encKey...), ivKey...)
	stream, err := cf.New(keymat)
	if err != nil {
		return d, err
	}
	d.cipher = stream
	d.blockSize = cf.BlockLen

	mf, err := mgr.MAC(macName)
	if err != nil {
		return d, err
	}
	d.mac = mf.New(macKey)
	d.macSize = mf.Size

	comp, err := mgr.Compression(compName)
	if err != nil {
		return d, err
	}
	d.comp = comp

	return d, nil
}

// installDirections builds both traffic directions' concrete crypto state
// from the freshly derived keys and installs them on the session's Codec
// as egress/ingress according to role (distilled spec §4.5: "Install
// ciphers in Encrypt mode on the sending side and Decrypt on the
// receiving side, accounting for role" - both are keystream XOR here, so
// "accounting for role" reduces to which direction is egress vs ingress).
func installDirections(s *Session, keys *kex.Keys, cipherC2S, macC2S, compC2S, cipherS2C, macS2C, compS2C string) error {
	c2s, err := buildDirection(s.mgr, cipherC2S, macC2S, compC2S,
		keys.EncClientToServer, keys.IVClientToServer, keys.IntegrityClientToServer)
	if err != nil {
		return err
	}
	s2c, err := buildDirection(s.mgr, cipherS2C, macS2C, compS2C,
		keys.EncServerToClient, keys.IVServerToClient, keys.IntegrityServerToClient)
	if err != nil {
		return err
	}

	if s.isServer {
		s.codec.InstallEgress(s2c.cipher, s2c.mac, s2c.macSize, s2c.blockSize, s2c.comp)
		s.codec.InstallIngress(c2s.cipher, c2s.mac, c2s.macSize, c2s.blockSize, c2s.comp)
	} else {
		s.codec.InstallEgress(c2s.cipher, c2s.mac, c2s.macSize, c2s.blockSize, c2s.comp)
		s.codec.InstallIngress(s2c.cipher, s2c.mac, s2c.macSize, s2c.blockSize, s2c.comp)
	}
	return nil
}
