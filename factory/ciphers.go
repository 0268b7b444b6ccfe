// Package factory is the Factory Manager Facade: a named-factory registry
// for ciphers, MACs, compressors, and the PRNG, replacing the teacher's
// single hardwired getStream() switch (xsnet/chan.go) with pluggable
// lookup by negotiated algorithm name.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package factory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"log"

	"blitter.com/go/cryptmt"
	"blitter.com/go/wanderer"
	"github.com/aead/chacha20/chacha"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/twofish"
)

// ErrUnknownCipher is returned when a cipher name has no registered factory.
var ErrUnknownCipher = errors.New("factory: unknown cipher algorithm")

// CipherFactory constructs a keystream cipher.Stream from expanded key
// material. keymat must supply at least KeySize+IVSize bytes.
type CipherFactory struct {
	Name     string
	KeySize  int
	IVSize   int
	BlockLen int // block size used for Packet Codec padding/MAC framing; 8 for stream ciphers with no natural block
	New      func(keymat []byte) (cipher.Stream, error)
}

// expandKeyMat appends one SHA-256 digest of keymat when keymat is shorter
// than 2*minlen bytes (a single 32-byte extension, so very short input can
// still end up below 2*minlen), mirroring xsnet/chan.go's expandKeyMat (used there for small
// Herradura KEX moduli that otherwise can't fill a cipher's key+IV).
func expandKeyMat(keymat []byte, minlen int) []byte {
	if len(keymat) < 2*minlen {
		h := sha256.New()
		h.Write(keymat)
		keymat = append(keymat, h.Sum(nil)...)
		log.Println("[factory: keymat short - applying SHA256 key expansion]")
	}
	return keymat
}

var cipherFactories = map[string]CipherFactory{
	"aes256-ctr": {
		Name: "aes256-ctr", KeySize: 32, IVSize: aes.BlockSize, BlockLen: aes.BlockSize,
		New: func(keymat []byte) (cipher.Stream, error) {
			keymat = expandKeyMat(keymat, aes.BlockSize)
			block, err := aes.NewCipher(keymat[:32])
			if err != nil {
				return nil, err
			}
			return cipher.NewCTR(block, keymat[32:32+aes.BlockSize]), nil
		},
	},
	"twofish128-ctr": {
		Name: "twofish128-ctr", KeySize: 16, IVSize: twofish.BlockSize, BlockLen: twofish.BlockSize,
		New: func(keymat []byte) (cipher.Stream, error) {
			keymat = expandKeyMat(keymat, twofish.BlockSize)
			block, err := twofish.NewCipher(keymat[:16])
			if err != nil {
				return nil, err
			}
			return cipher.NewCTR(block, keymat[16:16+twofish.BlockSize]), nil
		},
	},
	"blowfish64-ctr": {
		Name: "blowfish64-ctr", KeySize: 8, IVSize: blowfish.BlockSize, BlockLen: blowfish.BlockSize,
		New: func(keymat []byte) (cipher.Stream, error) {
			// blowfish.NewCipher requires an IV of exactly BlockSize; unlike
			// aes/twofish it does not tolerate an oversized one (see
			// xsnet/chan.go's note on this same quirk).
			keymat = expandKeyMat(keymat, blowfish.BlockSize)
			block, err := blowfish.NewCipher(keymat[:8])
			if err != nil {
				return nil, err
			}
			return cipher.NewCTR(block, keymat[8:8+blowfish.BlockSize]), nil
		},
	},
	"cryptmt1": {
		Name: "cryptmt1", KeySize: 0, IVSize: 0, BlockLen: 8,
		New: func(keymat []byte) (cipher.Stream, error) {
			return cryptmt.New(nil, nil, keymat), nil
		},
	},
	"wanderer": {
		Name: "wanderer", KeySize: 0, IVSize: 0, BlockLen: 8,
		New: func(keymat []byte) (cipher.Stream, error) {
			return wanderer.New(keymat), nil
		},
	},
	"chacha20-12": {
		Name: "chacha20-12", KeySize: chacha.KeySize, IVSize: chacha.INonceSize, BlockLen: 8,
		New: func(keymat []byte) (cipher.Stream, error) {
			keymat = expandKeyMat(keymat, chacha.KeySize)
			key := keymat[:chacha.KeySize]
			iv := keymat[chacha.KeySize : chacha.KeySize+chacha.INonceSize]
			return chacha.NewCipher(iv, key, 20)
		},
	},
}

// Cipher looks up a registered cipher factory by negotiated algorithm name.
func Cipher(name string) (CipherFactory, error) {
	cf, ok := cipherFactories[name]
	if !ok {
		return CipherFactory{}, ErrUnknownCipher
	}
	return cf, nil
}

// CipherNames returns the supported cipher names in preference order, used
// to build the local KEXINIT cipher proposal.
func CipherNames() []string {
	return []string{"aes256-ctr", "twofish128-ctr", "chacha20-12", "cryptmt1", "wanderer", "blowfish64-ctr"}
}
