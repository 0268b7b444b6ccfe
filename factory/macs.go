package factory

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// ErrUnknownMAC is returned when a MAC name has no registered factory.
var ErrUnknownMAC = errors.New("factory: unknown MAC algorithm")

// MACFactory constructs a keyed hash.Hash used to compute the per-packet
// MAC (seq || unencrypted_packet), replacing the teacher's cumulative,
// unkeyed hash.Hash running total (xsnet/chan.go's getStream: a single
// hash.Hash fed every payload as the connection progresses, never reset
// and never keyed) with a correct per-call RFC 4253 §6.4 HMAC.
type MACFactory struct {
	Name string
	Size int // MAC output length in bytes
	New  func(key []byte) hash.Hash
}

var macFactories = map[string]MACFactory{
	"hmac-sha2-256": {
		Name: "hmac-sha2-256", Size: sha256.Size,
		New: func(key []byte) hash.Hash { return hmac.New(sha256.New, key) },
	},
	"hmac-sha2-512": {
		Name: "hmac-sha2-512", Size: sha512.Size,
		New: func(key []byte) hash.Hash { return hmac.New(sha512.New, key) },
	},
}

// MAC looks up a registered MAC factory by negotiated algorithm name.
func MAC(name string) (MACFactory, error) {
	mf, ok := macFactories[name]
	if !ok {
		return MACFactory{}, ErrUnknownMAC
	}
	return mf, nil
}

// MACNames returns the supported MAC names in preference order.
func MACNames() []string {
	return []string{"hmac-sha2-256", "hmac-sha2-512"}
}
