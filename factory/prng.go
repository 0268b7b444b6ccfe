package factory

import (
	"crypto/rand"
	"io"
)

// PRNG is the source of randomness used for packet padding, KEXINIT
// cookies, and KEX algorithm exponents. The default factory wraps
// crypto/rand.Reader; tests may substitute a deterministic Reader.
type PRNG struct {
	io.Reader
}

// DefaultPRNG returns the production PRNG backed by crypto/rand.
func DefaultPRNG() PRNG {
	return PRNG{rand.Reader}
}

// NewPRNG wraps an arbitrary io.Reader as a PRNG, used by tests that need
// reproducible padding/cookie bytes.
func NewPRNG(r io.Reader) PRNG {
	return PRNG{r}
}

// Read fills b with random bytes, panicking only if the underlying
// reader is nil (a programming error, not a runtime condition).
func (p PRNG) Read(b []byte) (int, error) {
	return p.Reader.Read(b)
}
