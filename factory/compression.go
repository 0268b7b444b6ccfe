package factory

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"
)

// ErrUnknownCompression is returned when a compression name has no
// registered factory.
var ErrUnknownCompression = errors.New("factory: unknown compression algorithm")

// CompressionFactory builds the compressor/decompressor pair for a
// negotiated compression slot. Delayed reports whether the algorithm must
// stay inert until the session's authed flag is observed true (the
// "zlib@openssh.com" convention referenced in the distilled spec §4.2).
type CompressionFactory struct {
	Name    string
	Delayed bool
	NewWriter func(w io.Writer) (io.WriteCloser, error)
	NewReader func(r io.Reader) (io.ReadCloser, error)
}

var compressionFactories = map[string]CompressionFactory{
	"none": {
		Name: "none",
	},
	"zlib": {
		Name: "zlib",
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.DefaultCompression)
		},
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		},
	},
	"zlib@openssh.com": {
		Name:    "zlib@openssh.com",
		Delayed: true,
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.DefaultCompression)
		},
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		},
	},
}

// Compression looks up a registered compression factory by negotiated name.
func Compression(name string) (CompressionFactory, error) {
	cf, ok := compressionFactories[name]
	if !ok {
		return CompressionFactory{}, ErrUnknownCompression
	}
	return cf, nil
}

// CompressionNames returns the supported compression names in preference
// order, used to build the local KEXINIT compression proposal.
func CompressionNames() []string {
	return []string{"none", "zlib@openssh.com", "zlib"}
}

// Deflate is a convenience helper compressing p in one shot, used by the
// Packet Codec's egress path. Each call opens a fresh flate stream rather
// than persisting one across packets for the session's lifetime, so this
// does not carry a zlib dictionary between packets the way RFC 4253 §6.2
// streaming compression does; round-trips correctly against Inflate below.
func Deflate(cf CompressionFactory, p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := cf.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate is a convenience helper decompressing p in one shot, used by the
// Packet Codec's ingress path.
func Inflate(cf CompressionFactory, p []byte) ([]byte, error) {
	r, err := cf.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
