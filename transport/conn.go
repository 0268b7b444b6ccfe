package transport

import (
	"bufio"
	"crypto/sha1"
	"net"

	kcp "github.com/xtaci/kcp-go"
	"golang.org/x/crypto/pbkdf2"
)

// Conn is a net.Conn wrapped with SSH identification exchange buffering,
// mirroring the teacher's xsnet.Conn: a thin struct embedding the raw
// net.Conn plus the protocol state layered on top of it. Framing itself
// lives in the Session's own Codec (built from the negotiated algorithms),
// not here; Conn only carries the raw byte stream and the identification
// strings exchanged before a Session exists.
type Conn struct {
	net.Conn
	R *bufio.Reader

	LocalID  string
	RemoteID string
}

// wrap buffers reads through bufio so ReceiveClientIdentification/
// ReceiveServerIdentification can line-scan, then hands the same Reader's
// leftover buffer to the Session's Codec.Decode via Drain.
func wrap(c net.Conn) *Conn {
	return &Conn{Conn: c, R: bufio.NewReader(c)}
}

// Drain returns bytes bufio has already read from the socket but not yet
// handed to the identification scanner, so the Packet Codec sees them
// too instead of losing them to bufio's internal buffer.
func (c *Conn) Drain() ([]byte, error) {
	n := c.R.Buffered()
	if n == 0 {
		return nil, nil
	}
	return c.R.Peek(n)
}

// newKCPBlockCrypt (below) constructs the github.com/xtaci/kcp-go FEC/BlockCrypt
// layer from a shared key+salt, grounded directly on the teacher's
// hkexnet/kcp.go _newKCPBlockCrypt/kcpDial/kcpListen (AES variant kept;
// the teacher's full BlockCrypt enum is preserved as KCPAlg for parity
// with its extension-string selection).
type KCPAlg uint8

// KCP BlockCrypt algorithm selectors, unchanged from the teacher's
// hkexnet/kcp.go KCP_* enum.
const (
	KCPNone KCPAlg = iota
	KCPAES
	KCPBlowfish
	KCPCast5
	KCPSM4
	KCPSalsa20
	KCPSimpleXOR
	KCPTea
	KCP3DES
	KCPTwofish
	KCPXTea
)

func newKCPBlockCrypt(alg KCPAlg, key []byte) (kcp.BlockCrypt, error) {
	switch alg {
	case KCPNone:
		return kcp.NewNoneBlockCrypt(key)
	case KCPAES:
		return kcp.NewAESBlockCrypt(key)
	case KCPBlowfish:
		return kcp.NewBlowfishBlockCrypt(key)
	case KCPCast5:
		return kcp.NewCast5BlockCrypt(key)
	case KCPSM4:
		return kcp.NewSM4BlockCrypt(key)
	case KCPSalsa20:
		return kcp.NewSalsa20BlockCrypt(key)
	case KCPSimpleXOR:
		return kcp.NewSimpleXORBlockCrypt(key)
	case KCPTea:
		return kcp.NewTEABlockCrypt(key)
	case KCP3DES:
		return kcp.NewTripleDESBlockCrypt(key)
	case KCPTwofish:
		return kcp.NewTwofishBlockCrypt(key)
	case KCPXTea:
		return kcp.NewXTEABlockCrypt(key)
	}
	return kcp.NewAESBlockCrypt(key)
}

func kcpDial(addr string, alg KCPAlg, key, salt []byte) (net.Conn, error) {
	derived := pbkdf2.Key(key, salt, 1024, 32, sha1.New)
	block, err := newKCPBlockCrypt(alg, derived)
	if err != nil {
		return nil, err
	}
	return kcp.DialWithOptions(addr, block, 10, 3)
}

func kcpListen(addr string, alg KCPAlg, key, salt []byte) (net.Listener, error) {
	derived := pbkdf2.Key(key, salt, 1024, 32, sha1.New)
	block, err := newKCPBlockCrypt(alg, derived)
	if err != nil {
		return nil, err
	}
	return kcp.ListenWithOptions(addr, block, 10, 3)
}

// Dial opens a connection over "tcp" or "kcp" (FEC-protected UDP via
// github.com/xtaci/kcp-go), mirroring xsnet.Conn's Dial proto switch, and
// wraps it ready for identification exchange.
func Dial(proto, addr string) (*Conn, error) {
	var c net.Conn
	var err error
	if proto == "kcp" {
		c, err = kcpDial(addr, KCPAES, []byte("xs-kcp-key"), []byte("xs-kcp-salt"))
	} else {
		c, err = net.Dial(proto, addr)
	}
	if err != nil {
		return nil, err
	}
	return wrap(c), nil
}

// Listener wraps a net.Listener the same way Conn wraps a net.Conn.
type Listener struct {
	net.Listener
}

// Listen opens a listener over "tcp" or "kcp".
func Listen(proto, addr string) (*Listener, error) {
	var l net.Listener
	var err error
	if proto == "kcp" {
		l, err = kcpListen(addr, KCPAES, []byte("xs-kcp-key"), []byte("xs-kcp-salt"))
	} else {
		l, err = net.Listen(proto, addr)
	}
	if err != nil {
		return nil, err
	}
	return &Listener{l}, nil
}

// Accept blocks for the next inbound connection and wraps it ready for
// identification exchange.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return wrap(c), nil
}
