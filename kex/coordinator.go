package kex

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sync"
	"time"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/future"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/wire"
)

// State is one of the Coordinator's five states (distilled spec §4.5).
type State int

// Coordinator states, matching the distilled spec's transition table.
const (
	StateUnknown State = iota
	StateInit
	StateRun
	StateKeys
	StateDone
)

// Default rekey thresholds (distilled spec §4.5, RFC 4253 §9 guidance).
const (
	DefaultRekeyBytes = 1 << 30       // 1 GiB
	DefaultRekeyTime  = 1 * time.Hour // 3,600,000 ms
)

// ErrNoCommonKEXAlgorithm is returned when negotiation produces no agreed
// kex-algorithms slot value, or the agreed name has no registered
// implementation.
var ErrNoCommonKEXAlgorithm = errors.New("kex: no usable key exchange algorithm")

// Keys holds the six RFC 4253 §7.2 derived keys for one direction pair.
type Keys struct {
	IVClientToServer        []byte // key A
	IVServerToClient        []byte // key B
	EncClientToServer       []byte // key C
	EncServerToClient       []byte // key D
	IntegrityClientToServer []byte // key E
	IntegrityServerToClient []byte // key F
}

// Coordinator drives one session's KEX lifecycle: initial key exchange and
// every subsequent rekey, per distilled spec §4.5.
//
// Grounded on xsnet's ClientInitKEX/HandleKEX control flow, generalized
// from a single hardwired Herradura run into a State/Proposal/KeyExchange
// pipeline that can drive any registered algorithm, repeatedly, for
// rekeying.
type Coordinator struct {
	mu    sync.Mutex
	state State

	isServer bool
	mgr      *factory.Manager
	allow    *AllowList

	localID, remoteID string

	localProposal  *Proposal
	remoteProposal *Proposal
	negotiated     map[Slot]string

	impl KeyExchange

	sessionID []byte // first exchange hash H; fixed for the life of the connection

	RekeyFuture *future.OneShot

	lastRekey time.Time

	RekeyBytes uint64
	RekeyTime  time.Duration
}

// NewCoordinator returns a Coordinator in StateUnknown, ready to begin the
// initial key exchange once local/remote identification strings are known.
func NewCoordinator(isServer bool, mgr *factory.Manager, allow *AllowList) *Coordinator {
	return &Coordinator{
		state:       StateUnknown,
		isServer:    isServer,
		mgr:         mgr,
		allow:       allow,
		RekeyFuture: future.NewOneShot(),
		RekeyBytes:  DefaultRekeyBytes,
		RekeyTime:   DefaultRekeyTime,
	}
}

// State returns the Coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start transitions UNKNOWN->INIT for the initial exchange, or DONE->INIT
// for a locally initiated rekey, building and returning the local KEXINIT
// payload to send (distilled spec §4.5: "session start --> INIT (send
// local KEXINIT)").
func (c *Coordinator) Start(localID, remoteID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnknown && c.state != StateDone {
		return nil, errors.New("kex: Start called outside UNKNOWN or DONE state")
	}
	rekey := c.state == StateDone
	c.localID, c.remoteID = localID, remoteID
	p, err := BuildProposal(c.mgr, Names(), []string{"ssh-rsa"}, nil)
	if err != nil {
		return nil, err
	}
	c.localProposal = p
	if rekey {
		c.RekeyFuture = future.NewOneShot()
	}
	c.state = StateInit
	return p.Raw, nil
}

// HandleKexInit processes an inbound SSH_MSG_KEXINIT, from either INIT or
// DONE (the rekey path), negotiates the ten slots, constructs the
// registered KeyExchange implementation, and returns any outbound KEXINIT
// (only when transitioning from DONE, per the state table) followed by the
// algorithm's own first message, if any.
func (c *Coordinator) HandleKexInit(payload []byte) (outbound [][]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInit:
		// already sent local proposal in Start
	case StateDone:
		p, err := BuildProposal(c.mgr, Names(), []string{"ssh-rsa"}, nil)
		if err != nil {
			return nil, err
		}
		c.localProposal = p
		outbound = append(outbound, p.Raw)
		c.RekeyFuture = future.NewOneShot()
	default:
		return nil, errors.New("kex: unexpected KEXINIT in current state")
	}

	remote, err := ParseProposal(payload)
	if err != nil {
		return nil, err
	}
	c.remoteProposal = remote

	var clientProposal, serverProposal *Proposal
	if c.isServer {
		clientProposal, serverProposal = remote, c.localProposal
	} else {
		clientProposal, serverProposal = c.localProposal, remote
	}

	agreed, err := Negotiate(clientProposal, serverProposal, c.allow)
	if err != nil {
		return nil, err
	}
	c.negotiated = agreed

	impl, ok := New(agreed[SlotKEXAlgorithms])
	if !ok {
		return nil, ErrNoCommonKEXAlgorithm
	}
	c.impl = impl

	var serverID, clientID []byte
	var serverKexInit, clientKexInit []byte
	if c.isServer {
		serverID, clientID = []byte(c.localID), []byte(c.remoteID)
		serverKexInit, clientKexInit = c.localProposal.Raw, remote.Raw
	} else {
		serverID, clientID = []byte(c.remoteID), []byte(c.localID)
		serverKexInit, clientKexInit = remote.Raw, c.localProposal.Raw
	}

	first, err := impl.Init(serverID, clientID, serverKexInit, clientKexInit, c.isServer)
	if err != nil {
		return nil, err
	}
	c.state = StateRun
	if first != nil {
		outbound = append(outbound, first)
	}
	return outbound, nil
}

// SessionID returns the first exchange hash H, fixed once the first KEX
// completes (distilled spec invariant: "sessionId is set exactly once").
func (c *Coordinator) SessionID() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Negotiated returns the agreed algorithm name for slot s from the last
// completed HandleKexInit, used by the session core to pick cipher/MAC/
// compression factories once HandleNewKeys fires.
func (c *Coordinator) Negotiated(s Slot) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.negotiated == nil {
		return ""
	}
	return c.negotiated[s]
}

// HandleKexMessage forwards one inbound KEX-specific message ([30..49])
// to the running algorithm. When the algorithm reports completion, this
// computes K/H, derives the session keys, and returns the NEWKEYS payload
// to send after the algorithm's own final reply (if any).
func (c *Coordinator) HandleKexMessage(payload []byte) (replies [][]byte, keys *Keys, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRun {
		return nil, nil, errors.New("kex: KEX message received outside RUN state")
	}

	reply, done, err := c.impl.Next(payload)
	if err != nil {
		c.RekeyFuture.SetErr(err)
		return nil, nil, err
	}
	if reply != nil {
		replies = append(replies, reply)
	}
	if !done {
		return replies, nil, nil
	}

	k := c.impl.SharedSecret()
	h := c.impl.ExchangeHash()
	if c.sessionID == nil {
		c.sessionID = append([]byte(nil), h...)
	}

	derived := deriveKeys(k, h, c.sessionID)
	c.state = StateKeys
	replies = append(replies, []byte{proto.MsgNewKeys})
	c.lastRekey = timeNow()
	return replies, derived, nil
}

// HandleNewKeys completes the KEYS->DONE transition: the caller has
// already installed derived keys into its transport.Codec and flushed any
// pending-write queue under the encode lock (distilled spec §4.5); this
// just settles the rekey future and resets state for the next run.
func (c *Coordinator) HandleNewKeys() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDone
	c.impl = nil
	c.RekeyFuture.Set(struct{}{})
}

// Abort settles the rekey future with cause on a fatal error, so any waiter
// unblocks with the failure instead of hanging. The Coordinator's state is
// left unchanged.
func (c *Coordinator) Abort(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RekeyFuture.SetErr(cause)
}

// ShouldRekey reports whether totalBytes or the elapsed time since the last
// completed exchange has reached or exceeded the configured thresholds
// (distilled spec §4.5 rekey triggers).
func (c *Coordinator) ShouldRekey(totalBytes uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDone {
		return false
	}
	if totalBytes >= c.RekeyBytes {
		return true
	}
	if !c.lastRekey.IsZero() && timeNow().Sub(c.lastRekey) >= c.RekeyTime {
		return true
	}
	return false
}

// timeNow is a seam over time.Now so tests can stub elapsed-time checks
// without sleeping; production always uses the real clock.
var timeNow = time.Now

// deriveKeys implements RFC 4253 §7.2's six-key derivation: each key starts
// as HASH(K || H || X || session_id) for its single-letter tag X in
// {A..F}, then is extended by repeatedly appending HASH(K || H || key)
// until at least 32 bytes are available (a single SHA-256 output already
// is, so every key is exactly 32 bytes). Callers needing a wider key/IV
// stretch further via
// factory.CipherFactory's own key-material expansion, mirroring the
// teacher's two-stage key stretching.
func deriveKeys(k *big.Int, h, sessionID []byte) *Keys {
	mpBuf := wire.New()
	mpBuf.WriteMpint(k)
	mp := mpBuf.Bytes()

	derive := func(tag byte) []byte {
		first := sha256.New()
		first.Write(mp)
		first.Write(h)
		first.Write([]byte{tag})
		first.Write(sessionID)
		key := first.Sum(nil)
		for len(key) < 32 {
			next := sha256.New()
			next.Write(mp)
			next.Write(h)
			next.Write(key)
			key = append(key, next.Sum(nil)...)
		}
		return key
	}

	return &Keys{
		IVClientToServer:        derive('A'),
		IVServerToClient:        derive('B'),
		EncClientToServer:       derive('C'),
		EncServerToClient:       derive('D'),
		IntegrityClientToServer: derive('E'),
		IntegrityServerToClient: derive('F'),
	}
}
