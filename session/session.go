package session

import (
	"fmt"
	"io"
	"sync"
	"time"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/future"
	"blitter.com/go/sshcore/kex"
	"blitter.com/go/sshcore/transport"
)

// Default timeout values (distilled spec §4.7/§6).
const (
	DefaultAuthTimeout       = 2 * time.Minute
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultDisconnectGrace   = 10 * time.Second
	DefaultMaxAuthRequests   = 20
	DefaultWelcomeBannerLang = "en"
)

// Service is the upstream protocol interface the Session Core dispatches
// every non-transport packet to, once SERVICE_REQUEST/SERVICE_ACCEPT has
// selected it (distilled spec §6: "Service.process(cmd, payload)").
type Service interface {
	Name() string
	Process(cmd byte, payload []byte) error
}

// Session is the long-lived entity representing one SSH connection
// (distilled spec §3 Data Model). It generalizes the teacher's xs.Session
// (role/who/cmd/authCookie/status fields) into the full attribute set the
// core needs, keeping the teacher's getter/setter-method style and a
// String() summary.
type Session struct {
	mu sync.Mutex

	isServer bool
	conn     io.ReadWriteCloser
	mgr      *factory.Manager
	codec    *transport.Codec
	coord    *kex.Coordinator

	localID  string
	remoteID string

	sessionID []byte // first exchange hash H; immutable after first KEX

	authed   bool
	username []byte
	status   uint32

	currentService Service
	services       map[string]Service

	attrs map[string]interface{}

	pending      *pendingQueue
	request      *requestRendezvous
	sessionEvent *future.Proxy

	pendingKeys *kex.Keys // derived keys awaiting NEWKEYS installation

	authDeadline       time.Time
	idleDeadline       time.Time
	idleTimeout        time.Duration
	disconnectGrace    time.Duration
	maxAuthRequests    int
	failedAuthAttempts int

	closing bool
}

// NewSession constructs a Session bound to an established, identification-
// exchanged connection. isServer selects the role used throughout
// negotiation and KEX. allow, if non-nil, restricts which client-offered
// algorithms the server side of Negotiation will accept.
func NewSession(isServer bool, conn io.ReadWriteCloser, mgr *factory.Manager, allow *kex.AllowList) *Session {
	authed := new(bool)
	s := &Session{
		isServer:        isServer,
		conn:            conn,
		mgr:             mgr,
		codec:           transport.NewCodec(mgr.PRNG, authed),
		coord:           kex.NewCoordinator(isServer, mgr, allow),
		services:        make(map[string]Service),
		attrs:           make(map[string]interface{}),
		pending:         newPendingQueue(),
		request:         newRequestRendezvous(),
		sessionEvent:    future.NewProxy(),
		idleTimeout:     DefaultIdleTimeout,
		disconnectGrace: DefaultDisconnectGrace,
		maxAuthRequests: DefaultMaxAuthRequests,
	}
	s.codec = transport.NewCodec(mgr.PRNG, &s.authed)
	s.authDeadline = time.Now().Add(DefaultAuthTimeout)
	s.idleDeadline = time.Now().Add(DefaultIdleTimeout)
	return s
}

// String renders a summary of the Session (role, username, authed flag
// and status), mirroring the teacher's xs.Session.String() layout.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("session.Session:\nRole:%v\nWho:%v\nAuthed:%v\nStatus:%v",
		roleString(s.isServer), s.username, s.authed, s.status)
}

func roleString(isServer bool) string {
	if isServer {
		return "server"
	}
	return "client"
}

// IsServer reports whether this Session is playing the server role.
func (s *Session) IsServer() bool { return s.isServer }

// Codec returns the Session's Packet Codec, used by the KEX Coordinator's
// caller to install freshly derived keys on NEWKEYS.
func (s *Session) Codec() *transport.Codec { return s.codec }

// Coordinator returns the Session's KEX Coordinator.
func (s *Session) Coordinator() *kex.Coordinator { return s.coord }

// Username returns the authenticated (or attempted) username.
func (s *Session) Username() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SetUsername records the username under authentication.
func (s *Session) SetUsername(u []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = u
}

// Authed reports whether USERAUTH_SUCCESS has been sent/observed.
func (s *Session) Authed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

// SetAuthed flips the authed flag, which both gates delayed compression
// (distilled spec open question: set true after sending USERAUTH_SUCCESS,
// before the next ingress dispatch) and clears the auth timeout.
func (s *Session) SetAuthed(v bool) {
	s.mu.Lock()
	s.authed = v
	s.mu.Unlock()
}

// Status returns the current session status code (mirrors the teacher's
// xs.Session.Status; CheckTimeouts sets it to statusAuthTimeout or
// statusIdleTimeout when a deadline passes).
func (s *Session) Status() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus stores the current session status code.
func (s *Session) SetStatus(v uint32) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

// SessionID returns the first exchange hash H, fixed for the connection's
// lifetime once the first KEX completes.
func (s *Session) SessionID() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionIDOnce records sessionID the first time only (distilled spec
// invariant: "sessionId is set exactly once ... immutable thereafter").
func (s *Session) SetSessionIDOnce(id []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == nil {
		s.sessionID = append([]byte(nil), id...)
	}
}

// RegisterService makes svc available to be started by a later
// SERVICE_REQUEST naming it.
func (s *Session) RegisterService(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.Name()] = svc
}

// CurrentService returns the Service currently receiving non-transport
// dispatch, or nil before any SERVICE_ACCEPT.
func (s *Session) CurrentService() Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentService
}

// Attr fetches an entry from the Session's free-form attribute bag.
func (s *Session) Attr(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// SetAttr stores an entry in the Session's free-form attribute bag.
func (s *Session) SetAttr(key string, val interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = val
}

// Listeners returns the session-event listener proxy (distilled spec
// §4.8). The session core fires no events on it itself; it only closes the
// proxy when the session begins closing.
func (s *Session) Listeners() *future.Proxy { return s.sessionEvent }

// IsClosing reports whether the session has begun shutting down; callers
// should treat any further write attempt as ErrClosingState.
func (s *Session) IsClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// MaxAuthRequests returns the server-side cap on failed auth attempts
// (distilled spec §6 config key max-auth-requests).
func (s *Session) MaxAuthRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAuthRequests
}

// SetMaxAuthRequests overrides the default cap of 20.
func (s *Session) SetMaxAuthRequests(n int) {
	s.mu.Lock()
	s.maxAuthRequests = n
	s.mu.Unlock()
}

// SetIdleTimeout overrides the default 10-minute idle timeout and
// immediately pushes the idle deadline out by the new value.
func (s *Session) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	s.idleTimeout = d
	s.idleDeadline = time.Now().Add(d)
	s.mu.Unlock()
}

// SetAuthTimeout overrides the default 2-minute auth timeout, measured
// from now.
func (s *Session) SetAuthTimeout(d time.Duration) {
	s.mu.Lock()
	s.authDeadline = time.Now().Add(d)
	s.mu.Unlock()
}

// SetDisconnectGrace overrides the default 10-second DISCONNECT write
// grace period.
func (s *Session) SetDisconnectGrace(d time.Duration) {
	s.mu.Lock()
	s.disconnectGrace = d
	s.mu.Unlock()
}

// RecordFailedAuth increments the failed-attempt counter and reports
// whether it has now reached the cap.
func (s *Session) RecordFailedAuth() (exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedAuthAttempts++
	return s.failedAuthAttempts >= s.maxAuthRequests
}
