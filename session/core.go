package session

import (
	"errors"
	"io"
	"time"

	"blitter.com/go/sshcore/kex"
	"blitter.com/go/sshcore/logger"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/wire"
)

// Start performs the identification exchange's follow-on work: sends the
// local KEXINIT via the KEX Coordinator and records the two identification
// strings used as exchange-hash input. Callers are expected to have
// already run the Identification Exchange (transport.SendIdentification /
// transport.ReceiveClientIdentification or ReceiveServerIdentification)
// before calling Start.
func (s *Session) Start(localID, remoteID string) error {
	s.mu.Lock()
	s.localID, s.remoteID = localID, remoteID
	s.mu.Unlock()

	localKexInit, err := s.coord.Start(localID, remoteID)
	if err != nil {
		return err
	}
	return s.writeRaw(localKexInit)
}

// writeRaw encodes and writes payload unconditionally, bypassing the
// pending-packet queue; used for transport-internal messages (KEXINIT,
// NEWKEYS, DISCONNECT) that must never be held back by an in-progress KEX.
func (s *Session) writeRaw(payload []byte) error {
	frame, err := s.codec.Encode(payload)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(frame)
	return err
}

// WritePacket is the public write path for higher-level (non-transport)
// packets. While kexState != DONE, the packet is queued instead of being
// written immediately (distilled spec invariant); once DONE, it is encoded
// and written right away, and a post-write rekey-trigger check runs.
func (s *Session) WritePacket(payload []byte) error {
	if s.IsClosing() {
		return ErrClosingState
	}
	if s.coord.State() != kex.StateDone {
		return s.pending.enqueue(payload)
	}
	if err := s.writeRaw(payload); err != nil {
		return err
	}
	s.resetIdle()
	s.maybeRekey()
	return nil
}

// resetIdle pushes the idle deadline out by idleTimeout (distilled spec
// §4.7: "every successful writePacket or requestSuccess/Failure resets
// idle deadline to now + idleTimeout").
func (s *Session) resetIdle() {
	s.mu.Lock()
	s.idleDeadline = time.Now().Add(s.idleTimeout)
	s.mu.Unlock()
}

// maybeRekey checks the distilled spec §4.5 rekey triggers (bytes or
// elapsed time) and, if tripped, initiates a new KEX.
func (s *Session) maybeRekey() {
	total := s.codec.EgressBytes() + s.codec.IngressBytes()
	if s.coord.ShouldRekey(total) {
		_ = s.reExchangeKeys()
	}
}

// reExchangeKeys moves DONE->INIT and sends a fresh local KEXINIT, per
// distilled spec §4.5 ("Either peer may initiate; reExchangeKeys() moves
// DONE -> INIT and emits KEXINIT").
func (s *Session) reExchangeKeys() error {
	localKexInit, err := s.coord.Start(s.localID, s.remoteID)
	if err != nil {
		return err
	}
	return s.writeRaw(localKexInit)
}

// Dispatch routes one decoded message by opcode (distilled spec §4.6),
// inside a single logical monitor on the session state. It returns a
// *session.Error for any fatal condition; the caller (the connection's
// read loop) is responsible for disconnecting and closing on a non-nil
// return.
func (s *Session) Dispatch(payload []byte) error {
	if len(payload) == 0 {
		return NewProtocolError("empty packet", nil)
	}
	opcode := payload[0]
	body := payload[1:]

	switch {
	case opcode == proto.MsgDisconnect:
		return s.handleDisconnect(body)
	case opcode == proto.MsgIgnore:
		return nil
	case opcode == proto.MsgUnimplemented:
		s.logUnimplemented(body)
		return nil
	case opcode == proto.MsgDebug:
		logger.LogMessage("debug", "peer debug: %s", string(body))
		return nil
	case opcode == proto.MsgServiceRequest:
		return s.handleServiceRequest(body)
	case opcode == proto.MsgServiceAccept:
		return s.handleServiceAccept(body)
	case opcode == proto.MsgKexInit:
		return s.handleKexInit(payload)
	case opcode == proto.MsgNewKeys:
		return s.handleNewKeys()
	case opcode >= proto.MsgKexFirst && opcode <= proto.MsgKexLast:
		return s.handleKexMessage(payload)
	default:
		return s.handleServiceTraffic(opcode, body)
	}
}

func (s *Session) logUnimplemented(body []byte) {
	b := wire.NewFromBytes(body)
	seq, err := b.ReadUint32()
	if err != nil {
		logger.LogMessage("warn", "peer sent UNIMPLEMENTED with malformed sequence number")
		return
	}
	logger.LogMessage("warn", "peer rejected our message, sequence number %d", seq)
}

func (s *Session) handleDisconnect(body []byte) error {
	b := wire.NewFromBytes(body)
	reason, _ := b.ReadUint32()
	desc, _ := b.ReadString()
	logger.LogMessage("info", "peer disconnected: reason=%s (%d) msg=%q", proto.ReasonString(reason), reason, desc)
	s.beginClosing()
	return io.EOF
}

// handleServiceRequest implements distilled spec §4.6's SERVICE_REQUEST
// handling: require kexState == DONE, look up the named service, and
// either accept (echoing the name) or disconnect SERVICE_NOT_AVAILABLE.
func (s *Session) handleServiceRequest(body []byte) error {
	if s.coord.State() != kex.StateDone {
		return NewProtocolError("SERVICE_REQUEST received before KEX completed", nil)
	}
	b := wire.NewFromBytes(body)
	name, err := b.ReadString()
	if err != nil {
		return NewProtocolError("malformed SERVICE_REQUEST", err)
	}

	s.mu.Lock()
	svc, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return NewServiceNotAvailable(name)
	}

	s.mu.Lock()
	s.currentService = svc
	s.mu.Unlock()

	accept := wire.New()
	accept.WriteUint8(proto.MsgServiceAccept)
	accept.WriteString(name)
	return s.writeRaw(accept.Bytes())
}

// handleServiceAccept is the client-side counterpart: it starts the named
// service locally (so subsequent non-transport opcodes have somewhere to
// go, mirroring handleServiceRequest's server-side currentService
// assignment) and satisfies any pending Request() rendezvous waiting on
// the service start.
func (s *Session) handleServiceAccept(body []byte) error {
	b := wire.NewFromBytes(body)
	name, err := b.ReadString()
	if err == nil {
		s.mu.Lock()
		if svc, ok := s.services[name]; ok {
			s.currentService = svc
		}
		s.mu.Unlock()
	}
	s.request.succeed(body)
	return nil
}

func (s *Session) handleKexInit(payload []byte) error {
	outbound, err := s.coord.HandleKexInit(payload)
	if err != nil {
		s.coord.Abort(err)
		return NewKeyExchangeFailure(proto.DisconnectKeyExchangeFailed, "KEXINIT negotiation failed", err)
	}
	for _, msg := range outbound {
		if err := s.writeRaw(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleKexMessage(payload []byte) error {
	if s.coord.State() != kex.StateRun {
		return NewKeyExchangeFailure(proto.DisconnectKeyExchangeFailed,
			"KEX-specific message received outside RUN state", nil)
	}
	replies, keys, err := s.coord.HandleKexMessage(payload)
	if err != nil {
		return NewKeyExchangeFailure(proto.DisconnectKeyExchangeFailed, "key exchange failed", err)
	}
	for _, msg := range replies {
		if err := s.writeRaw(msg); err != nil {
			return err
		}
	}
	if keys != nil {
		s.pendingKeys = keys
	}
	return nil
}

// handleNewKeys completes KEYS->DONE: install the derived keys installed
// on the appropriate sides (client/server role determines which derived
// key serves encryption vs decryption), flush the pending-write queue
// under the encode lock, and settle the rekey future.
func (s *Session) handleNewKeys() error {
	keys := s.pendingKeys
	if keys == nil {
		return NewKeyExchangeFailure(proto.DisconnectKeyExchangeFailed, "NEWKEYS received with no derived keys", nil)
	}
	s.pendingKeys = nil

	cipherName := s.coord.Negotiated(kex.SlotCipherClientToServer)
	macName := s.coord.Negotiated(kex.SlotMACClientToServer)
	compName := s.coord.Negotiated(kex.SlotCompressionClientToServer)
	cipherNameSC := s.coord.Negotiated(kex.SlotCipherServerToClient)
	macNameSC := s.coord.Negotiated(kex.SlotMACServerToClient)
	compNameSC := s.coord.Negotiated(kex.SlotCompressionServerToClient)

	if err := installDirections(s, keys, cipherName, macName, compName, cipherNameSC, macNameSC, compNameSC); err != nil {
		return NewKeyExchangeFailure(proto.DisconnectKeyExchangeFailed, "failed to install derived keys", err)
	}

	if s.SessionID() == nil {
		s.SetSessionIDOnce(s.coord.SessionID())
	}

	s.coord.HandleNewKeys()

	for _, pkt := range s.pending.drain() {
		if err := s.writeRaw(pkt); err != nil {
			return err
		}
	}
	return nil
}

// handleServiceTraffic forwards any opcode outside the transport/KEX range
// to the current upstream Service (distilled spec §4.6: "anything else ->
// forward to currentService.process(cmd, buffer)").
func (s *Session) handleServiceTraffic(opcode byte, payload []byte) error {
	s.mu.Lock()
	svc := s.currentService
	s.mu.Unlock()
	if svc == nil {
		return NewProtocolError("no current service for opcode "+string(rune(opcode)), nil)
	}
	if err := svc.Process(opcode, payload); err != nil {
		serr := &Error{}
		if errors.As(err, &serr) {
			return NewUpstreamServiceError(serr.Reason, err)
		}
		return NewUpstreamServiceError(0, err)
	}
	s.resetIdle()
	return nil
}

// Disconnect implements distilled spec §4.6/§7's single-shot disconnect
// path: send exactly one SSH_MSG_DISCONNECT (bounded by the disconnect
// grace), then close the transport regardless of whether the write
// completed.
func (s *Session) Disconnect(reason uint32, msg string) error {
	if s.IsClosing() {
		return nil
	}
	s.beginClosing()

	b := wire.New()
	b.WriteUint8(proto.MsgDisconnect)
	b.WriteUint32(reason)
	b.WriteString(msg)
	b.WriteString(DefaultWelcomeBannerLang)

	done := make(chan error, 1)
	go func() { done <- s.writeRaw(b.Bytes()) }()

	select {
	case <-done:
	case <-time.After(s.disconnectGrace):
		logger.LogMessage("warn", "disconnect write did not complete within grace period")
	}
	return s.conn.Close()
}

// beginClosing transitions the session into closing state: the pending
// queue is permanently failed, the KEX rekey future (if any is in flight)
// is completed with a closing error, and listeners are cleared (distilled
// spec §5 Cancellation).
func (s *Session) beginClosing() {
	s.mu.Lock()
	alreadyClosing := s.closing
	s.closing = true
	s.mu.Unlock()
	if alreadyClosing {
		return
	}
	s.pending.fail(ErrClosingState)
	s.coord.Abort(ErrClosingState)
	s.sessionEvent.Close()
}

// CheckTimeouts inspects the auth and idle deadlines (distilled spec
// §4.7); callers invoke this from an idle tick. It disconnects and returns
// a *session.Error when a deadline has passed.
func (s *Session) CheckTimeouts() error {
	s.mu.Lock()
	authed := s.authed
	authDeadline := s.authDeadline
	idleDeadline := s.idleDeadline
	s.mu.Unlock()

	now := time.Now()
	if !authed && now.After(authDeadline) {
		s.SetStatus(statusAuthTimeout)
		_ = s.Disconnect(proto.DisconnectProtocolError, "authentication timeout")
		return NewTimeout("authentication")
	}
	if now.After(idleDeadline) {
		s.SetStatus(statusIdleTimeout)
		_ = s.Disconnect(proto.DisconnectProtocolError, "idle timeout")
		return NewTimeout("idle")
	}
	s.maybeRekey()
	return nil
}

// Status codes used by CheckTimeouts, extending the teacher's plain UNIX
// exit-status range with values it never needed.
const (
	statusAuthTimeout = 0xF0000001
	statusIdleTimeout = 0xF0000002
)

// Request sends payload and blocks for the single-waiter response
// rendezvous (distilled spec §4.6's global-request monitor), used by the
// client side waiting on SERVICE_ACCEPT or a service-specific reply.
func (s *Session) Request(payload []byte) ([]byte, error) {
	s.request.begin()
	if err := s.WritePacket(payload); err != nil {
		s.request.fail(err)
		return s.request.wait()
	}
	return s.request.wait()
}

// RequestSuccess/RequestFailure let a service or the dispatch loop settle
// a pending Request() rendezvous explicitly (e.g. a service-specific reply
// opcode rather than SERVICE_ACCEPT).
func (s *Session) RequestSuccess(buf []byte) { s.resetIdle(); s.request.succeed(buf) }
func (s *Session) RequestFailure(err error)  { s.request.fail(err) }
