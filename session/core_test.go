package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/wire"
)

// fakeConn is a minimal io.ReadWriteCloser recording every Write, enough to
// exercise Dispatch/WritePacket/Disconnect without a real socket.
type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestSession(isServer bool) (*Session, *fakeConn) {
	fc := &fakeConn{}
	return NewSession(isServer, fc, factory.NewManager(), nil), fc
}

// stubService records every opcode/payload handed to it and can be made to
// fail on demand.
type stubService struct {
	name     string
	received []byte
	failWith error
}

func (s *stubService) Name() string { return s.name }
func (s *stubService) Process(cmd byte, payload []byte) error {
	s.received = append([]byte{cmd}, payload...)
	return s.failWith
}

func TestWritePacketQueuesBeforeKexDone(t *testing.T) {
	sess, fc := newTestSession(false)

	if err := sess.WritePacket([]byte("hello")); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if fc.Len() != 0 {
		t.Fatal("expected nothing written to the wire before KEX completes")
	}
}

func TestHandleServiceRequestBeforeKexDoneIsProtocolError(t *testing.T) {
	sess, _ := newTestSession(true)
	req := wire.New()
	req.WriteString("no-such-service")
	err := sess.handleServiceRequest(req.Bytes())
	if err == nil {
		t.Fatal("expected an error before KEX has completed")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != KindProtocolError {
		t.Fatalf("expected KindProtocolError, got %#v", err)
	}
}

func TestHandleServiceAcceptSetsCurrentServiceAndSettlesRequest(t *testing.T) {
	sess, _ := newTestSession(false)
	svc := &stubService{name: "ssh-userauth"}
	sess.RegisterService(svc)

	sess.request.begin()

	body := wire.New()
	body.WriteString("ssh-userauth")
	if err := sess.handleServiceAccept(body.Bytes()); err != nil {
		t.Fatalf("handleServiceAccept: %v", err)
	}

	if sess.CurrentService() != svc {
		t.Fatal("expected currentService to be set to the named registered service")
	}
	result, err := sess.request.wait()
	if err != nil {
		t.Fatalf("expected the pending Request() rendezvous to settle successfully, got %v", err)
	}
	if !bytes.Equal(result, body.Bytes()) {
		t.Fatalf("expected the SERVICE_ACCEPT body echoed back, got %q", result)
	}
}

func TestDispatchStripsOpcodeBeforeForwardingToService(t *testing.T) {
	sess, _ := newTestSession(true)
	svc := &stubService{name: "ssh-connection"}
	sess.RegisterService(svc)
	sess.currentService = svc

	msg := wire.New()
	msg.WriteUint8(proto.MsgChannelData)
	msg.WriteUint32(0)
	msg.WriteString("payload")

	if err := sess.Dispatch(msg.Bytes()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	b := wire.NewFromBytes(svc.received[1:])
	if _, err := b.ReadUint32(); err != nil {
		t.Fatalf("expected a leading channel-id field, not the opcode again: %v", err)
	}
	data, err := b.ReadString()
	if err != nil || data != "payload" {
		t.Fatalf("expected the string field to parse cleanly, got %q err=%v", data, err)
	}
}

func TestHandleServiceTrafficWrapsServiceError(t *testing.T) {
	sess, _ := newTestSession(true)
	svc := &stubService{name: "ssh-connection", failWith: errors.New("boom")}
	sess.RegisterService(svc)
	sess.currentService = svc

	err := sess.handleServiceTraffic(proto.MsgChannelData, []byte("x"))
	if err == nil {
		t.Fatal("expected the service error to propagate")
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != KindUpstreamServiceError {
		t.Fatalf("expected KindUpstreamServiceError, got %#v", err)
	}
}

func TestHandleServiceTrafficNoCurrentServiceIsProtocolError(t *testing.T) {
	sess, _ := newTestSession(true)
	err := sess.handleServiceTraffic(proto.MsgChannelData, []byte("x"))
	if err == nil {
		t.Fatal("expected an error with no current service registered")
	}
	if serr, ok := err.(*Error); !ok || serr.Kind != KindProtocolError {
		t.Fatalf("expected KindProtocolError, got %#v", err)
	}
}

func TestCheckTimeoutsAuthDeadline(t *testing.T) {
	sess, fc := newTestSession(true)
	sess.SetAuthTimeout(-time.Second)

	err := sess.CheckTimeouts()
	if err == nil {
		t.Fatal("expected an auth timeout error")
	}
	if serr, ok := err.(*Error); !ok || serr.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %#v", err)
	}
	if !fc.closed {
		t.Fatal("expected the connection to be closed after an auth timeout")
	}
}

func TestCheckTimeoutsIdleDeadline(t *testing.T) {
	sess, fc := newTestSession(true)
	sess.SetAuthed(true)
	sess.SetIdleTimeout(-time.Second)

	err := sess.CheckTimeouts()
	if err == nil {
		t.Fatal("expected an idle timeout error")
	}
	if serr, ok := err.(*Error); !ok || serr.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %#v", err)
	}
	if !fc.closed {
		t.Fatal("expected the connection to be closed after an idle timeout")
	}
}

func TestDisconnectIsSingleShot(t *testing.T) {
	sess, fc := newTestSession(true)

	if err := sess.Disconnect(proto.DisconnectProtocolError, "bye"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	firstLen := fc.Len()
	if firstLen == 0 {
		t.Fatal("expected a DISCONNECT message on the wire")
	}
	if err := sess.Disconnect(proto.DisconnectProtocolError, "bye again"); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if fc.Len() != firstLen {
		t.Fatal("expected the second Disconnect to be a no-op")
	}
}

func TestHandleDisconnectReturnsEOFAndBeginsClosing(t *testing.T) {
	sess, _ := newTestSession(true)

	body := wire.New()
	body.WriteUint32(proto.DisconnectByApplication)
	body.WriteString("done")

	err := sess.handleDisconnect(body.Bytes())
	if err == nil {
		t.Fatal("expected io.EOF")
	}
	if !sess.IsClosing() {
		t.Fatal("expected the session to begin closing on receipt of DISCONNECT")
	}
}
