package session_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/services"
	"blitter.com/go/sshcore/session"
	"blitter.com/go/sshcore/wire"
)

// pump feeds whatever sess.conn receives into sess.Codec().Decode and
// Dispatches every resulting payload, mirroring cmd/sshd and cmd/sshc's own
// runLoop/dispatchChunk pair.
func pump(t *testing.T, sess *session.Session, conn net.Conn, stop <-chan struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payloads, derr := sess.Codec().Decode(buf[:n])
			if derr != nil {
				t.Logf("pump: decode error: %v", derr)
				return
			}
			for _, p := range payloads {
				if derr := sess.Dispatch(p); derr != nil {
					if !errors.Is(derr, io.EOF) {
						t.Logf("pump: dispatch ended: %v", derr)
					}
					return
				}
			}
		}
		if err != nil {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
	}
}

// TestSessionFullHandshakeUserauthAndExec drives a client and a server
// Session over an in-memory net.Pipe through identification-free KEX
// (Start/Dispatch handle KEXINIT/KEXDH/NEWKEYS), RFC 4252 password
// authentication, and a minimal RFC 4254 "exec" channel, exercising the
// same wiring cmd/sshc and cmd/sshd do in production. It's the end-to-end
// check for the handleServiceAccept currentService fix and the
// Dispatch->handleServiceTraffic body-vs-payload fix.
func TestSessionFullHandshakeUserauthAndExec(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close() // nolint: errcheck
	defer serverConn.Close() // nolint: errcheck

	client := session.NewSession(false, clientConn, factory.NewManager(), nil)
	server := session.NewSession(true, serverConn, factory.NewManager(), nil)

	client.RegisterService(services.NewUserAuthClient(client))
	connClient := services.NewConnectionClient(client, nil)
	client.RegisterService(connClient)

	verify := func(u, p string) (bool, error) {
		return u == "alice" && p == "secret", nil
	}
	server.RegisterService(services.NewUserAuth(server, verify, "test-host"))
	var execStatus uint32 = 7
	server.RegisterService(services.NewConnection(server, func(cmd string) (uint32, []byte, error) {
		if cmd != "true" {
			t.Errorf("unexpected exec command %q", cmd)
		}
		return execStatus, []byte("hello from server\n"), nil
	}))

	stop := make(chan struct{})
	defer close(stop)
	go pump(t, client, clientConn, stop)
	go pump(t, server, serverConn, stop)

	if err := client.Start("SSH-2.0-testclient", "SSH-2.0-testserver"); err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	if err := server.Start("SSH-2.0-testserver", "SSH-2.0-testclient"); err != nil {
		t.Fatalf("server.Start: %v", err)
	}

	svcReq := wire.New()
	svcReq.WriteUint8(proto.MsgServiceRequest)
	svcReq.WriteString("ssh-userauth")
	if _, err := client.Request(svcReq.Bytes()); err != nil {
		t.Fatalf("ssh-userauth service request: %v", err)
	}

	authReq := wire.New()
	authReq.WriteUint8(proto.MsgUserauthRequest)
	authReq.WriteString("alice")
	authReq.WriteString("ssh-connection")
	authReq.WriteString("password")
	authReq.WriteBool(false)
	authReq.WriteString("secret")
	if _, err := client.Request(authReq.Bytes()); err != nil {
		t.Fatalf("authentication: %v", err)
	}
	if !client.Authed() || !server.Authed() {
		t.Fatalf("expected both sides authed, client=%v server=%v", client.Authed(), server.Authed())
	}

	svcReq2 := wire.New()
	svcReq2.WriteUint8(proto.MsgServiceRequest)
	svcReq2.WriteString("ssh-connection")
	if _, err := client.Request(svcReq2.Bytes()); err != nil {
		t.Fatalf("ssh-connection service request: %v", err)
	}

	open := wire.New()
	open.WriteUint8(proto.MsgChannelOpen)
	open.WriteString("session")
	open.WriteUint32(0)
	open.WriteUint32(1 << 20)
	open.WriteUint32(32 * 1024)
	if err := client.WritePacket(open.Bytes()); err != nil {
		t.Fatalf("channel open: %v", err)
	}

	req := wire.New()
	req.WriteUint8(proto.MsgChannelRequest)
	req.WriteUint32(0)
	req.WriteString("exec")
	req.WriteBool(false)
	req.WriteString("true")
	if err := client.WritePacket(req.Bytes()); err != nil {
		t.Fatalf("channel request: %v", err)
	}

	select {
	case <-connClient.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the exec channel to close")
	}
}

// TestSessionRejectsFailedAuthentication checks the client observes
// USERAUTH_FAILURE as a Request() error, not a hang or a false success.
func TestSessionRejectsFailedAuthentication(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close() // nolint: errcheck
	defer serverConn.Close() // nolint: errcheck

	client := session.NewSession(false, clientConn, factory.NewManager(), nil)
	server := session.NewSession(true, serverConn, factory.NewManager(), nil)

	client.RegisterService(services.NewUserAuthClient(client))
	verify := func(u, p string) (bool, error) { return false, nil }
	server.RegisterService(services.NewUserAuth(server, verify, "test-host"))

	stop := make(chan struct{})
	defer close(stop)
	go pump(t, client, clientConn, stop)
	go pump(t, server, serverConn, stop)

	if err := client.Start("SSH-2.0-testclient", "SSH-2.0-testserver"); err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	if err := server.Start("SSH-2.0-testserver", "SSH-2.0-testclient"); err != nil {
		t.Fatalf("server.Start: %v", err)
	}

	svcReq := wire.New()
	svcReq.WriteUint8(proto.MsgServiceRequest)
	svcReq.WriteString("ssh-userauth")
	if _, err := client.Request(svcReq.Bytes()); err != nil {
		t.Fatalf("ssh-userauth service request: %v", err)
	}

	authReq := wire.New()
	authReq.WriteUint8(proto.MsgUserauthRequest)
	authReq.WriteString("mallory")
	authReq.WriteString("ssh-connection")
	authReq.WriteString("password")
	authReq.WriteBool(false)
	authReq.WriteString("wrongpass")
	if _, err := client.Request(authReq.Bytes()); err == nil {
		t.Fatal("expected authentication failure, got nil error")
	}
	if client.Authed() {
		t.Fatal("client should not be marked authed after USERAUTH_FAILURE")
	}
}
