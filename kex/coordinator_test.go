package kex

import (
	"testing"
	"time"

	"blitter.com/go/sshcore/factory"
)

// TestCoordinatorFullHandshakeDerivesMatchingKeys drives a client and a
// server Coordinator through Start/HandleKexInit/HandleKexMessage/
// HandleNewKeys using diffie-hellman-group14-sha256, and checks both sides
// land on identical derived keys (distilled spec §4.5/§8 concrete
// scenario: two sides agree on the same six keys).
func TestCoordinatorFullHandshakeDerivesMatchingKeys(t *testing.T) {
	mgr := factory.NewManager()
	client := NewCoordinator(false, mgr, nil)
	server := NewCoordinator(true, mgr, nil)

	clientKexInit, err := client.Start("SSH-2.0-c", "SSH-2.0-s")
	if err != nil {
		t.Fatal(err)
	}
	serverKexInit, err := server.Start("SSH-2.0-s", "SSH-2.0-c")
	if err != nil {
		t.Fatal(err)
	}

	// Server processing the client's KEXINIT: the server role's
	// KeyExchange.Init only responds, so it has nothing to send yet.
	serverHandshakeOut, err := server.HandleKexInit(clientKexInit)
	if err != nil {
		t.Fatal(err)
	}
	if len(serverHandshakeOut) != 0 {
		t.Fatal("server role should have no outbound message until it receives KEXDH_INIT")
	}

	// Client processing the server's KEXINIT: the client role's
	// KeyExchange.Init immediately produces KEXDH_INIT, folded into
	// HandleKexInit's own outbound slice.
	clientHandshakeOut, err := client.HandleKexInit(serverKexInit)
	if err != nil {
		t.Fatal(err)
	}
	if len(clientHandshakeOut) != 1 {
		t.Fatalf("expected client role's HandleKexInit to surface KEXDH_INIT, got %d messages", len(clientHandshakeOut))
	}
	kexInitMsg := clientHandshakeOut[0]

	if client.State() != StateRun || server.State() != StateRun {
		t.Fatalf("expected both sides in RUN, got client=%v server=%v", client.State(), server.State())
	}

	replies, keysServer, err := server.HandleKexMessage(kexInitMsg)
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected [KEXDH_REPLY, NEWKEYS], got %d messages", len(replies))
	}
	if keysServer == nil {
		t.Fatal("server should have derived keys after processing KEXDH_INIT")
	}

	replies2, keysClient, err := client.HandleKexMessage(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(replies2) != 1 {
		t.Fatalf("expected [NEWKEYS], got %d messages", len(replies2))
	}
	if keysClient == nil {
		t.Fatal("client should have derived keys after processing KEXDH_REPLY")
	}

	if string(keysClient.EncClientToServer) != string(keysServer.EncClientToServer) {
		t.Fatal("client and server derived different encryption keys")
	}
	if string(keysClient.IntegrityServerToClient) != string(keysServer.IntegrityServerToClient) {
		t.Fatal("client and server derived different integrity keys")
	}

	client.HandleNewKeys()
	server.HandleNewKeys()
	if client.State() != StateDone || server.State() != StateDone {
		t.Fatal("both sides should reach DONE after HandleNewKeys")
	}
	if _, err := client.RekeyFuture.Wait(); err != nil {
		t.Fatalf("rekey future should settle successfully, got %v", err)
	}
}

func TestCoordinatorShouldRekeyOnByteThreshold(t *testing.T) {
	mgr := factory.NewManager()
	c := NewCoordinator(false, mgr, nil)
	c.state = StateDone
	c.lastRekey = time.Now()
	c.RekeyBytes = 100

	if c.ShouldRekey(50) {
		t.Fatal("should not trigger rekey below the byte threshold")
	}
	if !c.ShouldRekey(100) {
		t.Fatal("should trigger rekey at the byte threshold")
	}
}

func TestCoordinatorShouldRekeyOnTimeThreshold(t *testing.T) {
	mgr := factory.NewManager()
	c := NewCoordinator(false, mgr, nil)
	c.state = StateDone
	c.RekeyTime = time.Millisecond
	c.lastRekey = time.Now().Add(-2 * time.Millisecond)

	if !c.ShouldRekey(0) {
		t.Fatal("should trigger rekey once the time threshold has elapsed")
	}
}

func TestCoordinatorShouldNotRekeyOutsideDoneState(t *testing.T) {
	mgr := factory.NewManager()
	c := NewCoordinator(false, mgr, nil)
	c.state = StateRun
	c.RekeyBytes = 1

	if c.ShouldRekey(1000) {
		t.Fatal("rekey trigger must not fire while a KEX is already running")
	}
}

func TestCoordinatorAbortSettlesRekeyFutureWithError(t *testing.T) {
	mgr := factory.NewManager()
	c := NewCoordinator(false, mgr, nil)
	cause := errTestAbort
	c.Abort(cause)
	if _, err := c.RekeyFuture.Wait(); err != cause {
		t.Fatalf("expected Abort's error on the rekey future, got %v", err)
	}
}

var errTestAbort = &testAbortErr{}

type testAbortErr struct{}

func (*testAbortErr) Error() string { return "kex: aborted for test" }
