package kex

import "math/big"

// KeyExchange is the external collaborator boundary the distilled spec
// treats as out of scope for its own mathematics (§1: "the actual KEX
// algorithm implementations ... consumed through a KeyExchange
// capability"). The Coordinator drives every concrete algorithm through
// this same sequence: Init once, then Next repeatedly with each inbound
// KEX-specific message ([30..49]) until it reports done, at which point
// SharedSecret and ExchangeHash feed RFC 4253 §7.2 key derivation.
type KeyExchange interface {
	// Init begins the exchange. serverID/clientID are the two
	// identification strings (without CR/LF) and serverKexInit/
	// clientKexInit are the two full SSH_MSG_KEXINIT payloads (the
	// Proposal.Raw bytes), all required as exchange-hash input. Init
	// returns the first outbound KEX message the caller's role must
	// send, or nil if this role only responds.
	Init(serverID, clientID, serverKexInit, clientKexInit []byte, isServer bool) ([]byte, error)

	// Next processes one inbound KEX-specific message body and returns
	// the reply to send (nil if none), and whether the exchange has
	// completed.
	Next(payload []byte) (reply []byte, done bool, err error)

	// SharedSecret returns the derived secret K. Valid only after Next
	// has reported done.
	SharedSecret() *big.Int

	// ExchangeHash returns H. Valid only after Next has reported done.
	ExchangeHash() []byte
}

// Factory constructs a fresh KeyExchange instance for one KEX run. The
// Coordinator builds a new one per negotiation (distilled spec invariant:
// "exactly one KEX may be in progress").
type Factory func() KeyExchange

var keyExchangeFactories = map[string]Factory{}

// Register adds a KeyExchange algorithm under name, called from each
// concrete algorithm's package-level init() (dhgroup14.go, herradura.go,
// kyber.go).
func Register(name string, f Factory) {
	keyExchangeFactories[name] = f
}

// New constructs a fresh KeyExchange instance for a negotiated algorithm
// name.
func New(name string) (KeyExchange, bool) {
	f, ok := keyExchangeFactories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns the registered KEX algorithm names from a fixed preference
// list, used to build the local KEXINIT kex-algorithms proposal. Registered
// names outside that list (kyber512-kex, kyber1024-kex) are not returned.
func Names() []string {
	// Fixed preference order rather than map iteration order, so the
	// local proposal is stable across runs.
	order := []string{"diffie-hellman-group14-sha256", "herradura-kex", "kyber-kex"}
	out := make([]string, 0, len(order))
	for _, n := range order {
		if _, ok := keyExchangeFactories[n]; ok {
			out = append(out, n)
		}
	}
	return out
}
