// Package kex implements SSH_MSG_KEXINIT negotiation and the key exchange
// state machine (distilled spec §4.4/§4.5), plus the concrete KeyExchange
// algorithms that satisfy the core's external "KeyExchange capability"
// boundary.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package kex

import (
	"errors"
	"strings"

	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/wire"
)

// Slot identifies one of the ten KEXINIT negotiation slots (distilled
// spec §3, Data Model: "KEX Slot").
type Slot int

// The ten negotiation slots, in RFC 4253 §7.1 wire order.
const (
	SlotKEXAlgorithms Slot = iota
	SlotServerHostKeyAlgorithms
	SlotCipherClientToServer
	SlotCipherServerToClient
	SlotMACClientToServer
	SlotMACServerToClient
	SlotCompressionClientToServer
	SlotCompressionServerToClient
	SlotLanguagesClientToServer
	SlotLanguagesServerToClient
	numSlots
)

// languageSlots lists the slots where a negotiation miss is tolerated
// (distilled spec §4.4: "failure to agree on either language slot is
// ignored").
var languageSlots = map[Slot]bool{
	SlotLanguagesClientToServer: true,
	SlotLanguagesServerToClient: true,
}

// ErrNoCommonAlgorithm is returned when a required (non-language) slot has
// no candidate shared between the two proposals.
var ErrNoCommonAlgorithm = errors.New("kex: no common algorithm for required slot")

// Proposal is one side's SSH_MSG_KEXINIT payload: a cookie, ten ordered
// name-lists (preserved in offerer preference order), and the
// first_kex_packet_follows hint. Raw holds the fully reassembled payload
// bytes, required unmodified as exchange-hash input (distilled spec §4.4:
// "store the reassembled payload (required for the exchange hash)").
type Proposal struct {
	Cookie                [16]byte
	Lists                 [numSlots][]string
	FirstKexPacketFollows bool
	Raw                   []byte
}

// pickFirstCommon returns the first entry of preferences that also
// appears in offers, or "" if none match. Grounded on the historical
// golang.org/x/crypto/ssh common.go findCommonAlgorithm/findAgreedAlgorithms
// (client-preference-wins name-list intersection), reimplemented
// standalone per distilled spec §9's design note recommending one reusable
// routine rather than inlining the scan at each slot.
func pickFirstCommon(preferences, offers []string) string {
	offerSet := make(map[string]bool, len(offers))
	for _, o := range offers {
		offerSet[o] = true
	}
	for _, p := range preferences {
		if offerSet[p] {
			return p
		}
	}
	return ""
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinNames(names []string) string {
	return strings.Join(names, ",")
}

// BuildProposal assembles the local KEXINIT proposal from the factory
// manager's name lists, the caller-supplied KEX-algorithm and
// server-host-key-algorithm name lists (kex.Names()/hostKeyNames are kept
// out of the factory package to avoid a factory<->kex import cycle), and a
// random cookie drawn from mgr.PRNG.
func BuildProposal(mgr *factory.Manager, kexNames, hostKeyNames, languages []string) (*Proposal, error) {
	p := &Proposal{}
	if _, err := mgr.PRNG.Read(p.Cookie[:]); err != nil {
		return nil, err
	}
	p.Lists[SlotKEXAlgorithms] = kexNames
	p.Lists[SlotServerHostKeyAlgorithms] = hostKeyNames
	p.Lists[SlotCipherClientToServer] = mgr.CipherNames()
	p.Lists[SlotCipherServerToClient] = mgr.CipherNames()
	p.Lists[SlotMACClientToServer] = mgr.MACNames()
	p.Lists[SlotMACServerToClient] = mgr.MACNames()
	p.Lists[SlotCompressionClientToServer] = mgr.CompressionNames()
	p.Lists[SlotCompressionServerToClient] = mgr.CompressionNames()
	p.Lists[SlotLanguagesClientToServer] = languages
	p.Lists[SlotLanguagesServerToClient] = languages
	p.Raw = p.Encode()
	return p, nil
}

// Encode serializes the proposal to an SSH_MSG_KEXINIT payload
// (distilled spec §4.4: opcode || cookie(16) || ten name-lists ||
// first_kex_packet_follows(bool) || reserved(uint32=0)).
func (p *Proposal) Encode() []byte {
	b := wire.New()
	b.WriteUint8(proto.MsgKexInit)
	b.WriteRaw(p.Cookie[:])
	for s := Slot(0); s < numSlots; s++ {
		b.WriteString(joinNames(p.Lists[s]))
	}
	b.WriteBool(p.FirstKexPacketFollows)
	b.WriteUint32(0) // reserved
	return b.Bytes()
}

// ParseProposal decodes a remote SSH_MSG_KEXINIT payload whose first byte
// is the opcode (read and skipped here) and retains the full original
// bytes, including the opcode, as Raw for exchange-hash use.
func ParseProposal(full []byte) (*Proposal, error) {
	b := wire.NewFromBytes(full)
	if _, err := b.ReadUint8(); err != nil { // opcode
		return nil, err
	}
	p := &Proposal{Raw: append([]byte(nil), full...)}
	cookie, err := b.ReadRaw(16)
	if err != nil {
		return nil, err
	}
	copy(p.Cookie[:], cookie)
	for s := Slot(0); s < numSlots; s++ {
		name, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		p.Lists[s] = splitNames(name)
	}
	follows, err := b.ReadBool()
	if err != nil {
		return nil, err
	}
	p.FirstKexPacketFollows = follows
	return p, nil
}

// AllowList optionally restricts which client-offered candidates the
// server will consider for the cryptographic slots, before the general
// pickFirstCommon intersection runs. A nil slice for a given slot allows
// any candidate (distilled spec §9: "server-side algorithm allow-listing
// ... mirrors xsd.go's allowed() checks"). Language slots are never
// filtered.
type AllowList struct {
	KEXAlgorithms             []string
	ServerHostKeyAlgorithms   []string
	CipherAlgorithms          []string
	MACAlgorithms             []string
	CompressionAlgorithms     []string
}

func (a *AllowList) listFor(s Slot) []string {
	if a == nil {
		return nil
	}
	switch s {
	case SlotKEXAlgorithms:
		return a.KEXAlgorithms
	case SlotServerHostKeyAlgorithms:
		return a.ServerHostKeyAlgorithms
	case SlotCipherClientToServer, SlotCipherServerToClient:
		return a.CipherAlgorithms
	case SlotMACClientToServer, SlotMACServerToClient:
		return a.MACAlgorithms
	case SlotCompressionClientToServer, SlotCompressionServerToClient:
		return a.CompressionAlgorithms
	default:
		return nil
	}
}

// filter restricts offers down to the allow-listed subset for slot s,
// preserving offers' order. An empty allow-list for s means "allow all".
func (a *AllowList) filter(s Slot, offers []string) []string {
	allowed := a.listFor(s)
	if len(allowed) == 0 {
		return offers
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, x := range allowed {
		allowSet[x] = true
	}
	out := make([]string, 0, len(offers))
	for _, o := range offers {
		if allowSet[o] {
			out = append(out, o)
		}
	}
	return out
}

// Negotiate computes the agreed algorithm for each of the ten slots,
// client preference winning ties (distilled spec §4.4). The client side's
// proposal supplies the preference order regardless of this process's
// role, matching RFC 4253 §7.1's "client's preferences ... are honored"
// rule; callers pass (clientProposal, serverProposal) in that order.
// allow, if non-nil, restricts the server-side offer (this process's own
// local proposal when acting as server) before intersection runs.
func Negotiate(clientProposal, serverProposal *Proposal, allow *AllowList) (map[Slot]string, error) {
	result := make(map[Slot]string, numSlots)
	for s := Slot(0); s < numSlots; s++ {
		serverOffers := allow.filter(s, serverProposal.Lists[s])
		agreed := pickFirstCommon(clientProposal.Lists[s], serverOffers)
		if agreed == "" && !languageSlots[s] {
			return nil, ErrNoCommonAlgorithm
		}
		result[s] = agreed
	}
	return result, nil
}
