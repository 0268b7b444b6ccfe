package kex

import "testing"

func TestPickFirstCommonClientPreferenceWins(t *testing.T) {
	got := pickFirstCommon(
		[]string{"aes128-ctr", "aes256-ctr"},
		[]string{"aes256-ctr", "aes128-ctr"},
	)
	if got != "aes128-ctr" {
		t.Fatalf("got %q, want aes128-ctr (client preference)", got)
	}
}

func TestPickFirstCommonNoMatch(t *testing.T) {
	if got := pickFirstCommon([]string{"a"}, []string{"b"}); got != "" {
		t.Fatalf("expected empty string for no match, got %q", got)
	}
}

func makeProposal(cipher string) *Proposal {
	p := &Proposal{}
	p.Lists[SlotKEXAlgorithms] = []string{"diffie-hellman-group14-sha256"}
	p.Lists[SlotServerHostKeyAlgorithms] = []string{"ssh-rsa"}
	p.Lists[SlotCipherClientToServer] = []string{cipher}
	p.Lists[SlotCipherServerToClient] = []string{cipher}
	p.Lists[SlotMACClientToServer] = []string{"hmac-sha2-256"}
	p.Lists[SlotMACServerToClient] = []string{"hmac-sha2-256"}
	p.Lists[SlotCompressionClientToServer] = []string{"none"}
	p.Lists[SlotCompressionServerToClient] = []string{"none"}
	return p
}

func TestNegotiateKEXINITCipherPreference(t *testing.T) {
	client := makeProposal("")
	client.Lists[SlotCipherClientToServer] = []string{"aes128-ctr", "aes256-ctr"}
	client.Lists[SlotCipherServerToClient] = []string{"aes128-ctr", "aes256-ctr"}
	server := makeProposal("")
	server.Lists[SlotCipherClientToServer] = []string{"aes256-ctr", "aes128-ctr"}
	server.Lists[SlotCipherServerToClient] = []string{"aes256-ctr", "aes128-ctr"}

	result, err := Negotiate(client, server, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result[SlotCipherClientToServer] != "aes128-ctr" {
		t.Fatalf("expected client-preferred aes128-ctr, got %q", result[SlotCipherClientToServer])
	}
}

func TestNegotiateLanguageSlotToleratesEmpty(t *testing.T) {
	client := makeProposal("aes128-ctr")
	server := makeProposal("aes128-ctr")
	// Both sides propose no languages.
	client.Lists[SlotLanguagesClientToServer] = nil
	client.Lists[SlotLanguagesServerToClient] = nil
	server.Lists[SlotLanguagesClientToServer] = nil
	server.Lists[SlotLanguagesServerToClient] = nil

	result, err := Negotiate(client, server, nil)
	if err != nil {
		t.Fatalf("language slot mismatch must not fail negotiation: %v", err)
	}
	if result[SlotLanguagesClientToServer] != "" || result[SlotLanguagesServerToClient] != "" {
		t.Fatalf("expected empty negotiated language, got %v/%v",
			result[SlotLanguagesClientToServer], result[SlotLanguagesServerToClient])
	}
	// Every other slot must still have agreed.
	if result[SlotCipherClientToServer] != "aes128-ctr" {
		t.Fatal("cryptographic slots must still negotiate despite language mismatch")
	}
}

func TestNegotiateFailsOnNoCommonCryptoAlgorithm(t *testing.T) {
	client := makeProposal("aes128-ctr")
	server := makeProposal("twofish128-ctr")
	if _, err := Negotiate(client, server, nil); err != ErrNoCommonAlgorithm {
		t.Fatalf("expected ErrNoCommonAlgorithm, got %v", err)
	}
}

func TestNegotiateAllowListFiltersServerOffer(t *testing.T) {
	client := makeProposal("aes128-ctr")
	client.Lists[SlotCipherClientToServer] = []string{"aes128-ctr", "twofish128-ctr"}
	client.Lists[SlotCipherServerToClient] = []string{"aes128-ctr", "twofish128-ctr"}
	server := makeProposal("")
	server.Lists[SlotCipherClientToServer] = []string{"aes128-ctr", "twofish128-ctr"}
	server.Lists[SlotCipherServerToClient] = []string{"aes128-ctr", "twofish128-ctr"}

	allow := &AllowList{CipherAlgorithms: []string{"twofish128-ctr"}}
	result, err := Negotiate(client, server, allow)
	if err != nil {
		t.Fatal(err)
	}
	if result[SlotCipherClientToServer] != "twofish128-ctr" {
		t.Fatalf("expected allow-list to force twofish128-ctr, got %q", result[SlotCipherClientToServer])
	}
}

func TestProposalEncodeDecodeRoundTrip(t *testing.T) {
	p := makeProposal("aes128-ctr")
	copy(p.Cookie[:], []byte("0123456789abcdef"))
	raw := p.Encode()

	decoded, err := ParseProposal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Cookie != p.Cookie {
		t.Fatal("cookie did not survive round trip")
	}
	for s := Slot(0); s < numSlots; s++ {
		got := joinNames(decoded.Lists[s])
		want := joinNames(p.Lists[s])
		if got != want {
			t.Fatalf("slot %d mismatch: got %q want %q", s, got, want)
		}
	}
}
