package signer

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestGenerateAndSign(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub, err := s.PublicKey()
	if err != nil || pub == "" {
		t.Fatalf("public key: %q %v", pub, err)
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      7000,
		Tags:      nostr.Tags{{"e", "task-id"}},
		Content:   "bid",
	}
	if err := s.Sign(&ev); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ev.ID == "" || ev.Sig == "" {
		t.Fatalf("event not signed: id=%q sig=%q", ev.ID, ev.Sig)
	}
	if ev.PubKey != pub {
		t.Fatalf("pubkey mismatch: %s != %s", ev.PubKey, pub)
	}
	ok, err := ev.CheckSignature()
	if err != nil || !ok {
		t.Fatalf("signature check failed: %v %v", ok, err)
	}
}

func TestNewLocalSignerRejectsGarbage(t *testing.T) {
	if _, err := NewLocalSigner("not-hex"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}
