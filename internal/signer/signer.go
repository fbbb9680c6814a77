// Package signer wraps the local identity. The rest of the app treats signing
// as an opaque capability so a hardware or remote signer can slot in later.
package signer

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Signer produces the local identity's public key and signs events in place
// (filling ID and Sig).
type Signer interface {
	PublicKey() (string, error)
	Sign(ev *nostr.Event) error
}

// LocalSigner signs with an in-process secp256k1 key.
type LocalSigner struct {
	secret string
	pubkey string
}

// NewLocalSigner builds a signer from a hex-encoded secret key.
func NewLocalSigner(secretHex string) (*LocalSigner, error) {
	pub, err := nostr.GetPublicKey(secretHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return &LocalSigner{secret: secretHex, pubkey: pub}, nil
}

// Generate creates a fresh identity.
func Generate() (*LocalSigner, error) {
	return NewLocalSigner(nostr.GeneratePrivateKey())
}

func (s *LocalSigner) PublicKey() (string, error) { return s.pubkey, nil }

func (s *LocalSigner) Sign(ev *nostr.Event) error {
	ev.PubKey = s.pubkey
	return ev.Sign(s.secret)
}

// SecretKey exposes the raw key for persistence in the local store.
func (s *LocalSigner) SecretKey() string { return s.secret }
