// Package session holds per-user runtime state: the active identity, the
// shared relay connection, and a profile cache.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
	"unstuck/internal/signer"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Connector is the slice of the relay gateway the session needs.
type Connector interface {
	Connect(ctx context.Context) error
	FetchByFilter(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
}

type Session struct {
	Relays Connector

	mu       sync.Mutex
	signer   signer.Signer
	connect  *connectAttempt
	profiles map[string]domain.Profile
}

// connectAttempt lets concurrent callers share one dial instead of racing.
type connectAttempt struct {
	done chan struct{}
	err  error
}

func New(relays Connector) *Session {
	return &Session{
		Relays:   relays,
		profiles: map[string]domain.Profile{},
	}
}

// Login installs the identity for subsequent signing.
func (s *Session) Login(sg signer.Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = sg
}

// Logout drops the identity and the profile cache. The relay connection
// stays up.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = nil
	s.profiles = map[string]domain.Profile{}
}

func (s *Session) Signer() signer.Signer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer
}

func (s *Session) PublicKey() (string, error) {
	s.mu.Lock()
	sg := s.signer
	s.mu.Unlock()
	if sg == nil {
		return "", ErrNotLoggedIn
	}
	return sg.PublicKey()
}

// EnsureConnected dials the relay set once. Callers arriving while a dial is
// in flight wait for it and share its outcome; a failed attempt is retried by
// the next caller.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.connect != nil {
		attempt := s.connect
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	s.connect = attempt
	s.mu.Unlock()

	attempt.err = s.Relays.Connect(ctx)
	close(attempt.done)

	if attempt.err != nil {
		s.mu.Lock()
		if s.connect == attempt {
			s.connect = nil
		}
		s.mu.Unlock()
	}
	return attempt.err
}

// Profile resolves kind-0 metadata for a pubkey, memoized for the session's
// lifetime. A pubkey with no published profile caches an empty entry so it is
// only looked up once.
func (s *Session) Profile(ctx context.Context, pubkey string) (domain.Profile, error) {
	s.mu.Lock()
	if p, ok := s.profiles[pubkey]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	events, err := s.Relays.FetchByFilter(ctx, nostr.Filter{
		Kinds:   []int{domain.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{PubKey: pubkey}
	if len(events) > 0 {
		p = parseProfile(events[0])
	}
	s.mu.Lock()
	s.profiles[pubkey] = p
	s.mu.Unlock()
	return p, nil
}

func parseProfile(ev nostr.Event) domain.Profile {
	var meta struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
		About   string `json:"about"`
	}
	// Unparsable metadata degrades to a bare pubkey entry.
	_ = json.Unmarshal([]byte(ev.Content), &meta)
	return domain.Profile{
		PubKey:      ev.PubKey,
		DisplayName: meta.Name,
		PictureURL:  meta.Picture,
		About:       meta.About,
	}
}
