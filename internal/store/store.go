// Package store persists the local identity and a profile cache in the
// workspace database. Relay events are never stored; relays are the source of
// truth for marketplace state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"unstuck/internal/domain"
)

type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Identity is the persisted local keypair.
type Identity struct {
	PubKey    string
	SecretKey string
	CreatedAt string
}

// SaveIdentity stores the keypair, replacing any previous one. The table
// holds at most a single row.
func (s Store) SaveIdentity(ctx context.Context, id Identity) error {
	if id.PubKey == "" || id.SecretKey == "" {
		return errors.New("pubkey and secret_key required")
	}
	if id.CreatedAt == "" {
		id.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO identity(id, pubkey, secret_key, created_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET pubkey=excluded.pubkey, secret_key=excluded.secret_key, created_at=excluded.created_at`,
		id.PubKey, id.SecretKey, id.CreatedAt)
	return err
}

func (s Store) GetIdentity(ctx context.Context) (Identity, error) {
	var id Identity
	err := s.DB.QueryRowContext(ctx, `SELECT pubkey, secret_key, created_at FROM identity WHERE id=1`).
		Scan(&id.PubKey, &id.SecretKey, &id.CreatedAt)
	if err == sql.ErrNoRows {
		return Identity{}, ErrNotFound
	}
	return id, err
}

func (s Store) ClearIdentity(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM identity WHERE id=1`)
	return err
}

// UpsertProfile caches a resolved profile across runs.
func (s Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if p.PubKey == "" {
		return errors.New("pubkey required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.DB.ExecContext(ctx, `INSERT INTO profiles(pubkey, payload_json, updated_at) VALUES (?,?,?)
ON CONFLICT(pubkey) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		p.PubKey, string(payload), now)
	return err
}

func (s Store) GetProfile(ctx context.Context, pubkey string) (domain.Profile, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT payload_json FROM profiles WHERE pubkey=?`, pubkey).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Profile{}, ErrNotFound
	}
	if err != nil {
		return domain.Profile{}, err
	}
	var p domain.Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}
