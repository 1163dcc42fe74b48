// Package session stores OAuth login state and server-side session records.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// LoginState is kept between the login redirect and the OAuth callback.
type LoginState struct {
	Verifier  string    `json:"verifier"`
	ReturnTo  string    `json:"return_to"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is stored per issued session token, keyed by the token ID.
type Record struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	SaveLoginState(ctx context.Context, state string, data LoginState, ttl time.Duration) error
	// TakeLoginState returns and deletes the state so a callback can be
	// replayed at most once.
	TakeLoginState(ctx context.Context, state string) (LoginState, error)
	SaveSession(ctx context.Context, sessionID string, record Record, expiresAt time.Time) error
	LookupSession(ctx context.Context, sessionID string) (Record, error)
	RevokeSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultSessionTTL = 30 * 24 * time.Hour

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return ttl
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
