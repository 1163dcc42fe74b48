package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Conflict fields reported by a unique violation.
const (
	FieldWallet   = "wallet_address"
	FieldIdentity = "user_id"
	FieldSlot     = "profile_id"
)

// ConflictError is returned when a write violates one of the waitlist
// uniqueness constraints. It matches ErrConflict with errors.Is.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s", e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Backend is the table-like store behind the waitlist. Lookups return
// ErrNotFound when no row matches.
type Backend interface {
	FindByIdentity(ctx context.Context, userID string) (Entry, error)
	FindByWallet(ctx context.Context, wallet string) (Entry, error)
	FindBySlot(ctx context.Context, slot int) (Entry, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	CountEntries(ctx context.Context) (int, error)
	InsertEntry(ctx context.Context, entry NewEntry) (Entry, error)
	// MoveEntry rewrites the row bound to wallet with the candidate's slot,
	// name and avatar.
	MoveEntry(ctx context.Context, wallet string, entry NewEntry) (Entry, error)
	DeleteByWallet(ctx context.Context, wallet string) error
	DeleteAll(ctx context.Context) error
	InsertProfile(ctx context.Context, profile NewProfile) (Profile, error)
	Ping(ctx context.Context) error
}

func conflictFromConstraint(constraint string) *ConflictError {
	switch constraint {
	case "waitlist_entries_wallet_address_key":
		return &ConflictError{Field: FieldWallet}
	case "waitlist_entries_user_id_key":
		return &ConflictError{Field: FieldIdentity}
	case "waitlist_entries_profile_id_key":
		return &ConflictError{Field: FieldSlot}
	}
	return &ConflictError{Field: constraint}
}

var (
	_ Backend = (*PostgresStore)(nil)
	_ Backend = (*SupabaseStore)(nil)
)
