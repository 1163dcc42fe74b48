package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"waitlist/api/internal/postgrest"
)

const (
	entriesTable  = "waitlist_entries"
	profilesTable = "profiles"
)

// SupabaseStore is a Backend over the hosted PostgREST API.
type SupabaseStore struct {
	client *postgrest.Client
}

func NewSupabaseStore(client *postgrest.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

type entryInsert struct {
	Name          string  `json:"name"`
	WalletAddress string  `json:"wallet_address"`
	Avatar        string  `json:"avatar"`
	AvatarType    string  `json:"avatar_type"`
	AvatarSeed    *string `json:"avatar_seed"`
	AvatarStyle   *string `json:"avatar_style"`
	ProfileID     int     `json:"profile_id"`
	UserID        *string `json:"user_id,omitempty"`
}

func newEntryInsert(entry NewEntry) entryInsert {
	avatar, avatarType, seed, style := AvatarColumns(entry.Avatar)
	row := entryInsert{
		Name:          entry.Name,
		WalletAddress: entry.WalletAddress,
		Avatar:        avatar,
		AvatarType:    avatarType,
		AvatarSeed:    seed,
		AvatarStyle:   style,
		ProfileID:     entry.ProfileID,
	}
	if entry.UserID != "" {
		userID := entry.UserID
		row.UserID = &userID
	}
	return row
}

func (s *SupabaseStore) single(ctx context.Context, label, column string, value any) (Entry, error) {
	var row entryRow
	err := s.client.From(entriesTable).Select("*").Eq(column, value).Single(ctx, &row)
	if errors.Is(err, postgrest.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup entry by %s: %w", label, err)
	}
	return row.entry(), nil
}

func (s *SupabaseStore) FindByIdentity(ctx context.Context, userID string) (Entry, error) {
	return s.single(ctx, "identity", "user_id", userID)
}

func (s *SupabaseStore) FindByWallet(ctx context.Context, wallet string) (Entry, error) {
	return s.single(ctx, "wallet", "wallet_address", wallet)
}

func (s *SupabaseStore) FindBySlot(ctx context.Context, slot int) (Entry, error) {
	return s.single(ctx, "slot", "profile_id", slot)
}

func (s *SupabaseStore) ListEntries(ctx context.Context) ([]Entry, error) {
	var rows []entryRow
	if err := s.client.From(entriesTable).Select("*").Order("created_at", true).Execute(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (s *SupabaseStore) CountEntries(ctx context.Context) (int, error) {
	count, err := s.client.From(entriesTable).Select("id").Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (s *SupabaseStore) InsertEntry(ctx context.Context, entry NewEntry) (Entry, error) {
	var row entryRow
	if err := s.client.From(entriesTable).Select("*").Insert(ctx, newEntryInsert(entry), &row); err != nil {
		return Entry{}, restWriteError("insert entry", err)
	}
	return row.entry(), nil
}

func (s *SupabaseStore) MoveEntry(ctx context.Context, wallet string, entry NewEntry) (Entry, error) {
	avatar, avatarType, seed, style := AvatarColumns(entry.Avatar)
	patch := map[string]any{
		"profile_id":   entry.ProfileID,
		"name":         entry.Name,
		"avatar":       avatar,
		"avatar_type":  avatarType,
		"avatar_seed":  seed,
		"avatar_style": style,
	}
	var rows []entryRow
	if err := s.client.From(entriesTable).Select("*").Eq("wallet_address", wallet).Update(ctx, patch, &rows); err != nil {
		return Entry{}, restWriteError("move entry", err)
	}
	if len(rows) == 0 {
		return Entry{}, ErrNotFound
	}
	return rows[0].entry(), nil
}

func (s *SupabaseStore) DeleteByWallet(ctx context.Context, wallet string) error {
	removed, err := s.client.From(entriesTable).Eq("wallet_address", wallet).Delete(ctx)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SupabaseStore) DeleteAll(ctx context.Context) error {
	// PostgREST refuses an unfiltered DELETE.
	if _, err := s.client.From(entriesTable).Gte("profile_id", 1).Delete(ctx); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func (s *SupabaseStore) InsertProfile(ctx context.Context, profile NewProfile) (Profile, error) {
	row := map[string]any{
		"username":       profile.Username,
		"wallet_address": profile.WalletAddress,
		"name":           profile.Name,
		"image":          optional(profile.Image),
		"email":          optional(profile.Email),
		"user_id":        optional(profile.UserID),
		"created_at":     time.Now().UTC(),
	}
	var created Profile
	if err := s.client.From(profilesTable).Select("*").Insert(ctx, row, &created); err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return created, nil
}

func (s *SupabaseStore) Ping(ctx context.Context) error {
	var rows []entryRow
	if err := s.client.From(entriesTable).Select("id").Limit(1).Execute(ctx, &rows); err != nil {
		return fmt.Errorf("ping supabase: %w", err)
	}
	return nil
}

func restWriteError(op string, err error) error {
	var apiErr *postgrest.Error
	if errors.As(err, &apiErr) {
		if constraint, ok := apiErr.IsUniqueViolation(); ok {
			return conflictFromConstraint(constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
