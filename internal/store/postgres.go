package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const entryColumns = `id, name, wallet_address, avatar, avatar_type, avatar_seed, avatar_style, profile_id, COALESCE(user_id, ''), created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var r entryRow
	var seed, style sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.WalletAddress, &r.Avatar, &r.AvatarType, &seed, &style, &r.ProfileID, &r.UserID, &r.CreatedAt); err != nil {
		return Entry{}, err
	}
	if seed.Valid {
		r.AvatarSeed = &seed.String
	}
	if style.Valid {
		r.AvatarStyle = &style.String
	}
	return r.entry(), nil
}

func (s *PostgresStore) findOne(ctx context.Context, label, where string, arg any) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE ` + where + ` LIMIT 1`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup entry by %s: %w", label, err)
	}
	return entry, nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, userID string) (Entry, error) {
	return s.findOne(ctx, "identity", `user_id = $1`, userID)
}

func (s *PostgresStore) FindByWallet(ctx context.Context, wallet string) (Entry, error) {
	return s.findOne(ctx, "wallet", `wallet_address = $1`, wallet)
}

func (s *PostgresStore) FindBySlot(ctx context.Context, slot int) (Entry, error) {
	return s.findOne(ctx, "slot", `profile_id = $1`, slot)
}

func (s *PostgresStore) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM waitlist_entries ORDER BY created_at ASC, profile_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) CountEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertEntry(ctx context.Context, entry NewEntry) (Entry, error) {
	avatar, avatarType, seed, style := AvatarColumns(entry.Avatar)
	query := `
		INSERT INTO waitlist_entries (name, wallet_address, avatar, avatar_type, avatar_seed, avatar_style, profile_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING ` + entryColumns
	created, err := scanEntry(s.db.QueryRowContext(ctx, query,
		entry.Name, entry.WalletAddress, avatar, avatarType, seed, style, entry.ProfileID, entry.UserID))
	if err != nil {
		return Entry{}, wrapWriteError("insert entry", err)
	}
	return created, nil
}

func (s *PostgresStore) MoveEntry(ctx context.Context, wallet string, entry NewEntry) (Entry, error) {
	avatar, avatarType, seed, style := AvatarColumns(entry.Avatar)
	query := `
		UPDATE waitlist_entries
		SET profile_id = $2, name = $3, avatar = $4, avatar_type = $5, avatar_seed = $6, avatar_style = $7
		WHERE wallet_address = $1
		RETURNING ` + entryColumns
	moved, err := scanEntry(s.db.QueryRowContext(ctx, query,
		wallet, entry.ProfileID, entry.Name, avatar, avatarType, seed, style))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, wrapWriteError("move entry", err)
	}
	return moved, nil
}

func (s *PostgresStore) DeleteByWallet(ctx context.Context, wallet string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE wallet_address = $1`, wallet)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM waitlist_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertProfile(ctx context.Context, profile NewProfile) (Profile, error) {
	query := `
		INSERT INTO profiles (username, wallet_address, name, image, email, user_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		RETURNING id, username, wallet_address, name, image, email, user_id, created_at
	`
	var created Profile
	var image, email, userID sql.NullString
	err := s.db.QueryRowContext(ctx, query,
		profile.Username, profile.WalletAddress, profile.Name, profile.Image, profile.Email, profile.UserID, time.Now().UTC(),
	).Scan(&created.ID, &created.Username, &created.WalletAddress, &created.Name, &image, &email, &userID, &created.CreatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	created.Image = nullableString(image)
	created.Email = nullableString(email)
	created.UserID = nullableString(userID)
	return created, nil
}

func wrapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return conflictFromConstraint(pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
