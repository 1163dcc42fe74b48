package store

import (
	"errors"
	"os"
	"testing"

	"waitlist/api/internal/logging"
)

// TestUniqueConstraintsRejectDuplicateClaims exercises the unique indexes
// that back the claim invariants against a live database.
func TestUniqueConstraintsRejectDuplicateClaims(t *testing.T) {
	db, ctx := liveDB(t)
	if _, err := ApplyMigrations(ctx, db, os.DirFS(migrationsDir), logging.Discard()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	pg := NewPostgresStore(db)
	first, err := pg.InsertEntry(ctx, NewEntry{
		Name:          "Avery",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
		Avatar:        GeneratedAvatar{Seed: "5"},
		ProfileID:     5,
		UserID:        "a@x",
	})
	if err != nil {
		t.Fatalf("insert first entry: %v", err)
	}
	if first.ID == "" || first.ProfileID != 5 {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	cases := []struct {
		name  string
		entry NewEntry
		field string
	}{
		{
			name:  "same slot",
			entry: NewEntry{Name: "Blake", WalletAddress: "0xde709f2102306220921060314715629080e2fb77", Avatar: ExternalImage{URL: "https://example.com/b.png"}, ProfileID: 5, UserID: "b@x"},
			field: FieldSlot,
		},
		{
			name:  "same wallet",
			entry: NewEntry{Name: "Blake", WalletAddress: first.WalletAddress, Avatar: ExternalImage{URL: "https://example.com/b.png"}, ProfileID: 6, UserID: "b@x"},
			field: FieldWallet,
		},
		{
			name:  "same identity",
			entry: NewEntry{Name: "Avery", WalletAddress: "0xde709f2102306220921060314715629080e2fb77", Avatar: ExternalImage{URL: "https://example.com/a.png"}, ProfileID: 7, UserID: "a@x"},
			field: FieldIdentity,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pg.InsertEntry(ctx, tc.entry)
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("expected ConflictError, got %v", err)
			}
			if conflict.Field != tc.field {
				t.Fatalf("conflict field = %q, want %q", conflict.Field, tc.field)
			}
		})
	}
}
