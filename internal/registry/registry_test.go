package registry

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitlist/api/internal/store"
)

var errUnavailable = errors.New("connection refused")

// fakeBackend is an in-memory store.Backend. Setting fail makes every call
// return that error.
type fakeBackend struct {
	mu      sync.Mutex
	entries []store.Entry
	fail    error
	nextID  int
	clock   time.Time
}

func (f *fakeBackend) find(match func(store.Entry) bool) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return store.Entry{}, f.fail
	}
	for _, e := range f.entries {
		if match(e) {
			return e, nil
		}
	}
	return store.Entry{}, store.ErrNotFound
}

func (f *fakeBackend) FindByIdentity(_ context.Context, userID string) (store.Entry, error) {
	return f.find(func(e store.Entry) bool { return e.UserID == userID })
}

func (f *fakeBackend) FindByWallet(_ context.Context, wallet string) (store.Entry, error) {
	return f.find(func(e store.Entry) bool { return e.WalletAddress == wallet })
}

func (f *fakeBackend) FindBySlot(_ context.Context, slot int) (store.Entry, error) {
	return f.find(func(e store.Entry) bool { return e.ProfileID == slot })
}

func (f *fakeBackend) ListEntries(context.Context) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := append([]store.Entry(nil), f.entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBackend) CountEntries(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	return len(f.entries), nil
}

func (f *fakeBackend) InsertEntry(_ context.Context, entry store.NewEntry) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return store.Entry{}, f.fail
	}
	for _, e := range f.entries {
		switch {
		case e.ProfileID == entry.ProfileID:
			return store.Entry{}, &store.ConflictError{Field: store.FieldSlot}
		case e.WalletAddress == entry.WalletAddress:
			return store.Entry{}, &store.ConflictError{Field: store.FieldWallet}
		case entry.UserID != "" && e.UserID == entry.UserID:
			return store.Entry{}, &store.ConflictError{Field: store.FieldIdentity}
		}
	}
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	created := store.Entry{
		ID:            "remote-" + string(rune('0'+f.nextID)),
		Name:          entry.Name,
		WalletAddress: entry.WalletAddress,
		Avatar:        entry.Avatar,
		ProfileID:     entry.ProfileID,
		UserID:        entry.UserID,
		CreatedAt:     f.clock,
	}
	f.entries = append(f.entries, created)
	return created, nil
}

func (f *fakeBackend) MoveEntry(_ context.Context, wallet string, entry store.NewEntry) (store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return store.Entry{}, f.fail
	}
	for i := range f.entries {
		if f.entries[i].WalletAddress == wallet {
			f.entries[i].ProfileID = entry.ProfileID
			f.entries[i].Name = entry.Name
			f.entries[i].Avatar = entry.Avatar
			return f.entries[i], nil
		}
	}
	return store.Entry{}, store.ErrNotFound
}

func (f *fakeBackend) DeleteByWallet(_ context.Context, wallet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for i, e := range f.entries {
		if e.WalletAddress == wallet {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeBackend) DeleteAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.entries = nil
	return nil
}

func (f *fakeBackend) InsertProfile(context.Context, store.NewProfile) (store.Profile, error) {
	return store.Profile{}, errors.New("not implemented")
}

func (f *fakeBackend) Ping(context.Context) error { return f.fail }

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func candidate(wallet string, slot int) Candidate {
	return Candidate{
		Name:          "Avery",
		WalletAddress: wallet,
		Avatar:        store.GeneratedAvatar{Seed: wallet},
		ProfileID:     slot,
	}
}

func TestAddEntryRemoteIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := New(&fakeBackend{}, NewMemoryStore(), quietLog())

	first, err := reg.AddEntry(ctx, candidate("0xa", 5))
	require.NoError(t, err)
	again, err := reg.AddEntry(ctx, candidate("0xa", 5))
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	size, err := reg.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, ModeRemote, reg.Mode())
}

func TestAddEntryRemoteMovesWalletToNewSlot(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	reg := New(backend, NewMemoryStore(), quietLog())

	first, err := reg.AddEntry(ctx, candidate("0xa", 5))
	require.NoError(t, err)
	moved, err := reg.AddEntry(ctx, candidate("0xa", 9))
	require.NoError(t, err)

	assert.Equal(t, first.ID, moved.ID)
	assert.Equal(t, 9, moved.ProfileID)

	old, err := reg.GetEntryBySlot(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestAddEntryRemotePositionTaken(t *testing.T) {
	ctx := context.Background()
	var fallbacks []string
	reg := New(&fakeBackend{}, NewMemoryStore(), quietLog(), WithFallbackHook(func(op string) {
		fallbacks = append(fallbacks, op)
	}))

	_, err := reg.AddEntry(ctx, candidate("0xa", 5))
	require.NoError(t, err)

	_, err = reg.AddEntry(ctx, candidate("0xb", 5))
	assert.ErrorIs(t, err, ErrPositionTaken)

	_, err = reg.AddEntry(ctx, candidate("0xa", 6))
	require.NoError(t, err)
	_, err = reg.AddEntry(ctx, candidate("0xc", 7))
	require.NoError(t, err)
	_, err = reg.AddEntry(ctx, candidate("0xa", 7))
	assert.ErrorIs(t, err, ErrPositionTaken, "moving onto a held slot is rejected")

	assert.Empty(t, fallbacks, "conflicts must not fall back to the local store")
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{fail: errUnavailable}
	var fallbacks []string
	reg := New(backend, NewMemoryStore(), quietLog(), WithFallbackHook(func(op string) {
		fallbacks = append(fallbacks, op)
	}))

	entry, err := reg.AddEntry(ctx, candidate("0xa", 5))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, ModeLocal, reg.Mode())

	_, err = reg.AddEntry(ctx, candidate("0xb", 5))
	assert.ErrorIs(t, err, ErrPositionTaken)

	found, err := reg.GetEntryByWallet(ctx, "0xa")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.ID, found.ID)

	entries, err := reg.GetAllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Contains(t, fallbacks, "add_entry")
	assert.Contains(t, fallbacks, "get_entry_by_wallet")

	backend.fail = nil
	_, err = reg.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, reg.Mode())
}

func TestLocalOnlyRegistry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	reg := New(nil, NewMemoryStore(), quietLog(), WithClock(clock))
	assert.Equal(t, ModeLocal, reg.Mode())

	for i, wallet := range []string{"0xc", "0xa", "0xb"} {
		_, err := reg.AddEntry(ctx, candidate(wallet, 10-i))
		require.NoError(t, err)
	}

	entries, err := reg.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"0xc", "0xa", "0xb"}, []string{entries[0].WalletAddress, entries[1].WalletAddress, entries[2].WalletAddress})

	moved, err := reg.AddEntry(ctx, candidate("0xc", 20))
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, moved.ID, "local move keeps the record")

	missing, err := reg.GetEntryBySlot(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, missing)

	removed, err := reg.RemoveEntry(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = reg.RemoveEntry(ctx, "0xa")
	require.NoError(t, err)
	assert.False(t, removed)

	size, err := reg.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	require.NoError(t, reg.ClearAll(ctx))
	size, err = reg.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLocalRejectsSecondWalletForIdentity(t *testing.T) {
	ctx := context.Background()
	reg := New(nil, NewMemoryStore(), quietLog())

	first := candidate("0xa", 1)
	first.UserID = "a@x"
	_, err := reg.AddEntry(ctx, first)
	require.NoError(t, err)

	second := candidate("0xb", 2)
	second.UserID = "a@x"
	_, err = reg.AddEntry(ctx, second)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestRemoteRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	reg := New(backend, NewMemoryStore(), quietLog())

	_, err := reg.AddEntry(ctx, candidate("0xa", 1))
	require.NoError(t, err)
	_, err = reg.AddEntry(ctx, candidate("0xb", 2))
	require.NoError(t, err)

	removed, err := reg.RemoveEntry(ctx, "0xa")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = reg.RemoveEntry(ctx, "0xmissing")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, reg.ClearAll(ctx))
	size, err := reg.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestCancelledContextDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := New(&fakeBackend{fail: context.Canceled}, NewMemoryStore(), quietLog())

	_, err := reg.AddEntry(ctx, candidate("0xa", 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLocalStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	local := NewRedisLocalStore(client, "")
	reg := New(nil, local, quietLog())

	_, err := reg.AddEntry(ctx, candidate("0xa", 3))
	require.NoError(t, err)

	raw, err := mr.Get(DefaultLocalKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"wallet_address":"0xa"`)
	assert.Contains(t, raw, `"profile_id":3`)

	other := New(nil, NewRedisLocalStore(client, ""), quietLog())
	found, err := other.GetEntryBySlot(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "0xa", found.WalletAddress)

	require.NoError(t, local.Clear(ctx))
	assert.False(t, mr.Exists(DefaultLocalKey))
}

func TestCorruptLocalStoreReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set(DefaultLocalKey, "{not json"))

	reg := New(nil, NewRedisLocalStore(client, ""), quietLog())
	entries, err := reg.GetAllEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
