// Package registry maps waitlist slots to claim records. It prefers the
// remote backend and degrades to a local store when the backend fails.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waitlist/api/internal/store"
)

// ErrPositionTaken is returned when the requested slot belongs to another
// wallet.
var ErrPositionTaken = errors.New("position already taken")

const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

type Candidate = store.NewEntry

type Option func(*Registry)

// WithFallbackHook is called with the operation name each time the
// registry falls back to the local store.
func WithFallbackHook(hook func(op string)) Option {
	return func(r *Registry) { r.onFallback = hook }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the Spot Registry. remote may be nil, in which case every
// operation runs against the local store.
type Registry struct {
	remote     store.Backend
	local      LocalStore
	log        logrus.FieldLogger
	onFallback func(op string)
	now        func() time.Time
	degraded   atomic.Bool
}

func New(remote store.Backend, local LocalStore, log logrus.FieldLogger, opts ...Option) *Registry {
	r := &Registry{
		remote: remote,
		local:  local,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode reports whether the last operation was served remotely.
func (r *Registry) Mode() string {
	if r.remote == nil || r.degraded.Load() {
		return ModeLocal
	}
	return ModeRemote
}

// fallback reports whether err should be masked by the local store.
// Misses, conflicts and caller cancellation are real answers.
func (r *Registry) fallback(ctx context.Context, op string, err error) bool {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) || errors.Is(err, ErrPositionTaken) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	r.degraded.Store(true)
	r.log.WithFields(logrus.Fields{"op": op, "error": err.Error()}).Warn("registry: remote store failed, using local store")
	if r.onFallback != nil {
		r.onFallback(op)
	}
	return true
}

func (r *Registry) served() {
	r.degraded.Store(false)
}

// AddEntry claims candidate.ProfileID for candidate.WalletAddress. A wallet
// that already holds the slot gets its record back unchanged; a wallet that
// holds another slot is moved to the requested one.
func (r *Registry) AddEntry(ctx context.Context, candidate Candidate) (store.Entry, error) {
	if r.remote == nil {
		return r.addLocal(ctx, candidate)
	}
	entry, err := r.addRemote(ctx, candidate)
	if err != nil {
		if r.fallback(ctx, "add_entry", err) {
			return r.addLocal(ctx, candidate)
		}
		return store.Entry{}, err
	}
	r.served()
	return entry, nil
}

func (r *Registry) addRemote(ctx context.Context, candidate Candidate) (store.Entry, error) {
	existing, err := r.remote.FindByWallet(ctx, candidate.WalletAddress)
	switch {
	case err == nil:
		if existing.ProfileID == candidate.ProfileID {
			return existing, nil
		}
		if err := r.ensureSlotFree(ctx, candidate); err != nil {
			return store.Entry{}, err
		}
		moved, err := r.remote.MoveEntry(ctx, candidate.WalletAddress, candidate)
		return moved, slotConflict(err)
	case !errors.Is(err, store.ErrNotFound):
		return store.Entry{}, err
	}

	if err := r.ensureSlotFree(ctx, candidate); err != nil {
		return store.Entry{}, err
	}
	created, err := r.remote.InsertEntry(ctx, candidate)
	return created, slotConflict(err)
}

func (r *Registry) ensureSlotFree(ctx context.Context, candidate Candidate) error {
	holder, err := r.remote.FindBySlot(ctx, candidate.ProfileID)
	if err == nil && holder.WalletAddress != candidate.WalletAddress {
		return ErrPositionTaken
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func slotConflict(err error) error {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) && conflict.Field == store.FieldSlot {
		return ErrPositionTaken
	}
	return err
}

func (r *Registry) addLocal(ctx context.Context, candidate Candidate) (store.Entry, error) {
	entries := r.loadLocal(ctx)

	walletIdx, slotIdx := -1, -1
	for i, entry := range entries {
		if entry.WalletAddress == candidate.WalletAddress {
			walletIdx = i
		}
		if entry.ProfileID == candidate.ProfileID {
			slotIdx = i
		}
	}

	if walletIdx >= 0 && entries[walletIdx].ProfileID == candidate.ProfileID {
		return entries[walletIdx], nil
	}
	if slotIdx >= 0 {
		return store.Entry{}, ErrPositionTaken
	}
	if candidate.UserID != "" {
		for i, entry := range entries {
			if i != walletIdx && entry.UserID == candidate.UserID {
				return store.Entry{}, &store.ConflictError{Field: store.FieldIdentity}
			}
		}
	}

	var result store.Entry
	if walletIdx >= 0 {
		moved := &entries[walletIdx]
		moved.ProfileID = candidate.ProfileID
		moved.Name = candidate.Name
		moved.Avatar = candidate.Avatar
		result = *moved
	} else {
		result = store.Entry{
			ID:            uuid.NewString(),
			Name:          candidate.Name,
			WalletAddress: candidate.WalletAddress,
			Avatar:        candidate.Avatar,
			ProfileID:     candidate.ProfileID,
			UserID:        candidate.UserID,
			CreatedAt:     r.now().UTC(),
		}
		entries = append(entries, result)
	}
	r.saveLocal(ctx, entries)
	return result, nil
}

// GetAllEntries returns every claim ordered by creation time ascending.
func (r *Registry) GetAllEntries(ctx context.Context) ([]store.Entry, error) {
	if r.remote != nil {
		entries, err := r.remote.ListEntries(ctx)
		if err == nil {
			r.served()
			return entries, nil
		}
		if !r.fallback(ctx, "get_all_entries", err) {
			return nil, err
		}
	}
	entries := r.loadLocal(ctx)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// GetEntryBySlot returns nil when the slot is unclaimed.
func (r *Registry) GetEntryBySlot(ctx context.Context, slot int) (*store.Entry, error) {
	return r.lookup(ctx, "get_entry_by_slot",
		func() (store.Entry, error) { return r.remote.FindBySlot(ctx, slot) },
		func(e store.Entry) bool { return e.ProfileID == slot })
}

// GetEntryByWallet returns nil when the wallet has no claim.
func (r *Registry) GetEntryByWallet(ctx context.Context, wallet string) (*store.Entry, error) {
	return r.lookup(ctx, "get_entry_by_wallet",
		func() (store.Entry, error) { return r.remote.FindByWallet(ctx, wallet) },
		func(e store.Entry) bool { return e.WalletAddress == wallet })
}

func (r *Registry) lookup(ctx context.Context, op string, remote func() (store.Entry, error), match func(store.Entry) bool) (*store.Entry, error) {
	if r.remote != nil {
		entry, err := remote()
		switch {
		case err == nil:
			r.served()
			return &entry, nil
		case errors.Is(err, store.ErrNotFound):
			r.served()
			return nil, nil
		case !r.fallback(ctx, op, err):
			return nil, err
		}
	}
	for _, entry := range r.loadLocal(ctx) {
		if match(entry) {
			found := entry
			return &found, nil
		}
	}
	return nil, nil
}

// RemoveEntry deletes the claim held by wallet and reports whether one existed.
func (r *Registry) RemoveEntry(ctx context.Context, wallet string) (bool, error) {
	if r.remote != nil {
		err := r.remote.DeleteByWallet(ctx, wallet)
		switch {
		case err == nil:
			r.served()
			return true, nil
		case errors.Is(err, store.ErrNotFound):
			r.served()
			return false, nil
		case !r.fallback(ctx, "remove_entry", err):
			return false, err
		}
	}
	entries := r.loadLocal(ctx)
	kept := entries[:0]
	removed := false
	for _, entry := range entries {
		if entry.WalletAddress == wallet {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	if removed {
		r.saveLocal(ctx, kept)
	}
	return removed, nil
}

// ClearAll deletes every claim.
func (r *Registry) ClearAll(ctx context.Context) error {
	if r.remote != nil {
		err := r.remote.DeleteAll(ctx)
		if err == nil {
			r.served()
			return nil
		}
		if !r.fallback(ctx, "clear_all", err) {
			return err
		}
	}
	if err := r.local.Clear(ctx); err != nil {
		r.log.WithError(err).Warn("registry: clear local store")
	}
	return nil
}

// Size returns the number of claims.
func (r *Registry) Size(ctx context.Context) (int, error) {
	if r.remote != nil {
		count, err := r.remote.CountEntries(ctx)
		if err == nil {
			r.served()
			return count, nil
		}
		if !r.fallback(ctx, "size", err) {
			return 0, err
		}
	}
	return len(r.loadLocal(ctx)), nil
}

func (r *Registry) loadLocal(ctx context.Context) []store.Entry {
	entries, err := r.local.Load(ctx)
	if err != nil {
		r.log.WithError(err).Warn("registry: read local store")
		return nil
	}
	return entries
}

func (r *Registry) saveLocal(ctx context.Context, entries []store.Entry) {
	if err := r.local.Save(ctx, entries); err != nil {
		r.log.WithError(err).Warn("registry: write local store")
	}
}
