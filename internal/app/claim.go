package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"waitlist/api/internal/rbac"
	"waitlist/api/internal/store"
	"waitlist/api/internal/wallet"
)

// ClaimInput is the claim request body.
type ClaimInput struct {
	Name          string  `json:"name"`
	WalletAddress string  `json:"walletAddress"`
	Avatar        string  `json:"avatar"`
	AvatarType    string  `json:"avatarType"`
	AvatarSeed    *string `json:"avatarSeed"`
	AvatarStyle   *string `json:"avatarStyle"`
	ProfileID     int     `json:"profileId"`
}

const (
	msgAlreadyJoined  = "You have already joined the waitlist with this Twitter account and wallet address"
	msgWalletMismatch = "You have already joined the waitlist with this Twitter account using a different wallet address. Each Twitter account can only be linked to one wallet address."
	msgWalletTaken    = "This wallet address has already been used by another account"
	msgPositionTaken  = "This position is already taken"
)

var (
	errUnauthorized    = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized. Please sign in.", nil)
	errMissingFields   = domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Missing required fields", nil)
	errIdentityUnknown = domainError(http.StatusBadRequest, "IDENTITY_UNKNOWN", "Unable to identify user. Please sign in again.", nil)
	errInvalidSpot     = domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid spot", nil)
	errAlreadyJoined   = domainError(http.StatusBadRequest, "ALREADY_JOINED", msgAlreadyJoined, nil)
	errWalletMismatch  = domainError(http.StatusBadRequest, "WALLET_MISMATCH", msgWalletMismatch, nil)
	errWalletTaken     = domainError(http.StatusBadRequest, "WALLET_TAKEN", msgWalletTaken, nil)
	errPositionTaken   = domainError(http.StatusBadRequest, "POSITION_TAKEN", msgPositionTaken, nil)
	errRateLimited     = domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
	errLookupUser      = domainError(http.StatusInternalServerError, "LOOKUP_FAILED", "Error checking user status", nil)
	errLookupWallet    = domainError(http.StatusInternalServerError, "LOOKUP_FAILED", "Error checking wallet address", nil)
	errInsertFailed    = domainError(http.StatusInternalServerError, "INSERT_FAILED", "Failed to create waitlist entry", nil)
)

// Claim registers the caller on a slot. It talks to the backend directly;
// checks run identity first, then wallet, then slot, and that order decides
// which rejection a caller sees. The unique indexes have the last word.
func (s *Service) Claim(ctx context.Context, caller *Session, input ClaimInput) (store.Entry, error) {
	entry, outcome, err := s.claim(ctx, caller, input)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			outcome = domainErr.Code
		}
	}
	s.metrics.Claim(outcome)
	return entry, err
}

func (s *Service) claim(ctx context.Context, caller *Session, input ClaimInput) (store.Entry, string, error) {
	if caller == nil {
		return store.Entry{}, "", errUnauthorized
	}
	if !rbac.Can(caller.Role, rbac.ActionClaim) {
		return store.Entry{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	userID := caller.Identity.Key()
	if !s.limiter.allow(caller.ID + "|" + userID) {
		return store.Entry{}, "", errRateLimited
	}

	name := strings.TrimSpace(input.Name)
	if name == "" || strings.TrimSpace(input.WalletAddress) == "" || input.Avatar == "" || input.ProfileID == 0 {
		return store.Entry{}, "", errMissingFields
	}
	if userID == "" {
		return store.Entry{}, "", errIdentityUnknown
	}
	checked := wallet.Validate(input.WalletAddress)
	if !checked.IsValid {
		return store.Entry{}, "", domainError(http.StatusBadRequest, "INVALID_WALLET", checked.Error, map[string]any{"normalizedAddress": checked.NormalizedAddress})
	}
	walletAddress := checked.NormalizedAddress
	if input.ProfileID < 1 || input.ProfileID > s.cfg.MaxSpots {
		return store.Entry{}, "", errInvalidSpot
	}

	existing, err := s.backend.FindByIdentity(ctx, userID)
	switch {
	case err == nil:
		if existing.WalletAddress != walletAddress {
			return store.Entry{}, "", errWalletMismatch
		}
		if existing.ProfileID != input.ProfileID {
			return store.Entry{}, "", errAlreadyJoined
		}
		return existing.Public(), "idempotent", nil
	case !errors.Is(err, store.ErrNotFound):
		s.log.WithError(err).Error("waitlist: identity lookup failed")
		return store.Entry{}, "", errLookupUser
	}

	_, err = s.backend.FindByWallet(ctx, walletAddress)
	switch {
	case err == nil:
		return store.Entry{}, "", errWalletTaken
	case !errors.Is(err, store.ErrNotFound):
		s.log.WithError(err).Error("waitlist: wallet lookup failed")
		return store.Entry{}, "", errLookupWallet
	}

	// A failed slot lookup falls through to the insert, where the unique
	// index still rejects a taken slot.
	if _, err := s.backend.FindBySlot(ctx, input.ProfileID); err == nil {
		return store.Entry{}, "", errPositionTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		s.log.WithError(err).Warn("waitlist: slot lookup failed")
	}

	created, err := s.backend.InsertEntry(ctx, store.NewEntry{
		Name:          name,
		WalletAddress: walletAddress,
		Avatar:        store.ParseAvatar(input.Avatar, input.AvatarType, input.AvatarSeed, input.AvatarStyle),
		ProfileID:     input.ProfileID,
		UserID:        userID,
	})
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			switch conflict.Field {
			case store.FieldIdentity:
				return store.Entry{}, "", errAlreadyJoined
			case store.FieldWallet:
				return store.Entry{}, "", errWalletTaken
			case store.FieldSlot:
				return store.Entry{}, "", errPositionTaken
			}
		}
		s.log.WithError(err).Error("waitlist: insert entry failed")
		return store.Entry{}, "", errInsertFailed.withDetails(err.Error())
	}

	s.log.WithFields(logrus.Fields{
		"profile_id":     created.ProfileID,
		"wallet_address": created.WalletAddress,
	}).Info("waitlist: slot claimed")
	return created.Public(), "created", nil
}

// claimLimiter keeps one token bucket per caller.
type claimLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 10 * time.Minute

func newClaimLimiter(perMinute int) *claimLimiter {
	return &claimLimiter{perMin: perMinute, limiters: map[string]*limiterEntry{}, now: time.Now}
}

func (l *claimLimiter) allow(key string) bool {
	if l == nil || l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin),
			lastSeen: now,
		}
		l.limiters[key] = entry
		l.sweep(now)
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *claimLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdle {
			delete(l.limiters, key)
		}
	}
}
