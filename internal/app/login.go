package app

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/popup"
	"waitlist/api/internal/rbac"
	"waitlist/api/internal/session"
)

const (
	loginStateTTL   = 10 * time.Minute
	defaultReturnTo = "/waitlist?join=true&spot=1"
)

var errAuthUnavailable = domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Sign in with X is not configured", nil)

// BeginLogin stores a fresh state and PKCE verifier and returns the
// provider URL to redirect to.
func (s *Service) BeginLogin(ctx context.Context, returnTo string) (string, error) {
	if s.twitter == nil {
		return "", errAuthUnavailable
	}
	state := uuid.NewString()
	verifier := s.twitter.NewVerifier()
	err := s.sessions.SaveLoginState(ctx, state, session.LoginState{
		Verifier:  verifier,
		ReturnTo:  safeReturnTo(returnTo),
		CreatedAt: time.Now().UTC(),
	}, loginStateTTL)
	if err != nil {
		return "", err
	}
	return s.twitter.AuthCodeURL(state, verifier), nil
}

// LoginResult is a completed sign-in.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Redirect  string
	Identity  auth.Identity
}

func (s *Service) CompleteLogin(ctx context.Context, state, code string) (LoginResult, error) {
	if s.twitter == nil {
		return LoginResult{}, errAuthUnavailable
	}
	if state == "" || code == "" {
		return LoginResult{}, domainError(http.StatusBadRequest, "INVALID_CALLBACK", "Missing state or code", nil)
	}
	pending, err := s.sessions.TakeLoginState(ctx, state)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return LoginResult{}, domainError(http.StatusBadRequest, "INVALID_STATE", "Sign in expired, please try again", nil)
		}
		return LoginResult{}, err
	}
	identity, err := s.twitter.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		s.log.WithError(err).Warn("auth: code exchange failed")
		return LoginResult{}, domainError(http.StatusBadGateway, "OAUTH_FAILED", "Could not complete sign in", nil)
	}

	sessionID := "ses_" + uuid.NewString()
	role := string(rbac.RoleMember)
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.SessionSecret), identity, role, sessionID, s.cfg.SessionTTL)
	if err != nil {
		return LoginResult{}, err
	}
	err = s.sessions.SaveSession(ctx, sessionID, session.Record{
		Subject:   identity.Key(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}, expiresAt)
	if err != nil {
		return LoginResult{}, err
	}
	s.log.WithFields(logrus.Fields{"provider": identity.Provider, "username": identity.Username}).Info("auth: signed in")

	returnTo := pending.ReturnTo
	if returnTo == "" {
		returnTo = defaultReturnTo
	}
	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Redirect:  strings.TrimRight(s.cfg.PublicURL, "/") + returnTo,
		Identity:  identity,
	}, nil
}

// safeReturnTo keeps only same-site paths.
func safeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return defaultReturnTo
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return defaultReturnTo
	}
	return raw
}

// DialogView is the claim dialog state for the caller plus the query
// string the page should switch to.
type DialogView struct {
	popup.State
	Query string `json:"query"`
}

// Dialog runs the popup rules for a page load with query q.
func (s *Service) Dialog(ctx context.Context, caller *Session, q url.Values) (DialogView, error) {
	c := popup.New(s.cfg.MaxSpots, nil)
	me := s.Me(ctx, caller)
	c.SetJoined(me != nil)
	c.SyncQuery(q)

	entries, err := s.registry.GetAllEntries(ctx)
	if err != nil {
		return DialogView{}, err
	}
	claimed := make(map[int]bool, len(entries))
	for _, e := range entries {
		claimed[e.ProfileID] = true
	}
	c.AutoOpen(popup.Env{
		Authenticated: caller != nil,
		StatusChecked: true,
		GlobeVisible:  true,
		EntriesLoaded: len(entries) > 0,
		Claimed:       func(slot int) bool { return claimed[slot] },
	})

	return DialogView{State: c.State(), Query: c.Query().Encode()}, nil
}
