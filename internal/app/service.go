package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/config"
	"waitlist/api/internal/globe"
	"waitlist/api/internal/metrics"
	"waitlist/api/internal/rbac"
	"waitlist/api/internal/registry"
	"waitlist/api/internal/session"
	"waitlist/api/internal/store"
)

// Session is an authenticated caller resolved from a session token.
type Session struct {
	ID        string
	Identity  auth.Identity
	Role      rbac.Role
	ExpiresAt time.Time
}

type oauthProvider interface {
	NewVerifier() string
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (auth.Identity, error)
}

// Deps are the collaborators a Service is built from. Twitter, Textures and
// Metrics may be nil.
type Deps struct {
	Backend  store.Backend
	Registry *registry.Registry
	Sessions session.Store
	Twitter  oauthProvider
	Textures globe.TextureSource
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
}

type Service struct {
	cfg      config.Config
	backend  store.Backend
	registry *registry.Registry
	sessions session.Store
	twitter  oauthProvider
	textures globe.TextureSource
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	limiter  *claimLimiter
	globe    globe.Options
}

func New(cfg config.Config, deps Deps) *Service {
	if cfg.MaxSpots <= 0 {
		cfg.MaxSpots = config.DefaultMaxSpots
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Duration(max(cfg.SessionTTLHour, 1)) * time.Hour
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	textures := deps.Textures
	if textures == nil {
		textures = globe.NewTextures(cfg.AvatarBaseURL, &http.Client{}, cfg.AvatarTimeout())
	}
	return &Service{
		cfg:      cfg,
		backend:  deps.Backend,
		registry: deps.Registry,
		sessions: deps.Sessions,
		twitter:  deps.Twitter,
		textures: textures,
		metrics:  deps.Metrics,
		log:      log,
		limiter:  newClaimLimiter(cfg.ClaimRatePerMinute),
		globe:    globe.DefaultOptions(cfg.MaxSpots).WithTuning(cfg.Globe),
	}
}

func (s *Service) MaxSpots() int { return s.cfg.MaxSpots }

// SessionFromToken validates the token and checks that its session has not
// been revoked.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.LookupSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if record.Subject != claims.Subject {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		ID:        claims.ID,
		Identity:  claims.Identity,
		Role:      rbac.Normalize(record.Role),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, caller Session) error {
	if caller.ID == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, caller.ID)
}

// Me returns the caller's claim, or nil. Lookup failures read as "no claim".
func (s *Service) Me(ctx context.Context, caller *Session) *store.Entry {
	if caller == nil {
		return nil
	}
	key := caller.Identity.Key()
	if key == "" {
		return nil
	}
	entry, err := s.backend.FindByIdentity(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.WithError(err).Warn("waitlist: identity lookup failed")
		}
		return nil
	}
	public := entry.Public()
	return &public
}

// WalletExists reports whether address is bound to any claim. Lookup
// failures read as "not bound".
func (s *Service) WalletExists(ctx context.Context, address string) (bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return false, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Address parameter is required", nil)
	}
	_, err := s.backend.FindByWallet(ctx, address)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		s.log.WithError(err).Warn("waitlist: wallet lookup failed")
		return false, nil
	}
}

type ProfileInput struct {
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	Email         string `json:"email"`
}

func (s *Service) SaveProfile(ctx context.Context, caller *Session, input ProfileInput) (store.Profile, error) {
	if caller == nil {
		return store.Profile{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if strings.TrimSpace(input.WalletAddress) == "" || strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Username) == "" {
		return store.Profile{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Missing required fields", nil)
	}
	profile, err := s.backend.InsertProfile(ctx, store.NewProfile{
		Username:      strings.TrimSpace(input.Username),
		WalletAddress: strings.TrimSpace(input.WalletAddress),
		Name:          strings.TrimSpace(input.Name),
		Image:         input.Image,
		Email:         strings.TrimSpace(input.Email),
		UserID:        caller.Identity.Key(),
	})
	if err != nil {
		s.log.WithError(err).Error("waitlist: insert profile failed")
		return store.Profile{}, domainError(http.StatusInternalServerError, "INSERT_FAILED", "Failed to save profile", err.Error())
	}
	return profile, nil
}

// EntriesView is the public listing used to seed the globe.
type EntriesView struct {
	Entries  []store.Entry `json:"entries"`
	Total    int           `json:"total"`
	MaxSpots int           `json:"max_spots"`
}

func (s *Service) Entries(ctx context.Context) (EntriesView, error) {
	entries, err := s.registry.GetAllEntries(ctx)
	if err != nil {
		return EntriesView{}, err
	}
	view := EntriesView{Entries: make([]store.Entry, 0, len(entries)), MaxSpots: s.cfg.MaxSpots}
	for _, e := range entries {
		view.Entries = append(view.Entries, e.Public())
	}
	view.Total = len(view.Entries)
	return view, nil
}

func (s *Service) Layout(device globe.Device) globe.LayoutView {
	return globe.Layout(s.globe, device)
}

// AvatarTexture renders the texture shown on a claimed slot. placeholder is
// true when the avatar could not be loaded.
func (s *Service) AvatarTexture(ctx context.Context, slot int) (img *image.RGBA, placeholder bool, err error) {
	if slot < 1 || slot > s.cfg.MaxSpots {
		return nil, false, domainError(http.StatusNotFound, "NOT_FOUND", "Spot not found", nil)
	}
	entry, err := s.registry.GetEntryBySlot(ctx, slot)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, domainError(http.StatusNotFound, "NOT_FOUND", "Spot not claimed", nil)
	}
	img, loadErr := s.textures.Texture(ctx, slot, s.slotColor(slot), entry.Name, entry.Avatar)
	if img == nil {
		return nil, false, loadErr
	}
	if loadErr != nil {
		s.log.WithFields(logrus.Fields{"slot": slot, "error": loadErr.Error()}).Debug("waitlist: avatar placeholder served")
	}
	return img, loadErr != nil, nil
}

func (s *Service) slotColor(slot int) color.RGBA {
	colors := s.globe.Colors
	if len(colors) == 0 {
		colors = globe.DefaultColors
	}
	c, err := globe.ParseHexColor(colors[slot%len(colors)])
	if err != nil {
		return color.RGBA{R: 0xDE, G: 0x66, B: 0x35, A: 0xff}
	}
	return c
}

// RemoveEntry is the admin removal; it goes through the registry so an
// unreachable backend still clears the local copy.
func (s *Service) RemoveEntry(ctx context.Context, walletAddress string) error {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Wallet address is required", nil)
	}
	removed, err := s.registry.RemoveEntry(ctx, walletAddress)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "No entry for this wallet address", nil)
	}
	s.log.WithField("wallet_address", walletAddress).Info("waitlist: entry removed by admin")
	return nil
}

func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.registry.ClearAll(ctx); err != nil {
		return err
	}
	s.log.Warn("waitlist: all entries cleared by admin")
	return nil
}

// IsAdmin accepts either a valid admin key or an admin session.
func (s *Service) IsAdmin(key string, caller *Session) bool {
	if auth.CheckAdminKey(s.cfg.AdminKeyHash, key) {
		return true
	}
	return caller != nil && rbac.Can(caller.Role, rbac.ActionAdmin)
}

type ReadyReport struct {
	Ready        bool
	RegistryMode string
	Checks       map[string]any
}

func (s *Service) Ready(ctx context.Context) ReadyReport {
	report := ReadyReport{Ready: true, Checks: map[string]any{}}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			report.Ready = false
			report.Checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		report.Checks[name] = map[string]any{"status": "ok"}
	}
	check("backend", s.backend.Ping)
	check("sessions", s.sessions.Ping)
	report.RegistryMode = s.registry.Mode()
	return report
}
