package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/config"
	"waitlist/api/internal/logging"
	"waitlist/api/internal/metrics"
	"waitlist/api/internal/registry"
	"waitlist/api/internal/session"
	"waitlist/api/internal/store"
)

const (
	testSecret   = "test-session-secret"
	testAdminKey = "letmein"
	walletA      = "0xde709f2102306220921060314715629080e2fb77"
	walletB      = "0x1111111111111111111111111111111111111111"
)

// memoryBackend is an in-memory store.Backend. The error fields override
// the matching lookups.
type memoryBackend struct {
	mu       sync.Mutex
	entries  []store.Entry
	profiles []store.Profile
	nextID   int

	pingErr     error
	identityErr error
	walletErr   error
	slotErr     error
	insertErr   error
	listErr     error
}

func (m *memoryBackend) find(override error, match func(store.Entry) bool) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if override != nil {
		return store.Entry{}, override
	}
	for _, e := range m.entries {
		if match(e) {
			return e, nil
		}
	}
	return store.Entry{}, store.ErrNotFound
}

func (m *memoryBackend) FindByIdentity(_ context.Context, userID string) (store.Entry, error) {
	return m.find(m.identityErr, func(e store.Entry) bool { return e.UserID == userID })
}

func (m *memoryBackend) FindByWallet(_ context.Context, wallet string) (store.Entry, error) {
	return m.find(m.walletErr, func(e store.Entry) bool { return e.WalletAddress == wallet })
}

func (m *memoryBackend) FindBySlot(_ context.Context, slot int) (store.Entry, error) {
	return m.find(m.slotErr, func(e store.Entry) bool { return e.ProfileID == slot })
}

func (m *memoryBackend) ListEntries(context.Context) ([]store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := append([]store.Entry(nil), m.entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryBackend) CountEntries(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memoryBackend) InsertEntry(_ context.Context, entry store.NewEntry) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return store.Entry{}, m.insertErr
	}
	for _, e := range m.entries {
		switch {
		case e.ProfileID == entry.ProfileID:
			return store.Entry{}, &store.ConflictError{Field: store.FieldSlot}
		case e.WalletAddress == entry.WalletAddress:
			return store.Entry{}, &store.ConflictError{Field: store.FieldWallet}
		case e.UserID == entry.UserID:
			return store.Entry{}, &store.ConflictError{Field: store.FieldIdentity}
		}
	}
	m.nextID++
	created := store.Entry{
		ID:            fmt.Sprintf("entry-%d", m.nextID),
		Name:          entry.Name,
		WalletAddress: entry.WalletAddress,
		Avatar:        entry.Avatar,
		ProfileID:     entry.ProfileID,
		UserID:        entry.UserID,
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, m.nextID, 0, time.UTC),
	}
	m.entries = append(m.entries, created)
	return created, nil
}

func (m *memoryBackend) MoveEntry(_ context.Context, wallet string, entry store.NewEntry) (store.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].WalletAddress == wallet {
			m.entries[i].ProfileID = entry.ProfileID
			m.entries[i].Name = entry.Name
			m.entries[i].Avatar = entry.Avatar
			return m.entries[i], nil
		}
	}
	return store.Entry{}, store.ErrNotFound
}

func (m *memoryBackend) DeleteByWallet(_ context.Context, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.WalletAddress == wallet {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memoryBackend) DeleteAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func (m *memoryBackend) InsertProfile(_ context.Context, p store.NewProfile) (store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return store.Profile{}, m.insertErr
	}
	profile := store.Profile{
		ID:            fmt.Sprintf("profile-%d", len(m.profiles)+1),
		Username:      p.Username,
		WalletAddress: p.WalletAddress,
		Name:          p.Name,
		Image:         optional(p.Image),
		Email:         optional(p.Email),
		UserID:        optional(p.UserID),
	}
	m.profiles = append(m.profiles, profile)
	return profile, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (m *memoryBackend) Ping(context.Context) error { return m.pingErr }

type fakeOAuth struct {
	identity auth.Identity
}

func (f *fakeOAuth) NewVerifier() string { return "verifier-1" }

func (f *fakeOAuth) AuthCodeURL(state, verifier string) string {
	return "https://x.test/authorize?state=" + state + "&challenge=" + verifier
}

func (f *fakeOAuth) Exchange(_ context.Context, code, verifier string) (auth.Identity, error) {
	if code != "good-code" || verifier != "verifier-1" {
		return auth.Identity{}, errors.New("invalid_grant")
	}
	return f.identity, nil
}

// solidTextures renders every avatar as a solid square; fail makes it
// return the placeholder path.
type solidTextures struct {
	fail error
}

func (s solidTextures) Texture(_ context.Context, _ int, fill color.RGBA, _ string, _ store.Avatar) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, 0xff
	}
	return img, s.fail
}

type testEnv struct {
	t        *testing.T
	backend  *memoryBackend
	sessions *session.MemoryStore
	registry *registry.Registry
	service  *Service
	metrics  *metrics.Metrics
	handler  http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	hash, err := auth.HashAdminKey(testAdminKey)
	if err != nil {
		t.Fatalf("HashAdminKey() error = %v", err)
	}
	cfg := config.Config{
		SessionSecret: testSecret,
		SessionTTL:    time.Hour,
		MaxSpots:      10,
		CORSOrigin:    "http://localhost:3000",
		PublicURL:     "http://localhost:3000",
		AdminKeyHash:  hash,
	}
	log := logging.Discard()
	backend := &memoryBackend{}
	sessions := session.NewMemoryStore()
	reg := registry.New(backend, registry.NewMemoryStore(), log)
	m := metrics.New()
	deps := Deps{
		Backend:  backend,
		Registry: reg,
		Sessions: sessions,
		Textures: solidTextures{},
		Metrics:  m,
		Log:      log,
	}
	for _, fn := range mutate {
		fn(&cfg, &deps)
	}
	service := New(cfg, deps)
	return &testEnv{
		t:        t,
		backend:  backend,
		sessions: sessions,
		registry: reg,
		service:  service,
		metrics:  m,
		handler:  NewHTTPServer(service, cfg.CORSOrigin, log, m).Handler(),
	}
}

// signIn stores a live session for identity and returns its bearer token.
func (e *testEnv) signIn(identity auth.Identity, role string) string {
	e.t.Helper()
	id := fmt.Sprintf("ses_%s", strings.NewReplacer("@", "_", ":", "_").Replace(identity.Key()))
	token, expiresAt, err := auth.IssueToken([]byte(testSecret), identity, role, id, time.Hour)
	if err != nil {
		e.t.Fatalf("IssueToken() error = %v", err)
	}
	err = e.sessions.SaveSession(context.Background(), id, session.Record{
		Subject:   identity.Key(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}, expiresAt)
	if err != nil {
		e.t.Fatalf("SaveSession() error = %v", err)
	}
	return token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	payload := decodeJSON(t, rec)
	if payload["code"] != code {
		t.Fatalf("code = %v, want %s", payload["code"], code)
	}
	if message != "" && payload["error"] != message {
		t.Fatalf("error = %v, want %q", payload["error"], message)
	}
}

func identity(email string) auth.Identity {
	return auth.Identity{Provider: "twitter", ProviderUserID: "tw-" + email, Name: "Avery", Username: "avery", Email: email}
}

func claimBody(wallet string, slot int) map[string]any {
	return map[string]any{
		"name":          "Avery",
		"walletAddress": wallet,
		"avatar":        "seed-1",
		"avatarType":    store.AvatarTypeSeed,
		"avatarStyle":   "adventurer",
		"profileId":     slot,
	}
}
