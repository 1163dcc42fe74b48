package app

import (
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/config"
	"waitlist/api/internal/popup"
	"waitlist/api/internal/store"
)

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeJSON(t, rec)["status"]; got != "ok" {
		t.Fatalf("status field = %v", got)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestPreflightAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(http.MethodOptions, "/api/waitlist", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("OPTIONS status = %d", rec.Code)
	}
	assertError(t, env.do(http.MethodGet, "/api/nope", "", nil), http.StatusNotFound, "NOT_FOUND", "")
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON(t, rec)["status"]; got != "ready" {
		t.Fatalf("ready status field = %v", got)
	}

	env.backend.pingErr = errors.New("connection refused")
	rec = env.do(http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not ready status = %d", rec.Code)
	}
	payload := decodeJSON(t, rec)
	if payload["code"] != "NOT_READY" || payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/session", "", nil))["authenticated"]; got != false {
		t.Fatalf("anonymous authenticated = %v", got)
	}
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/session", "not-a-token", nil))["authenticated"]; got != false {
		t.Fatalf("garbage token authenticated = %v", got)
	}

	token := env.signIn(identity("a@x.io"), "member")
	payload := decodeJSON(t, env.do(http.MethodGet, "/api/session", token, nil))
	if payload["authenticated"] != true || payload["joined"] != false {
		t.Fatalf("unexpected session payload: %+v", payload)
	}
	user := payload["user"].(map[string]any)
	if user["email"] != "a@x.io" || user["role"] != "member" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(identity("a@x.io"), "member")

	rec := env.do(http.MethodPost, "/api/session/logout", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rec.Code)
	}
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("logout did not clear the session cookie")
	}
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/session", token, nil))["authenticated"]; got != false {
		t.Fatalf("revoked token authenticated = %v", got)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Twitter = &fakeOAuth{identity: identity("c@x.io")}
	})

	rec := env.do(http.MethodGet, "/api/auth/twitter/login?return_to="+url.QueryEscape("/waitlist?join=true&spot=4"), "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d body %s", rec.Code, rec.Body.String())
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" || location.Host != "x.test" {
		t.Fatalf("unexpected redirect %s", location)
	}

	rec = env.do(http.MethodGet, "/api/auth/twitter/callback?state="+state+"&code=good-code", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "http://localhost:3000/waitlist?join=true&spot=4" {
		t.Fatalf("callback Location = %q", got)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	sessionRec := httptest.NewRecorder()
	env.handler.ServeHTTP(sessionRec, req)
	if got := decodeJSON(t, sessionRec)["authenticated"]; got != true {
		t.Fatalf("cookie session authenticated = %v", got)
	}

	replay := env.do(http.MethodGet, "/api/auth/twitter/callback?state="+state+"&code=good-code", "", nil)
	assertError(t, replay, http.StatusBadRequest, "INVALID_STATE", "")
}

func TestLoginRejectsOffsiteReturnAndBadCode(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Twitter = &fakeOAuth{identity: identity("c@x.io")}
	})
	rec := env.do(http.MethodGet, "/api/auth/twitter/login?return_to="+url.QueryEscape("//evil.test/x"), "", nil)
	location, _ := url.Parse(rec.Header().Get("Location"))
	state := location.Query().Get("state")

	pending, err := env.sessions.TakeLoginState(context.Background(), state)
	if err != nil {
		t.Fatalf("TakeLoginState() error = %v", err)
	}
	if pending.ReturnTo != defaultReturnTo {
		t.Fatalf("ReturnTo = %q, want %q", pending.ReturnTo, defaultReturnTo)
	}

	rec = env.do(http.MethodGet, "/api/auth/twitter/login", "", nil)
	location, _ = url.Parse(rec.Header().Get("Location"))
	rec = env.do(http.MethodGet, "/api/auth/twitter/callback?state="+location.Query().Get("state")+"&code=bad", "", nil)
	assertError(t, rec, http.StatusBadGateway, "OAUTH_FAILED", "")
}

func TestLoginUnavailableWithoutProvider(t *testing.T) {
	env := newTestEnv(t)
	assertError(t, env.do(http.MethodGet, "/api/auth/twitter/login", "", nil), http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "")
}

func TestEntriesAndMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(identity("a@x.io"), "member")

	if got := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/me", token, nil))["entry"]; got != nil {
		t.Fatalf("entry before claim = %v", got)
	}
	env.do(http.MethodPost, "/api/waitlist", token, claimBody(walletA, 5))

	me := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/me", token, nil))["entry"].(map[string]any)
	if me["profile_id"] != float64(5) {
		t.Fatalf("me = %+v", me)
	}
	if _, leaked := me["user_id"]; leaked {
		t.Fatalf("me leaked user_id: %+v", me)
	}

	list := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist", "", nil))
	if list["total"] != float64(1) || list["max_spots"] != float64(10) {
		t.Fatalf("list = %+v", list)
	}
	entries := list["entries"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["avatar_type"] != store.AvatarTypeSeed {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestCheckWallet(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(identity("a@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", token, claimBody(walletA, 5))

	assertError(t, env.do(http.MethodGet, "/api/waitlist/check-wallet", "", nil), http.StatusBadRequest, "VALIDATION_ERROR", "Address parameter is required")
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/check-wallet?address="+walletA, "", nil))["exists"]; got != true {
		t.Fatalf("exists for claimed wallet = %v", got)
	}
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/check-wallet?address="+walletB, "", nil))["exists"]; got != false {
		t.Fatalf("exists for free wallet = %v", got)
	}
	env.backend.walletErr = errors.New("timeout")
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/check-wallet?address="+walletA, "", nil))["exists"]; got != false {
		t.Fatalf("exists on lookup failure = %v", got)
	}
}

func TestSaveProfile(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"username": "avery", "walletAddress": walletA, "name": "Avery"}

	assertError(t, env.do(http.MethodPost, "/api/profile/save", "", body), http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")

	token := env.signIn(identity("a@x.io"), "member")
	assertError(t, env.do(http.MethodPost, "/api/profile/save", token, map[string]any{"username": "avery"}), http.StatusBadRequest, "VALIDATION_ERROR", "Missing required fields")

	rec := env.do(http.MethodPost, "/api/profile/save", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	payload := decodeJSON(t, rec)
	data := payload["data"].(map[string]any)
	if payload["success"] != true || data["user_id"] != "a@x.io" {
		t.Fatalf("payload = %+v", payload)
	}

	env.backend.insertErr = errors.New("disk full")
	assertError(t, env.do(http.MethodPost, "/api/profile/save", token, body), http.StatusInternalServerError, "INSERT_FAILED", "Failed to save profile")
}

func TestDialog(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signIn(identity("a@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", owner, claimBody(walletA, 1))

	visitor := env.signIn(identity("b@x.io"), "member")
	payload := decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/dialog", visitor, nil))
	if payload["open"] != true || payload["selected_slot"] != float64(2) || payload["query"] != "join=true&spot=2" {
		t.Fatalf("auto open = %+v", payload)
	}

	payload = decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/dialog?join=true&spot=7", visitor, nil))
	if payload["open"] != true || payload["selected_slot"] != float64(7) {
		t.Fatalf("deep link = %+v", payload)
	}

	payload = decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/dialog?join=true&spot=7", owner, nil))
	if payload["open"] != false || payload["error"] != popup.MsgAlreadyJoinedAccount || payload["query"] != "" {
		t.Fatalf("joined caller = %+v", payload)
	}

	payload = decodeJSON(t, env.do(http.MethodGet, "/api/waitlist/dialog", "", nil))
	if payload["open"] != false {
		t.Fatalf("anonymous = %+v", payload)
	}
}

func TestGlobeLayout(t *testing.T) {
	env := newTestEnv(t)
	payload := decodeJSON(t, env.do(http.MethodGet, "/api/globe/layout?device=mobile", "", nil))
	if payload["device"] != "mobile" || payload["total"] != float64(10) {
		t.Fatalf("layout = %+v", payload)
	}
	if slots := payload["slots"].([]any); len(slots) != 10 {
		t.Fatalf("slots = %d, want 10", len(slots))
	}
	if got := decodeJSON(t, env.do(http.MethodGet, "/api/globe/layout?width=1280", "", nil))["device"]; got != "desktop" {
		t.Fatalf("width device = %v", got)
	}
}

func TestAvatarTexture(t *testing.T) {
	env := newTestEnv(t)
	assertError(t, env.do(http.MethodGet, "/api/globe/avatars/3.png", "", nil), http.StatusNotFound, "NOT_FOUND", "Spot not claimed")
	assertError(t, env.do(http.MethodGet, "/api/globe/avatars/99.png", "", nil), http.StatusNotFound, "NOT_FOUND", "Spot not found")

	token := env.signIn(identity("a@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", token, claimBody(walletA, 3))

	rec := env.do(http.MethodGet, "/api/globe/avatars/3.png", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status = %d content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	want := env.service.slotColor(3)
	r, g, b, _ := img.At(4, 4).RGBA()
	if uint8(r>>8) != want.R || uint8(g>>8) != want.G || uint8(b>>8) != want.B {
		t.Fatalf("pixel = %d,%d,%d want %+v", r>>8, g>>8, b>>8, want)
	}
	if rec.Header().Get("X-Avatar-Placeholder") != "" {
		t.Fatal("loaded avatar marked as placeholder")
	}
}

func TestAvatarPlaceholderHeader(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, deps *Deps) {
		deps.Textures = solidTextures{fail: errors.New("avatar service down")}
	})
	token := env.signIn(identity("a@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", token, claimBody(walletA, 3))

	rec := env.do(http.MethodGet, "/api/globe/avatars/3.png", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Avatar-Placeholder") != "true" {
		t.Fatalf("status = %d placeholder header %q", rec.Code, rec.Header().Get("X-Avatar-Placeholder"))
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	member := env.signIn(identity("a@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", member, claimBody(walletA, 1))
	other := env.signIn(identity("b@x.io"), "member")
	env.do(http.MethodPost, "/api/waitlist", other, claimBody(walletB, 2))

	assertError(t, env.do(http.MethodDelete, "/api/admin/waitlist/"+walletA, member, nil), http.StatusForbidden, "FORBIDDEN", "")

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/waitlist/"+walletA, nil)
	req.Header.Set(auth.AdminKeyHeader, "wrong")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assertError(t, rec, http.StatusForbidden, "FORBIDDEN", "")

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/waitlist/"+walletA, nil)
	req.Header.Set(auth.AdminKeyHeader, testAdminKey)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d body %s", rec.Code, rec.Body.String())
	}
	if _, err := env.backend.FindByWallet(context.Background(), walletA); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("entry still present: %v", err)
	}

	admin := env.signIn(identity("ops@x.io"), "admin")
	assertError(t, env.do(http.MethodDelete, "/api/admin/waitlist/"+walletA, admin, nil), http.StatusNotFound, "NOT_FOUND", "")

	if rec := env.do(http.MethodDelete, "/api/admin/waitlist", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d body %s", rec.Code, rec.Body.String())
	}
	if n, _ := env.backend.CountEntries(context.Background()); n != 0 {
		t.Fatalf("entries after clear = %d", n)
	}
}

func TestListingFallsBackWhenBackendIsDown(t *testing.T) {
	env := newTestEnv(t)
	ready := decodeJSON(t, env.do(http.MethodGet, "/api/ready", "", nil))
	if ready["registry_mode"] != "remote" {
		t.Fatalf("registry_mode = %v", ready["registry_mode"])
	}

	env.backend.listErr = errors.New("connection refused")
	rec := env.do(http.MethodGet, "/api/waitlist", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback list status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON(t, rec)["total"]; got != float64(0) {
		t.Fatalf("fallback total = %v", got)
	}
	ready = decodeJSON(t, env.do(http.MethodGet, "/api/ready", "", nil))
	if ready["registry_mode"] != "local" {
		t.Fatalf("registry_mode after fallback = %v", ready["registry_mode"])
	}
}
