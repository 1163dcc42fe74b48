package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"waitlist/api/internal/auth"
	"waitlist/api/internal/globe"
	"waitlist/api/internal/metrics"
	"waitlist/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
}

func NewHTTPServer(service *Service, corsOrigin string, log logrus.FieldLogger, m *metrics.Metrics) *HTTPServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log, metrics: m}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/api/auth/twitter/login", s.handleLogin)
	r.Get("/api/auth/twitter/callback", s.handleCallback)
	r.Get("/api/session", s.handleSession)
	r.Post("/api/session/logout", s.handleLogout)

	r.Post("/api/waitlist", s.handleClaim)
	r.Get("/api/waitlist", s.handleEntries)
	r.Get("/api/waitlist/me", s.handleMe)
	r.Get("/api/waitlist/check-wallet", s.handleCheckWallet)
	r.Get("/api/waitlist/dialog", s.handleDialog)
	r.Post("/api/profile/save", s.handleSaveProfile)

	r.Get("/api/globe/layout", s.handleLayout)
	r.Get("/api/globe/avatars/{slot}.png", s.handleAvatar)

	r.Route("/api/admin/waitlist", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Delete("/", s.handleClearAll)
		r.Delete("/{wallet}", s.handleRemoveEntry)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := s.service.Ready(ctx)
	status, statusCode := "ready", http.StatusOK
	body := map[string]any{
		"checks":        report.Checks,
		"registry_mode": report.RegistryMode,
	}
	if !report.Ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
		body["code"] = "NOT_READY"
	}
	body["ok"] = report.Ready
	body["status"] = status
	writeJSON(w, statusCode, body)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	target, err := s.service.BeginLogin(r.Context(), r.URL.Query().Get("return_to"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "OAUTH_DENIED", "Sign in was cancelled", denied)
		return
	}
	result, err := s.service.CompleteLogin(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, result.Token, result.ExpiresAt, s.secureCookies())
	http.Redirect(w, r, result.Redirect, http.StatusFound)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	caller := s.optionalSession(r)
	if caller == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return
	}
	entry := s.service.Me(r.Context(), caller)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": map[string]any{
			"name":     caller.Identity.Name,
			"username": caller.Identity.Username,
			"email":    caller.Identity.Email,
			"image":    caller.Identity.Image,
			"role":     caller.Role,
		},
		"joined":     entry != nil,
		"expires_at": caller.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if caller := s.optionalSession(r); caller != nil {
		if err := s.service.Logout(r.Context(), *caller); err != nil {
			s.log.WithError(err).Warn("auth: revoke session failed")
		}
	}
	auth.ClearSessionCookie(w, s.secureCookies())
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller := s.optionalSession(r)
	if caller == nil {
		s.writeServiceError(w, r, errUnauthorized)
		return
	}
	var body ClaimInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.Claim(r.Context(), caller, body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleEntries(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Entries(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	var entry *store.Entry
	if caller := s.optionalSession(r); caller != nil {
		entry = s.service.Me(r.Context(), caller)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (s *HTTPServer) handleCheckWallet(w http.ResponseWriter, r *http.Request) {
	exists, err := s.service.WalletExists(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": exists})
}

func (s *HTTPServer) handleDialog(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Dialog(r.Context(), s.optionalSession(r), r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	caller := s.optionalSession(r)
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var body ProfileInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	profile, err := s.service.SaveProfile(r.Context(), caller, body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": profile})
}

func (s *HTTPServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	device := globe.ParseDevice(q.Get("device"))
	if q.Get("device") == "" {
		if width, err := strconv.ParseFloat(q.Get("width"), 64); err == nil && width > 0 {
			device = globe.DeviceForWidth(width)
		}
	}
	writeJSON(w, http.StatusOK, s.service.Layout(device))
}

func (s *HTTPServer) handleAvatar(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Spot not found", nil)
		return
	}
	img, placeholder, err := s.service.AvatarTexture(r.Context(), slot)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.writeServiceError(w, r, fmt.Errorf("encode avatar: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if placeholder {
		w.Header().Set("X-Avatar-Placeholder", "true")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=300")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveEntry(r.Context(), chi.URLParam(r, "wallet")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearAll(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.service.IsAdmin(r.Header.Get(auth.AdminKeyHeader), s.optionalSession(r)) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// optionalSession resolves the caller, or nil when there is no valid session.
func (s *HTTPServer) optionalSession(r *http.Request) *Session {
	token := auth.TokenFromRequest(r)
	if token == "" {
		return nil
	}
	caller, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) {
			s.log.WithError(err).Warn("auth: session lookup failed")
		}
		return nil
	}
	return &caller
}

func (s *HTTPServer) secureCookies() bool {
	return strings.HasPrefix(s.service.cfg.PublicURL, "https://")
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"code":       code,
			"error":      err.Error(),
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.metrics.ObserveHTTP(r.Method, route, writer.status, elapsed)
		s.log.WithFields(logrus.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": elapsed.Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Admin-Key")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "INTERNAL", "Internal server error", nil
}
