package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"waitlist/api/internal/app"
	"waitlist/api/internal/auth"
	"waitlist/api/internal/config"
	"waitlist/api/internal/globe"
	"waitlist/api/internal/logging"
	"waitlist/api/internal/metrics"
	"waitlist/api/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	backend, closeBackend, err := app.OpenBackend(ctx, cfg, log, true)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeBackend()

	sessions, local, err := app.OpenSessions(cfg, log)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	defer sessions.Close()

	m := metrics.New()
	reg := registry.New(backend, local, log, registry.WithFallbackHook(m.Fallback))

	deps := app.Deps{
		Backend:  backend,
		Registry: reg,
		Sessions: sessions,
		Textures: globe.NewTextures(cfg.AvatarBaseURL, &http.Client{}, cfg.AvatarTimeout()),
		Metrics:  m,
		Log:      log,
	}
	if cfg.TwitterEnabled() {
		deps.Twitter = auth.NewTwitterProvider(auth.OAuthConfig{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			RedirectURL:  cfg.TwitterRedirectURL,
		})
	} else {
		log.Warn("auth: TWITTER_CLIENT_ID/SECRET/REDIRECT_URL not set, sign in disabled")
	}
	if cfg.AdminKeyHash == "" {
		log.Warn("admin: ADMIN_KEY_HASH not set, admin routes need an admin session")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log, m)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "max_spots": cfg.MaxSpots}).Info("waitlist API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
