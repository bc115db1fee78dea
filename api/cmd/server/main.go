package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"leafscan/api/internal/app"
	"leafscan/api/internal/auth"
	"leafscan/api/internal/config"
	"leafscan/api/internal/handle"
	"leafscan/api/internal/httpserver"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("config")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("startup")
	}
	defer func() { _ = a.Close() }()

	var history handle.HistoryLister
	if a.History != nil {
		history = a.History
	}
	h := handle.New(a.Composer, history, handle.Options{
		CookieName:      cfg.Quota.CookieName,
		CookieMaxAge:    cfg.Quota.CookieMaxAge,
		MaxImageBytes:   cfg.Upload.MaxImageBytes,
		MaxRequestBytes: cfg.Upload.MaxRequestBytes,
		RequestTimeout:  cfg.Server.RequestTimeout,
	})
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	if verifier == nil {
		logging.Warn().Msg("SUPABASE_JWT_SECRET not set; all requests are anonymous")
	}

	router := httpserver.NewRouter(h, verifier, httpserver.RouterConfig{
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitReqs:     cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		RateLimitDisabled: cfg.Security.RateLimitDisabled,
	})
	srv := httpserver.NewServer(cfg.Server.Addr(), router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	tree := supervisor.NewTree("leafscan", supervisor.DefaultTreeConfig())
	if a.Sink != nil {
		tree.AddDataService(a.Sink)
	}
	tree.AddAPIService(httpserver.NewService(srv, "http-server", 0))

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("identification", cfg.Providers.Identification).
		Str("health", cfg.Providers.Health).
		Int("daily_limit", cfg.Quota.DailyLimit).
		Msg("leafscan starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("leafscan stopped")
}
