package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leafscan/api/internal/app"
	"leafscan/api/internal/config"
	"leafscan/api/internal/httpserver"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/supervisor"
	"leafscan/api/internal/telegram"
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
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		logging.Fatal().Msg("TELEGRAM_BOT_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("startup")
	}
	defer func() { _ = a.Close() }()

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logging.Fatal().Err(err).Msg("telegram")
	}
	bot.Debug = false

	r := &telegram.Router{
		Bot:           bot,
		Composer:      a.Composer,
		Timeout:       cfg.Server.RequestTimeout,
		RecordHistory: a.Sink != nil,
	}

	mux := chi.NewRouter()
	mux.Use(httpserver.RequestIDWithLogging())
	mux.Use(httpserver.Recoverer)
	mux.Get("/healthz", healthz(a.DB))
	mux.Handle("/metrics", promhttp.Handler())

	tree := supervisor.NewTree("leafscan-bot", supervisor.DefaultTreeConfig())
	if a.Sink != nil {
		tree.AddDataService(a.Sink)
	}

	if base := strings.TrimSpace(cfg.Telegram.WebhookURL); base != "" {
		path := telegram.WebhookPath(bot.Token)
		wh, err := tgbotapi.NewWebhook(strings.TrimRight(base, "/") + path)
		if err != nil {
			logging.Fatal().Err(err).Msg("webhook url")
		}
		wh.DropPendingUpdates = true
		if _, err := bot.Request(wh); err != nil {
			logging.Fatal().Err(err).Msg("set webhook")
		}
		mux.Method(http.MethodPost, path, r.WebhookHandler())
		logging.Info().Str("addr", cfg.Server.Addr()).Msg("webhook mode")
	} else {
		// a leftover webhook makes getUpdates fail with 409
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logging.Warn().Err(err).Msg("delete webhook")
		}
		tree.AddAPIService(&telegram.PollingService{Bot: bot, Router: r})
		logging.Info().Str("addr", cfg.Server.Addr()).Msg("polling mode")
	}

	srv := httpserver.NewServer(cfg.Server.Addr(), mux, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	tree.AddAPIService(httpserver.NewService(srv, "bot-http", 0))

	logging.Info().
		Str("bot", bot.Self.UserName).
		Str("identification", cfg.Providers.Identification).
		Int("daily_limit", cfg.Quota.DailyLimit).
		Msg("leafscan bot starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("leafscan bot stopped")
}

// healthz pings the database when there is one.
func healthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	}
}
