// Package app assembles the identification pipeline from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"leafscan/api/internal/catalog"
	"leafscan/api/internal/compose"
	"leafscan/api/internal/config"
	"leafscan/api/internal/logging"
	"leafscan/api/internal/provider"
	"leafscan/api/internal/provider/gemini"
	"leafscan/api/internal/provider/plantid"
	"leafscan/api/internal/provider/plantnet"
	"leafscan/api/internal/provider/types"
	"leafscan/api/internal/quota"
	"leafscan/api/internal/store"
)

type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Registry *provider.Registry
	Tracker  *quota.Tracker
	Composer *compose.Composer

	// DB, History and Sink are nil when no database is configured.
	DB      *sql.DB
	History *store.HistoryRepo
	Sink    *store.AsyncSink
}

// Build wires everything but starts nothing. Run Sink.Serve (usually under
// the supervisor) to persist history.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logging.Info().Int("entries", cat.Len()).Str("path", cfg.Catalog.Path).Msg("catalog loaded")

	a := &App{
		Config:   cfg,
		Catalog:  cat,
		Registry: Registry(cfg, cat),
		Tracker:  quota.NewTracker(cfg.Quota.DailyLimit),
	}

	if dsn := cfg.Database.DSN(); dsn != "" {
		db, err := store.Open(ctx, dsn, cfg.Database.MaxOpenConns, cfg.Database.ConnLifetime)
		if err != nil {
			return nil, err
		}
		repo := store.NewHistoryRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.DB, a.History = db, repo
		a.Sink = store.NewAsyncSink(repo, store.AsyncOptions{
			Workers: cfg.History.Workers,
			Buffer:  cfg.History.Buffer,
			Timeout: cfg.History.Timeout,
		})
		logging.Info().Msg("history persistence enabled")
	} else {
		logging.Warn().Msg("no database configured, history is disabled")
	}

	// a nil *AsyncSink must not become a non-nil Recorder
	var rec compose.Recorder
	if a.Sink != nil {
		rec = a.Sink
	}
	a.Composer = compose.New(a.Registry, a.Tracker, quota.NewCodec(cfg.Quota.Secret), rec, compose.Options{
		MaxImages:     cfg.Upload.MaxImages,
		MaxImageBytes: cfg.Upload.MaxImageBytes,
	})
	return a, nil
}

// Registry registers every adapter behind a circuit breaker. Missing API
// keys are not an error here; the adapter reports them per request.
func Registry(cfg *config.Config, cat types.Catalog) *provider.Registry {
	p := cfg.Providers
	care := types.CareDefaults{Light: cfg.Care.Light, Water: cfg.Care.Water, Soil: cfg.Care.Soil}

	pid := plantid.New(plantid.Config{
		APIKey:  p.PlantID.APIKey,
		BaseURL: p.PlantID.BaseURL,
		Health:  p.Health == plantid.Name,
		Care:    care,
		Catalog: cat,
		Timeout: p.Timeout,
	})
	pnet := plantnet.New(plantnet.Config{
		APIKey:  p.PlantNet.APIKey,
		BaseURL: p.PlantNet.BaseURL,
		Project: p.PlantNet.Project,
		Care:    care,
		Catalog: cat,
		Timeout: p.Timeout,
	})
	gem := gemini.New(gemini.Config{
		APIKey:  p.Gemini.APIKey,
		Model:   p.Gemini.Model,
		Health:  p.Health == gemini.Name,
		Care:    care,
		Catalog: cat,
		Timeout: p.Timeout,
	})

	reg := provider.NewRegistry(p.Identification, p.Health)
	reg.RegisterIdentifier(provider.GuardIdentifier(pid))
	reg.RegisterIdentifier(provider.GuardIdentifier(pnet))
	reg.RegisterIdentifier(provider.GuardIdentifier(gem))
	reg.RegisterDiagnoser(provider.GuardDiagnoser(pid))
	reg.RegisterDiagnoser(provider.GuardDiagnoser(gem))

	for name, key := range map[string]string{
		plantid.Name:  p.PlantID.APIKey,
		plantnet.Name: p.PlantNet.APIKey,
		gemini.Name:   p.Gemini.APIKey,
	} {
		if key == "" {
			logging.Warn().Str("provider", name).Msg("API key not set; requests to this provider will fail")
		}
	}
	return reg
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
