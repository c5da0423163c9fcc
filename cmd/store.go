package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/pantrylab/nutrimatch/internal/progress"
	"github.com/pantrylab/nutrimatch/internal/resilience"
	"github.com/pantrylab/nutrimatch/internal/store"
	"github.com/pantrylab/nutrimatch/pkg/fdc"
)

func initStore(ctx context.Context) (store.Store, error) {
	opts := []store.Option{store.WithCandidateSources(cfg.Store.CandidateSources...)}

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "nutrimatch.db"
		}
		return store.NewSQLite(dsn, opts...)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns}, opts...)
	case "supabase":
		return store.NewSupabase(cfg.Supabase.URL, cfg.Supabase.Key, opts...)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initTracker() (progress.Tracker, error) {
	return progress.Open(progress.Config{
		Driver: cfg.Reconcile.Progress.Driver,
		Path:   cfg.Reconcile.Progress.Path,
	})
}

func initFDCClient() fdc.Client {
	opts := []fdc.Option{
		fdc.WithRetry(resilience.NewRetryConfig(cfg.FDC.Retry.MaxAttempts, cfg.FDC.Retry.InitialBackoff, cfg.FDC.Retry.MaxBackoff)),
		fdc.WithDelay(cfg.FDC.Delay),
	}
	if cfg.FDC.BaseURL != "" {
		opts = append(opts, fdc.WithBaseURL(cfg.FDC.BaseURL))
	}
	return fdc.NewClient(cfg.FDC.APIKey, opts...)
}
