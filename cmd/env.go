package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/audit"
	"github.com/sells-group/deck-audit/internal/config"
	"github.com/sells-group/deck-audit/internal/extract"
	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/internal/store"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates config for the mode, opens the store, and migrates.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newAnthropicClient() anthropic.Client {
	return anthropic.NewClient(cfg.Anthropic.Key)
}

// applyProfile overlays a named extraction profile when one was requested.
func applyProfile(path, name string) error {
	if name == "" {
		return nil
	}
	profiles, err := config.LoadProfiles(path)
	if err != nil {
		return err
	}
	if err := profiles.Apply(cfg, name); err != nil {
		return err
	}
	zap.L().Info("extraction profile applied", zap.String("profile", name))
	return nil
}

// breakers holds one circuit breaker per model, so the extraction and
// audit models fail independently when only one of them is degraded.
var breakers *resilience.ServiceBreakers

func breakerFor(modelID string) *resilience.CircuitBreaker {
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(cfg.CircuitConfig())
	}
	return breakers.Get(modelID)
}

// extractOptions assembles extraction options from config.
func extractOptions() extract.Options {
	return extract.Options{
		Model:         cfg.Anthropic.ExtractModel,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		Concurrency:   cfg.Extract.Concurrency,
		UnitDelay:     time.Duration(cfg.Extract.RequestDelayMs) * time.Millisecond,
		Zoom:          cfg.Raster.Zoom,
		BatchSize:     cfg.Extract.BatchSize,
		MinLikelihood: cfg.Extract.MinLikelihood,
		Disabled:      cfg.Extract.Disabled,
		Retry:         retryConfig("extract"),
		Breaker:       breakerFor(cfg.Anthropic.ExtractModel),
	}
}

// auditOptions assembles audit options from config.
func auditOptions() audit.Options {
	return audit.Options{
		Model:        cfg.Anthropic.AuditModel,
		MaxTokens:    int64(cfg.Anthropic.MaxTokens),
		BatchSize:    cfg.Audit.BatchSize,
		CandidateCap: cfg.Audit.CandidateCap,
		BatchDelay:   time.Duration(cfg.Audit.BatchDelayMs) * time.Millisecond,
		LowFloor:     float64(cfg.Audit.LowFloor),
		MediumFloor:  float64(cfg.Audit.MediumFloor),
		Retry:        retryConfig("audit"),
		Breaker:      breakerFor(cfg.Anthropic.AuditModel),
	}
}

func retryConfig(operation string) resilience.RetryConfig {
	rc := cfg.RetryConfig()
	rc.OnRetry = resilience.RetryLogger("anthropic", operation)
	return rc
}
