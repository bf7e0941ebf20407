// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/cloud"
	"github.com/jeranaias/glossa/internal/config"
	"github.com/jeranaias/glossa/internal/engine"
	"github.com/jeranaias/glossa/internal/fallback"
	"github.com/jeranaias/glossa/internal/logging"
	"github.com/jeranaias/glossa/internal/notify"
	"github.com/jeranaias/glossa/internal/ollama"
	"github.com/jeranaias/glossa/internal/persist"
	"github.com/jeranaias/glossa/internal/storage"
)

// =============================================================================
// WIRING
// =============================================================================

// app is the set of components a command runs against.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
	store     storage.Store
	engine    *engine.Engine
}

// newApp wires storage, the backend and the engine from cfg. withEngine is
// false for commands that only read storage.
func newApp(ctx context.Context, cfg *config.Config, verbose, withEngine bool) (*app, error) {
	logger, logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    verbose,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	a.store, err = storage.Open(ctx, storageOptions(cfg, logger))
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	if withEngine {
		b, err := newBackend(cfg, logger)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.engine = engine.New(engine.Deps{
			Backend: b,
			Store:   a.store,
			Hub:     notify.NewHub(logger),
			Policy:  newPolicy(cfg),
			Logger:  logger,
		}, engineConfig(cfg))
	}

	logger.Debug().
		Str("provider", cfg.Backend.Provider).
		Str("driver", cfg.Persistence.Driver).
		Msg("glossa started")
	return a, nil
}

// Close flushes pending saves and releases every resource.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, storage.Close(a.store))
	}
	errs = append(errs, a.logCloser.Close())
	return errors.Join(errs...)
}

func storageOptions(cfg *config.Config, logger zerolog.Logger) storage.Options {
	p := cfg.Persistence
	return storage.Options{
		Driver:           p.Driver,
		Dir:              p.Dir,
		DSN:              p.DSN,
		RedisAddr:        p.RedisAddr,
		LastKnownGoodTTL: p.LastKnownGoodTTL.Duration,
		Logger:           logger,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	p := cfg.Persistence
	return engine.Config{
		StreamTimeout: cfg.Stream.Timeout.Duration,
		FlushDeadline: p.FlushDeadline.Duration,
		Persist: persist.Config{
			Debounce:      p.Debounce.Duration,
			MaxWait:       p.MaxWait.Duration,
			MaxRetryDelay: p.MaxRetryDelay.Duration,
		},
	}
}

func newPolicy(cfg *config.Config) *fallback.Policy {
	overrides := make(map[fallback.Category]string, len(cfg.Fallback.Texts))
	for category, text := range cfg.Fallback.Texts {
		overrides[fallback.Category(category)] = text
	}
	return fallback.New(overrides)
}

// newBackend builds the configured backend behind the rate limiter.
func newBackend(cfg *config.Config, logger zerolog.Logger) (backend.Backend, error) {
	bc := cfg.Backend

	var b backend.Backend
	switch bc.Provider {
	case "openrouter":
		opts := []cloud.Option{
			cloud.WithMaxRetries(bc.MaxRetries),
			cloud.WithLogger(logger),
		}
		if bc.BaseURL != "" {
			opts = append(opts, cloud.WithBaseURL(bc.BaseURL))
		}
		if bc.Model != "" {
			opts = append(opts, cloud.WithModel(bc.Model))
		}
		client := cloud.New(bc.APIKey, opts...)
		if !client.IsConfigured() {
			logger.Warn().Msg("no OpenRouter API key configured, requests will fail until one is set")
		}
		b = client
	case "ollama":
		oc := ollama.DefaultConfig()
		if bc.BaseURL != "" {
			oc.BaseURL = bc.BaseURL
		}
		if bc.Model != "" {
			oc.Model = bc.Model
		}
		b = ollama.NewClientWithConfig(oc, logger)
	case "scripted":
		b = &backend.Scripted{Respond: backend.OfflineScript}
	default:
		return nil, &backend.ConfigError{Reason: fmt.Sprintf("unknown provider %q", bc.Provider)}
	}
	return backend.RateLimited(b, bc.RateLimit, bc.Burst), nil
}
