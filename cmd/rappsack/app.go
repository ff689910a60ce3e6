package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rappen/RappSack/internal/expressions"
	"github.com/rappen/RappSack/internal/handlers"
	"github.com/rappen/RappSack/internal/identity"
	"github.com/rappen/RappSack/internal/logging"
	"github.com/rappen/RappSack/internal/secrets"
	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/internal/streaming"
	"github.com/rappen/RappSack/internal/telemetry"
	"github.com/rappen/RappSack/internal/validation"
	"github.com/rappen/RappSack/pkg/plugin"
)

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.LibSQLStore
	hub        *streaming.MemoryHub
	vault      *secrets.AESVault
	tokens     *identity.TokenCache // nil without credentials
	registry   *plugin.Registry
	conditions *expressions.Conditions
	decoder    *validation.ContextValidator
	metrics    *telemetry.Metrics
	runner     *plugin.Runner
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	))
}

// newApp opens the store and wires the runner. Callers must Close it.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	if a.vault, err = newVault(st, cfg); err != nil {
		a.Close()
		return nil, err
	}

	if a.conditions, err = expressions.NewConditions(); err != nil {
		a.Close()
		return nil, fmt.Errorf("condition engines: %w", err)
	}
	if a.decoder, err = validation.NewContextValidator(); err != nil {
		a.Close()
		return nil, fmt.Errorf("context validator: %w", err)
	}

	if a.registry, err = newRegistry(cfg); err != nil {
		a.Close()
		return nil, err
	}

	a.metrics = telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: cfg.Metrics, GoCollectors: true})

	deps := plugin.RunnerDeps{
		// Stored variables win over the process environment.
		Variables:  identity.VariableChain{a.vault, identity.ProcessEnv{Prefix: "RAPPSACK_VAR_"}},
		Conditions: a.conditions,
		Journal:    streaming.PublishingJournal{Next: st, Hub: a.hub},
		Metrics:    a.metrics,
		Logger:     logger,
		TraceLevel: cfg.traceLevel(),
	}
	if cfg.hasCredentials() {
		httpClient := &http.Client{Timeout: 30 * time.Second}
		creds := &identity.ClientCredentials{
			TenantID:      cfg.TenantID,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			AuthorityHost: cfg.AuthorityHost,
			HTTPClient:    httpClient,
		}
		var opts []identity.CacheOption
		if cfg.TokenTTL > 0 {
			opts = append(opts, identity.WithTTL(cfg.TokenTTL))
		}
		a.tokens = identity.NewTokenCache(creds, opts...)
		deps.Services = identity.NewClientFactory(cfg.EnvironmentURL, a.tokens, httpClient)
	}
	a.runner = plugin.NewRunner(deps)
	return a, nil
}

// newRegistry registers the built-in plugins and applies the needs file.
func newRegistry(cfg Config) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := handlers.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if cfg.NeedsFile == "" {
		return reg, nil
	}
	overrides, err := plugin.LoadNeedsOverrides(cfg.NeedsFile)
	if err != nil {
		return nil, err
	}
	if err := reg.ApplyOverrides(overrides).ToError(); err != nil {
		return nil, err
	}
	return reg, nil
}

func newVault(st secrets.VariableStore, cfg Config) (*secrets.AESVault, error) {
	vc, err := cfg.vaultConfig()
	if err != nil {
		return nil, err
	}
	v, err := secrets.NewAESVault(st, vc)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	return v, nil
}

// Close releases the store.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
}
