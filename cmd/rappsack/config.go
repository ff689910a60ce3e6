package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/rappen/RappSack/internal/secrets"
	"github.com/rappen/RappSack/pkg/tracing"
)

// Config holds all rappsack configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr" env:"RAPPSACK_LISTEN_ADDR" validate:"required"`
	DBPath     string `json:"db_path" env:"RAPPSACK_DB_PATH" validate:"required"`
	LogLevel   string `json:"log_level" env:"RAPPSACK_LOG_LEVEL" validate:"oneof=debug info warn error"`
	TraceLevel string `json:"trace_level" env:"RAPPSACK_TRACE_LEVEL" validate:"oneof=trace debug information warning error critical"`
	MaxBody    int64  `json:"max_body" env:"RAPPSACK_MAX_BODY" validate:"gte=0"`

	EnvironmentURL string        `json:"environment_url" env:"RAPPSACK_ENVIRONMENT_URL" validate:"omitempty,url"`
	TenantID       string        `json:"tenant_id" env:"RAPPSACK_TENANT_ID"`
	ClientID       string        `json:"client_id" env:"RAPPSACK_CLIENT_ID"`
	ClientSecret   string        `json:"client_secret" env:"RAPPSACK_CLIENT_SECRET"`
	AuthorityHost  string        `json:"authority_host" env:"RAPPSACK_AUTHORITY_HOST" validate:"omitempty,url"`
	TokenTTL       time.Duration `json:"token_ttl" env:"RAPPSACK_TOKEN_TTL" validate:"gte=0"`

	NeedsFile string `json:"needs_file" env:"RAPPSACK_NEEDS_FILE"`

	SweepCron     string `json:"sweep_cron" env:"RAPPSACK_SWEEP_CRON"`
	RetentionCron string `json:"retention_cron" env:"RAPPSACK_RETENTION_CRON"`
	VacuumCron    string `json:"vacuum_cron" env:"RAPPSACK_VACUUM_CRON"`
	RetentionDays int    `json:"retention_days" env:"RAPPSACK_RETENTION_DAYS" validate:"gte=0"`

	Metrics bool `json:"metrics" env:"RAPPSACK_METRICS"`

	// VaultKey is a base64 encoded 32-byte key. VaultPassphrase with
	// VaultSalt derives one instead.
	VaultKey        string `json:"vault_key" env:"RAPPSACK_VAULT_KEY"`
	VaultPassphrase string `json:"vault_passphrase" env:"RAPPSACK_VAULT_PASSPHRASE"`
	VaultSalt       string `json:"vault_salt" env:"RAPPSACK_VAULT_SALT"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":4200",
		DBPath:        filepath.Join(rappsackDir(), "rappsack.db"),
		LogLevel:      "info",
		TraceLevel:    "trace",
		SweepCron:     "*/10 * * * *",
		RetentionCron: "@daily",
		VacuumCron:    "@weekly",
		RetentionDays: 30,
		Metrics:       true,
	}
}

func rappsackDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rappsack"
	}
	return filepath.Join(home, ".rappsack")
}

func settingsPath() string {
	return filepath.Join(rappsackDir(), "settings.json")
}

// loadConfig layers the settings file and the environment over the
// defaults. A missing settings file is not an error. environ overrides the
// process environment when non-nil.
func loadConfig(path string, environ map[string]string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	err := validator.New().Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// hasCredentials reports whether enough is configured to call the
// environment's Web API.
func (c Config) hasCredentials() bool {
	return c.EnvironmentURL != "" && c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

func (c Config) vaultConfig() (secrets.VaultConfig, error) {
	var vc secrets.VaultConfig
	if c.VaultKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.VaultKey)
		if err != nil {
			return vc, fmt.Errorf("vault_key is not valid base64: %w", err)
		}
		vc.MasterKey = key
	}
	vc.Passphrase = c.VaultPassphrase
	vc.Salt = []byte(c.VaultSalt)
	return vc, nil
}

func (c Config) slogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (c Config) traceLevel() tracing.Level {
	switch c.TraceLevel {
	case "debug":
		return tracing.LevelDebug
	case "information":
		return tracing.LevelInformation
	case "warning":
		return tracing.LevelWarning
	case "error":
		return tracing.LevelError
	case "critical":
		return tracing.LevelCritical
	}
	return tracing.LevelTrace
}
