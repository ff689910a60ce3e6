package main

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/pkg/tracing"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.True(t, cfg.Metrics)
	assert.False(t, cfg.hasCredentials())
}

func TestLoadConfig_Layers(t *testing.T) {
	path := writeSettings(t, `{
		"listen_addr": ":9000",
		"log_level": "debug",
		"environment_url": "https://contoso.crm.dynamics.com",
		"retention_days": 7,
		"metrics": false
	}`)

	cfg, err := loadConfig(path, map[string]string{
		"RAPPSACK_LISTEN_ADDR":   ":9100",
		"RAPPSACK_TENANT_ID":     "tenant",
		"RAPPSACK_CLIENT_ID":     "client",
		"RAPPSACK_CLIENT_SECRET": "secret",
		"RAPPSACK_TOKEN_TTL":     "20m",
	})
	require.NoError(t, err)

	// env wins over the file, the file over the defaults
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, 20*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "@daily", cfg.RetentionCron)
	assert.True(t, cfg.hasCredentials())
	assert.Equal(t, slog.LevelDebug, cfg.slogLevel())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		environ  map[string]string
		wantErr  string
	}{
		{name: "malformed file", settings: `{"listen_addr":`, wantErr: "parse "},
		{name: "bad env value", environ: map[string]string{"RAPPSACK_RETENTION_DAYS": "many"}, wantErr: "parse env"},
		{name: "bad log level", environ: map[string]string{"RAPPSACK_LOG_LEVEL": "loud"}, wantErr: "LogLevel: failed oneof"},
		{name: "bad url", settings: `{"environment_url": "contoso"}`, wantErr: "EnvironmentURL: failed url"},
		{name: "negative retention", environ: map[string]string{"RAPPSACK_RETENTION_DAYS": "-1"}, wantErr: "RetentionDays: failed gte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.json")
			if tt.settings != "" {
				path = writeSettings(t, tt.settings)
			}
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := loadConfig(path, environ)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_VaultConfig(t *testing.T) {
	key := make([]byte, 32)
	cfg := defaultConfig()
	cfg.VaultKey = base64.StdEncoding.EncodeToString(key)
	vc, err := cfg.vaultConfig()
	require.NoError(t, err)
	assert.Equal(t, key, vc.MasterKey)

	cfg = defaultConfig()
	cfg.VaultPassphrase = "correct horse"
	cfg.VaultSalt = "pepper"
	vc, err = cfg.vaultConfig()
	require.NoError(t, err)
	assert.Empty(t, vc.MasterKey)
	assert.Equal(t, "correct horse", vc.Passphrase)
	assert.Equal(t, []byte("pepper"), vc.Salt)

	cfg = defaultConfig()
	cfg.VaultKey = "not base64!"
	_, err = cfg.vaultConfig()
	assert.Error(t, err)
}

func TestConfig_TraceLevel(t *testing.T) {
	tests := map[string]tracing.Level{
		"trace":       tracing.LevelTrace,
		"debug":       tracing.LevelDebug,
		"information": tracing.LevelInformation,
		"warning":     tracing.LevelWarning,
		"error":       tracing.LevelError,
		"critical":    tracing.LevelCritical,
	}
	for name, want := range tests {
		cfg := Config{TraceLevel: name}
		assert.Equal(t, want, cfg.traceLevel(), name)
	}
}
