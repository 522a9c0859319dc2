package config

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(KeyOneUpClientID, "client-id")
	t.Setenv(KeyOneUpClientSecret, "client-secret")
	t.Setenv(KeyDestinationBaseURL, "http://fhir:8080/fhir/")
}

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.1up.health", cfg.OneUpBaseURL)
	assert.Equal(t, "http://fhir:8080/fhir", cfg.DestinationBaseURL)
	assert.Equal(t, 7000*time.Second, cfg.AccessTokenLifespan)
	assert.False(t, cfg.SyncOnStartup)
	assert.Zero(t, cfg.SyncInterval)
	assert.Equal(t, domain.DefaultResourceTypes, cfg.ResourceTypes)
	assert.Equal(t, 4, cfg.EntryConcurrency)
	assert.Zero(t, cfg.CredentialWait)
	assert.Equal(t, "1up Health", cfg.StatusService)
	assert.Equal(t, "FHIR Data Retrieval", cfg.StatusDependency)
	assert.Equal(t, StateStoreAuthAPI, cfg.StateStore)
	assert.Equal(t, "http://auth-api", cfg.AuthAPIURL)
	assert.Equal(t, "test", cfg.AuthAPIUsername)
	assert.Equal(t, "test", cfg.AuthAPIPassword)
	assert.Equal(t, 80, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv(KeyAccessTokenLifespan, "90m")
	t.Setenv(KeySyncOnStartup, "true")
	t.Setenv(KeySyncInterval, "6h")
	t.Setenv(KeyResourceTypes, " Patient, Observation ,,")
	t.Setenv(KeyEntryConcurrency, "16")
	t.Setenv(KeyRequestsPerSecond, "2.5")
	t.Setenv(KeyStateStore, "POSTGRES")
	t.Setenv(KeyDatabaseURL, "postgres://localhost/bridge")
	t.Setenv(KeySecretsKey, "passphrase")
	t.Setenv(KeyPort, "8080")
	t.Setenv(KeyLogFormat, "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.AccessTokenLifespan)
	assert.True(t, cfg.SyncOnStartup)
	assert.Equal(t, 6*time.Hour, cfg.SyncInterval)
	assert.Equal(t, []string{"Patient", "Observation"}, cfg.ResourceTypes)
	assert.Equal(t, 16, cfg.EntryConcurrency)
	assert.InDelta(t, 2.5, cfg.RequestsPerSecond, 0.0001)
	assert.Equal(t, StateStorePostgres, cfg.StateStore)
	assert.Equal(t, "owner", cfg.OwnerID)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv(KeyOneUpClientID, "")
	t.Setenv(KeyOneUpClientSecret, "")
	t.Setenv(KeyDestinationBaseURL, "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	for _, key := range []string{KeyOneUpClientID, KeyOneUpClientSecret, KeyDestinationBaseURL} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	requiredEnv(t)
	t.Setenv(KeyAccessTokenLifespan, "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyAccessTokenLifespan)
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyOneUpClientID, "id")
	v.Set(KeyOneUpClientSecret, "secret")
	v.Set(KeyDestinationBaseURL, "https://dest.example")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"7000000", 7000 * time.Second, false},
		{"1500", 1500 * time.Millisecond, false},
		{"2h", 2 * time.Hour, false},
		{" 30s ", 30 * time.Second, false},
		{"-5", 0, true},
		{"-1m", 0, true},
		{"tomorrow", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func validConfig() Config {
	return Config{
		OneUpBaseURL:        "https://api.1up.health",
		ClientID:            "id",
		ClientSecret:        "secret",
		AccessTokenLifespan: time.Hour,
		DestinationBaseURL:  "http://fhir",
		ResourceTypes:       []string{"Patient"},
		EntryConcurrency:    1,
		StatusDependency:    "FHIR Data Retrieval",
		StateStore:          StateStoreAuthAPI,
		AuthAPIURL:          "http://auth-api",
		Port:                80,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad scheme", func(c *Config) { c.DestinationBaseURL = "ftp://fhir" }, KeyDestinationBaseURL},
		{"no host", func(c *Config) { c.OneUpBaseURL = "https://" }, KeyOneUpBaseURL},
		{"zero lifespan", func(c *Config) { c.AccessTokenLifespan = 0 }, KeyAccessTokenLifespan},
		{"no types", func(c *Config) { c.ResourceTypes = nil }, KeyResourceTypes},
		{"zero concurrency", func(c *Config) { c.EntryConcurrency = 0 }, KeyEntryConcurrency},
		{"port", func(c *Config) { c.Port = 70000 }, KeyPort},
		{"store", func(c *Config) { c.StateStore = "mongo" }, KeyStateStore},
		{"postgres without url", func(c *Config) {
			c.StateStore = StateStorePostgres
			c.SecretsKey = "k"
			c.OwnerID = "owner"
		}, KeyDatabaseURL},
		{"postgres without key", func(c *Config) {
			c.StateStore = StateStorePostgres
			c.DatabaseURL = "postgres://db"
			c.OwnerID = "owner"
		}, KeySecretsKey},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, KeyLogLevel},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, KeyLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	NewLogger(&buf, "warn", "json").Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "info", "json").Info("shown", "job_id", "j1")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"job_id":"j1"`)
	assert.Contains(t, buf.String(), `"service":"fhir-bridge"`)

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
