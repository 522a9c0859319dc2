// Package config loads the bridge settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// State store backends
const (
	StateStoreAuthAPI  = "authapi"
	StateStorePostgres = "postgres"
)

// Environment keys
const (
	KeyOneUpBaseURL        = "ONE_UP_API_URL"
	KeyOneUpClientID       = "ONE_UP_CLIENT_ID"
	KeyOneUpClientSecret   = "ONE_UP_CLIENT_SECRET"
	KeyAccessTokenLifespan = "ACCESS_TOKEN_LIFESPAN"
	KeyRequestsPerSecond   = "ONE_UP_REQUESTS_PER_SECOND"
	KeyDestinationBaseURL  = "FHIR_SERVER_BASE_URL"
	KeySyncOnStartup       = "ONE_UP_SYNC_ON_STARTUP"
	KeySyncInterval        = "SYNC_INTERVAL"
	KeyResourceTypes       = "SYNC_RESOURCE_TYPES"
	KeyEntryConcurrency    = "SYNC_ENTRY_CONCURRENCY"
	KeyCredentialWait      = "CREDENTIAL_WAIT_TIMEOUT"
	KeyStatusService       = "STATUS_SERVICE_NAME"
	KeyStatusDependency    = "STATUS_DEPENDENCY"
	KeyAuthDependency      = "STATUS_AUTH_DEPENDENCY"
	KeyStateStore          = "STATE_STORE"
	KeyAuthAPIURL          = "AUTH_API_URL"
	KeyAuthAPIUsername     = "AUTH_API_USERNAME"
	KeyAuthAPIPassword     = "AUTH_API_PASSWORD"
	KeyOwnerID             = "OWNER_ID"
	KeyDatabaseURL         = "DATABASE_URL"
	KeySecretsKey          = "SECRETS_KEY"
	KeyRedisURL            = "REDIS_URL"
	KeyHTTPClientTimeout   = "HTTP_CLIENT_TIMEOUT"
	KeyPort                = "PORT"
	KeyLogLevel            = "LOG_LEVEL"
	KeyLogFormat           = "LOG_FORMAT"
)

// Config is the full set of runtime settings
type Config struct {
	OneUpBaseURL        string
	ClientID            string
	ClientSecret        string
	AccessTokenLifespan time.Duration
	RequestsPerSecond   float64

	DestinationBaseURL string

	SyncOnStartup    bool
	SyncInterval     time.Duration // zero disables the scheduler
	ResourceTypes    []string
	EntryConcurrency int
	CredentialWait   time.Duration // zero waits forever

	StatusService    string
	StatusDependency string
	AuthDependency   string

	StateStore      string
	AuthAPIURL      string
	AuthAPIUsername string
	AuthAPIPassword string
	OwnerID         string
	DatabaseURL     string
	SecretsKey      string
	RedisURL        string

	HTTPClientTimeout time.Duration
	Port              int

	LogLevel  string
	LogFormat string
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOneUpBaseURL, "https://api.1up.health")
	v.SetDefault(KeyAccessTokenLifespan, "7000000")
	v.SetDefault(KeyRequestsPerSecond, 0)
	v.SetDefault(KeySyncOnStartup, false)
	v.SetDefault(KeySyncInterval, "0")
	v.SetDefault(KeyResourceTypes, strings.Join(domain.DefaultResourceTypes, ","))
	v.SetDefault(KeyEntryConcurrency, 4)
	v.SetDefault(KeyCredentialWait, "0")
	v.SetDefault(KeyStatusService, "1up Health")
	v.SetDefault(KeyStatusDependency, "FHIR Data Retrieval")
	v.SetDefault(KeyAuthDependency, "1up Authentication")
	v.SetDefault(KeyStateStore, StateStoreAuthAPI)
	v.SetDefault(KeyAuthAPIURL, "http://auth-api")
	v.SetDefault(KeyAuthAPIUsername, "test")
	v.SetDefault(KeyAuthAPIPassword, "test")
	v.SetDefault(KeyOwnerID, "owner")
	v.SetDefault(KeyHTTPClientTimeout, "0")
	v.SetDefault(KeyPort, 80)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
}

// New returns a viper instance bound to the process environment with defaults set
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the environment and validates the result
func Load() (*Config, error) {
	return FromViper(New())
}

// FromViper builds a Config from v and validates it
func FromViper(v *viper.Viper) (*Config, error) {
	var errs []error
	duration := func(key string) time.Duration {
		d, err := ParseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	cfg := &Config{
		OneUpBaseURL:        strings.TrimRight(v.GetString(KeyOneUpBaseURL), "/"),
		ClientID:            v.GetString(KeyOneUpClientID),
		ClientSecret:        v.GetString(KeyOneUpClientSecret),
		AccessTokenLifespan: duration(KeyAccessTokenLifespan),
		RequestsPerSecond:   v.GetFloat64(KeyRequestsPerSecond),
		DestinationBaseURL:  strings.TrimRight(v.GetString(KeyDestinationBaseURL), "/"),
		SyncOnStartup:       v.GetBool(KeySyncOnStartup),
		SyncInterval:        duration(KeySyncInterval),
		ResourceTypes:       splitList(v.GetString(KeyResourceTypes)),
		EntryConcurrency:    v.GetInt(KeyEntryConcurrency),
		CredentialWait:      duration(KeyCredentialWait),
		StatusService:       v.GetString(KeyStatusService),
		StatusDependency:    v.GetString(KeyStatusDependency),
		AuthDependency:      v.GetString(KeyAuthDependency),
		StateStore:          strings.ToLower(v.GetString(KeyStateStore)),
		AuthAPIURL:          strings.TrimRight(v.GetString(KeyAuthAPIURL), "/"),
		AuthAPIUsername:     v.GetString(KeyAuthAPIUsername),
		AuthAPIPassword:     v.GetString(KeyAuthAPIPassword),
		OwnerID:             v.GetString(KeyOwnerID),
		DatabaseURL:         v.GetString(KeyDatabaseURL),
		SecretsKey:          v.GetString(KeySecretsKey),
		RedisURL:            v.GetString(KeyRedisURL),
		HTTPClientTimeout:   duration(KeyHTTPClientTimeout),
		Port:                v.GetInt(KeyPort),
		LogLevel:            strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:           strings.ToLower(v.GetString(KeyLogFormat)),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseDuration accepts a bare integer as milliseconds or a Go duration string
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.ClientID == "" {
		add("%s is required", KeyOneUpClientID)
	}
	if c.ClientSecret == "" {
		add("%s is required", KeyOneUpClientSecret)
	}
	if err := checkURL(c.OneUpBaseURL); err != nil {
		add("%s: %v", KeyOneUpBaseURL, err)
	}
	if err := checkURL(c.DestinationBaseURL); err != nil {
		add("%s: %v", KeyDestinationBaseURL, err)
	}
	if c.AccessTokenLifespan <= 0 {
		add("%s must be positive", KeyAccessTokenLifespan)
	}
	if c.RequestsPerSecond < 0 {
		add("%s must not be negative", KeyRequestsPerSecond)
	}
	if len(c.ResourceTypes) == 0 {
		add("%s must list at least one resource type", KeyResourceTypes)
	}
	if c.EntryConcurrency < 1 {
		add("%s must be at least 1", KeyEntryConcurrency)
	}
	if c.StatusDependency == "" {
		add("%s is required", KeyStatusDependency)
	}
	if c.Port < 1 || c.Port > 65535 {
		add("%s out of range: %d", KeyPort, c.Port)
	}

	switch c.StateStore {
	case StateStoreAuthAPI:
		if err := checkURL(c.AuthAPIURL); err != nil {
			add("%s: %v", KeyAuthAPIURL, err)
		}
	case StateStorePostgres:
		if c.DatabaseURL == "" {
			add("%s is required for the postgres state store", KeyDatabaseURL)
		}
		if c.SecretsKey == "" {
			add("%s is required for the postgres state store", KeySecretsKey)
		}
		if c.OwnerID == "" {
			add("%s is required for the postgres state store", KeyOwnerID)
		}
	default:
		add("%s must be %q or %q, got %q", KeyStateStore, StateStoreAuthAPI, StateStorePostgres, c.StateStore)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("%s: %v", KeyLogLevel, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		add("%s must be json or text, got %q", KeyLogFormat, c.LogFormat)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
