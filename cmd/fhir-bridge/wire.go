package main

import (
	"context"
	"fmt"
	"log/slog"
	nethttp "net/http"

	"github.com/custodia-labs/fhir-bridge/internal/adapters/driven/authapi"
	"github.com/custodia-labs/fhir-bridge/internal/adapters/driven/fhirstore"
	"github.com/custodia-labs/fhir-bridge/internal/adapters/driven/oneup"
	"github.com/custodia-labs/fhir-bridge/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/fhir-bridge/internal/adapters/driven/redis"
	"github.com/custodia-labs/fhir-bridge/internal/config"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
	"github.com/custodia-labs/fhir-bridge/internal/core/services"
)

// app holds the wired components shared by serve and sync
type app struct {
	credentials *services.CredentialManager
	notifier    *services.StatusNotifier
	engine      *services.SyncEngine
	checks      map[string]driven.HealthChecker

	closers []func() error
}

// Close releases backend connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close backend", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{checks: make(map[string]driven.HealthChecker)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	httpClient := &nethttp.Client{Timeout: cfg.HTTPClientTimeout}

	source := oneup.NewClient(oneup.Config{
		BaseURL:           cfg.OneUpBaseURL,
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		HTTPClient:        httpClient,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})

	destination := fhirstore.NewClient(cfg.DestinationBaseURL, httpClient)
	a.checks["fhir-store"] = destination

	var (
		owners   driven.OwnerStore
		statuses driven.StatusStore
		lock     driven.DistributedLock
	)

	switch cfg.StateStore {
	case config.StateStorePostgres:
		logger.Info("connecting to postgres state store")
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		if err := db.InitSchema(ctx); err != nil {
			return nil, err
		}

		enc, err := postgres.NewSecretEncryptorFromSecret(cfg.SecretsKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeySecretsKey, err)
		}

		ownerStore := postgres.NewOwnerStore(db, enc)
		if err := ownerStore.EnsureOwner(ctx, cfg.OwnerID); err != nil {
			return nil, fmt.Errorf("ensure owner: %w", err)
		}

		owners = ownerStore
		statuses = postgres.NewStatusStore(db)
		lock = postgres.NewAdvisoryLock(db)
		a.checks["postgres"] = db

	default:
		logger.Info("using auth-api state store", "url", cfg.AuthAPIURL)
		client := authapi.NewClient(authapi.Config{
			BaseURL:    cfg.AuthAPIURL,
			Username:   cfg.AuthAPIUsername,
			Password:   cfg.AuthAPIPassword,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		owners = client
		statuses = client
		a.checks["auth-api"] = client
	}

	if cfg.RedisURL != "" {
		logger.Info("connecting to redis run guard")
		client, err := redisadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)

		redisLock := redisadapter.NewLock(client)
		logger.Info("using redis run guard", "holder", redisLock.Holder())
		lock = redisLock
		a.checks["redis"] = redisLock
	}

	a.credentials = services.NewCredentialManager(services.CredentialManagerConfig{
		Auth:                source,
		Owners:              owners,
		AccessTokenLifespan: cfg.AccessTokenLifespan,
		Logger:              logger,
	})

	a.notifier = services.NewStatusNotifier(services.StatusNotifierConfig{
		Store:   statuses,
		Service: cfg.StatusService,
		Logger:  logger,
	})

	a.engine = services.NewSyncEngine(services.SyncEngineConfig{
		Credentials:   a.credentials,
		Source:        source,
		Destination:   destination,
		Notifier:      a.notifier,
		Lock:          lock,
		ResourceTypes: cfg.ResourceTypes,
		Dependency:    cfg.StatusDependency,
		Concurrency:   cfg.EntryConcurrency,
		TokenWait:     cfg.CredentialWait,
		Logger:        logger,
	})

	return a, nil
}
