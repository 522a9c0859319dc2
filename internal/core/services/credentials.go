package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.CredentialManager = (*CredentialManager)(nil)

// DefaultAccessTokenLifespan is the refresh period when none is configured
const DefaultAccessTokenLifespan = 7000 * time.Second

// CredentialManager owns the single live aggregator credential.
// Reads and writes go through mu; refreshes are serialized by refreshMu so
// two exchanges can never land out of order.
type CredentialManager struct {
	auth     driven.AggregatorAuth
	owners   driven.OwnerStore
	lifespan time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	cred domain.Credential

	refreshMu sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once
	loops     sync.WaitGroup
}

// CredentialManagerConfig holds dependencies for CredentialManager.
type CredentialManagerConfig struct {
	Auth                driven.AggregatorAuth
	Owners              driven.OwnerStore
	AccessTokenLifespan time.Duration
	Logger              *slog.Logger
}

// NewCredentialManager creates a credential manager with no token yet.
func NewCredentialManager(cfg CredentialManagerConfig) *CredentialManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lifespan := cfg.AccessTokenLifespan
	if lifespan <= 0 {
		lifespan = DefaultAccessTokenLifespan
	}

	return &CredentialManager{
		auth:     cfg.Auth,
		owners:   cfg.Owners,
		lifespan: lifespan,
		logger:   logger,
		cred: domain.Credential{
			BaseURL:  cfg.Auth.BaseURL(),
			ClientID: cfg.Auth.ClientID(),
		},
		ready: make(chan struct{}),
	}
}

// Start finds the owner, performs the handshake and launches the refresh
// loop. The loop stops when ctx is cancelled; use Wait to join it.
func (m *CredentialManager) Start(ctx context.Context) error {
	owner, err := m.owners.FindOwner(ctx)
	if err != nil {
		return fmt.Errorf("find owner: %w", err)
	}

	cred, err := m.Handshake(ctx, owner.ID)
	if err != nil {
		return err
	}

	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		m.RunRefreshLoop(ctx, cred.RefreshToken)
	}()
	return nil
}

// Wait blocks until every refresh loop launched by Start has returned.
func (m *CredentialManager) Wait() {
	m.loops.Wait()
}

// Handshake exchanges ownerID for an authorization code, trades it for a
// token pair, publishes the credential to waiters and persists the tokens.
func (m *CredentialManager) Handshake(ctx context.Context, ownerID string) (*domain.Credential, error) {
	code, err := m.authorizationCode(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	pair, err := m.auth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %w", domain.ErrAuth, err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: exchange code: empty access token", domain.ErrAuth)
	}

	m.refreshMu.Lock()
	cred := m.set(pair)
	m.refreshMu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })

	m.logger.Info("aggregator handshake complete", "owner_id", ownerID, "version", cred.Version)

	if err := m.persist(ctx, pair); err != nil {
		return nil, err
	}
	return &cred, nil
}

// authorizationCode registers the user, falling back to an auth-code
// request when the user already exists or registration is rejected.
func (m *CredentialManager) authorizationCode(ctx context.Context, ownerID string) (string, error) {
	created, err := m.auth.CreateUser(ctx, ownerID)
	switch {
	case err != nil:
		m.logger.Debug("create aggregator user failed, requesting auth code", "error", err)
	case created.Success && created.Code != "":
		return created.Code, nil
	default:
		m.logger.Debug("aggregator user exists, requesting auth code", "owner_id", ownerID)
	}

	code, err := m.auth.RequestAuthCode(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("%w: request auth code: %w", domain.ErrAuth, err)
	}
	if code == "" {
		return "", fmt.Errorf("%w: request auth code: empty code", domain.ErrAuth)
	}
	return code, nil
}

// RunRefreshLoop sleeps for the token lifespan and then refreshes, forever.
// A failed refresh is logged and retried on the next tick with the previous
// refresh token. Returns only when ctx is done.
func (m *CredentialManager) RunRefreshLoop(ctx context.Context, initialRefreshToken string) {
	refreshToken := initialRefreshToken

	timer := time.NewTimer(m.lifespan)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("refresh loop stopped")
			return
		case <-timer.C:
		}

		next, err := m.refresh(ctx, refreshToken)
		if err != nil {
			m.logger.Error("failed to refresh aggregator tokens", "error", err)
		} else {
			refreshToken = next
		}

		timer.Reset(m.lifespan)
	}
}

// refresh exchanges refreshToken and returns the token to use next time.
func (m *CredentialManager) refresh(ctx context.Context, refreshToken string) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	pair, err := m.auth.Refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: refresh: %w", domain.ErrAuth, err)
	}
	if pair.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh: empty access token", domain.ErrAuth)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}

	cred := m.set(pair)
	m.logger.Info("aggregator tokens refreshed", "version", cred.Version)

	// The new token is live even if the durable copy could not be written.
	if err := m.persist(ctx, pair); err != nil {
		m.logger.Warn("failed to persist refreshed tokens", "error", err)
	}
	return pair.RefreshToken, nil
}

func (m *CredentialManager) set(pair *domain.TokenPair) domain.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred.AccessToken = pair.AccessToken
	m.cred.RefreshToken = pair.RefreshToken
	m.cred.Version++
	m.cred.UpdatedAt = time.Now()
	return m.cred
}

func (m *CredentialManager) persist(ctx context.Context, pair *domain.TokenPair) error {
	err := m.owners.SaveOwnerTokens(ctx, domain.OwnerTokens{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ClientID:     m.auth.ClientID(),
	})
	if err != nil {
		return fmt.Errorf("persist owner tokens: %w", err)
	}
	return nil
}

// CurrentToken waits for the handshake and returns the current snapshot.
func (m *CredentialManager) CurrentToken(ctx context.Context) (domain.CredentialSnapshot, error) {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return domain.CredentialSnapshot{}, fmt.Errorf("%w: waiting for credential: %w", domain.ErrAuth, ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred.Snapshot(), nil
}

// Ready reports whether a token has been obtained.
func (m *CredentialManager) Ready() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}
