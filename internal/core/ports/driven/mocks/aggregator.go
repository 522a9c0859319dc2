package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// MockAggregatorAuth is a mock implementation of AggregatorAuth for testing
type MockAggregatorAuth struct {
	mu       sync.Mutex
	refreshN int
	calls    []string

	Base string
	ID   string

	CreateUserFn      func(appUserID string) (*domain.UserCreation, error)
	RequestAuthCodeFn func(appUserID string) (string, error)
	ExchangeCodeFn    func(code string) (*domain.TokenPair, error)
	RefreshFn         func(refreshToken string) (*domain.TokenPair, error)
}

// NewMockAggregatorAuth returns a mock that creates new users and issues
// numbered refresh tokens by default.
func NewMockAggregatorAuth() *MockAggregatorAuth {
	return &MockAggregatorAuth{Base: "https://aggregator.test", ID: "client-id"}
}

func (m *MockAggregatorAuth) BaseURL() string  { return m.Base }
func (m *MockAggregatorAuth) ClientID() string { return m.ID }

func (m *MockAggregatorAuth) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockAggregatorAuth) CreateUser(ctx context.Context, appUserID string) (*domain.UserCreation, error) {
	m.record("create-user:" + appUserID)
	if m.CreateUserFn != nil {
		return m.CreateUserFn(appUserID)
	}
	return &domain.UserCreation{Success: true, Code: "code-new"}, nil
}

func (m *MockAggregatorAuth) RequestAuthCode(ctx context.Context, appUserID string) (string, error) {
	m.record("auth-code:" + appUserID)
	if m.RequestAuthCodeFn != nil {
		return m.RequestAuthCodeFn(appUserID)
	}
	return "code-existing", nil
}

func (m *MockAggregatorAuth) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	m.record("exchange:" + code)
	if m.ExchangeCodeFn != nil {
		return m.ExchangeCodeFn(code)
	}
	return &domain.TokenPair{AccessToken: "at-0", RefreshToken: "rt-0"}, nil
}

func (m *MockAggregatorAuth) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	m.record("refresh:" + refreshToken)
	if m.RefreshFn != nil {
		return m.RefreshFn(refreshToken)
	}
	m.mu.Lock()
	m.refreshN++
	n := m.refreshN
	m.mu.Unlock()
	return &domain.TokenPair{
		AccessToken:  fmt.Sprintf("at-%d", n),
		RefreshToken: fmt.Sprintf("rt-%d", n),
	}, nil
}

// Calls returns the recorded calls in order, e.g. "refresh:rt-0"
func (m *MockAggregatorAuth) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockResourceSource serves canned bundles and resources keyed by URL
type MockResourceSource struct {
	mu          sync.Mutex
	bundles     map[string]*domain.Bundle
	resources   map[string]*domain.Resource
	bundleGets  []string
	resourceGet []string
	tokens      []string

	FetchBundleFn   func(pageURL string) (*domain.Bundle, error)
	FetchResourceFn func(fullURL string) (*domain.Resource, error)
}

// NewMockResourceSource creates an empty source
func NewMockResourceSource() *MockResourceSource {
	return &MockResourceSource{
		bundles:   make(map[string]*domain.Bundle),
		resources: make(map[string]*domain.Resource),
	}
}

// AddBundle serves b at pageURL
func (m *MockResourceSource) AddBundle(pageURL string, b *domain.Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[pageURL] = b
}

// AddResource serves a resource with the given type and id at fullURL
func (m *MockResourceSource) AddResource(fullURL, resourceType, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[fullURL] = &domain.Resource{
		ResourceType: resourceType,
		ID:           id,
		Body:         []byte(fmt.Sprintf(`{"resourceType":%q,"id":%q}`, resourceType, id)),
	}
}

func (m *MockResourceSource) FetchBundle(ctx context.Context, accessToken, pageURL string) (*domain.Bundle, error) {
	m.mu.Lock()
	m.bundleGets = append(m.bundleGets, pageURL)
	m.tokens = append(m.tokens, accessToken)
	m.mu.Unlock()

	if m.FetchBundleFn != nil {
		return m.FetchBundleFn(pageURL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[pageURL]
	if !ok {
		return nil, &domain.HTTPStatusError{Method: "GET", URL: pageURL, StatusCode: 404}
	}
	return b, nil
}

func (m *MockResourceSource) FetchResource(ctx context.Context, accessToken, fullURL string) (*domain.Resource, error) {
	m.mu.Lock()
	m.resourceGet = append(m.resourceGet, fullURL)
	m.tokens = append(m.tokens, accessToken)
	m.mu.Unlock()

	if m.FetchResourceFn != nil {
		return m.FetchResourceFn(fullURL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[fullURL]
	if !ok {
		return nil, &domain.HTTPStatusError{Method: "GET", URL: fullURL, StatusCode: 404}
	}
	return r, nil
}

// BundleGets returns the page URLs fetched in order
func (m *MockResourceSource) BundleGets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.bundleGets))
	copy(out, m.bundleGets)
	return out
}

// ResourceGets returns the entry URLs fetched, in completion order
func (m *MockResourceSource) ResourceGets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.resourceGet))
	copy(out, m.resourceGet)
	return out
}

// Tokens returns the access tokens presented on every call
func (m *MockResourceSource) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.tokens))
	copy(out, m.tokens)
	return out
}

// MockResourceDestination records every Put
type MockResourceDestination struct {
	mu   sync.Mutex
	puts []string

	PutFn func(resourceType string, resource *domain.Resource) error
}

// NewMockResourceDestination creates an empty destination
func NewMockResourceDestination() *MockResourceDestination {
	return &MockResourceDestination{}
}

func (m *MockResourceDestination) Put(ctx context.Context, resourceType string, resource *domain.Resource) error {
	if m.PutFn != nil {
		if err := m.PutFn(resourceType, resource); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, resourceType+"/"+resource.ID)
	return nil
}

// Puts returns "{type}/{id}" for every successful write
func (m *MockResourceDestination) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.puts))
	copy(out, m.puts)
	return out
}
