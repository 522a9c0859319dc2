package mocks

import (
	"context"
	"strconv"
	"sync"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

// MockOwnerStore is a mock implementation of OwnerStore for testing
type MockOwnerStore struct {
	mu    sync.Mutex
	owner *domain.Owner
	saves []domain.OwnerTokens

	FindOwnerFn       func() (*domain.Owner, error)
	SaveOwnerTokensFn func(tokens domain.OwnerTokens) error
}

// NewMockOwnerStore creates a store holding owner, which may be nil
func NewMockOwnerStore(owner *domain.Owner) *MockOwnerStore {
	return &MockOwnerStore{owner: owner}
}

func (m *MockOwnerStore) FindOwner(ctx context.Context) (*domain.Owner, error) {
	if m.FindOwnerFn != nil {
		return m.FindOwnerFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		return nil, domain.ErrOwnerNotFound
	}
	o := *m.owner
	return &o, nil
}

func (m *MockOwnerStore) SaveOwnerTokens(ctx context.Context, tokens domain.OwnerTokens) error {
	m.mu.Lock()
	m.saves = append(m.saves, tokens)
	if m.owner != nil {
		m.owner.AccessToken = tokens.AccessToken
		m.owner.RefreshToken = tokens.RefreshToken
		m.owner.ClientID = tokens.ClientID
	}
	m.mu.Unlock()

	if m.SaveOwnerTokensFn != nil {
		return m.SaveOwnerTokensFn(tokens)
	}
	return nil
}

// Saves returns every token set passed to SaveOwnerTokens
func (m *MockOwnerStore) Saves() []domain.OwnerTokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OwnerTokens, len(m.saves))
	copy(out, m.saves)
	return out
}

// MockStatusStore is an in-memory StatusStore that records every call
type MockStatusStore struct {
	mu      sync.Mutex
	records map[string]*domain.StatusRecord
	history []domain.StatusUpdate
	nextID  int

	FindFn   func(service, dependency string) (*domain.StatusRecord, error)
	CreateFn func(record *domain.StatusRecord) error
	PatchFn  func(id string, update domain.StatusUpdate) error
}

// NewMockStatusStore creates an empty status store
func NewMockStatusStore() *MockStatusStore {
	return &MockStatusStore{records: make(map[string]*domain.StatusRecord)}
}

func (m *MockStatusStore) Find(ctx context.Context, service, dependency string) (*domain.StatusRecord, error) {
	if m.FindFn != nil {
		return m.FindFn(service, dependency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Service == service && r.Dependency == dependency {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockStatusStore) Create(ctx context.Context, record *domain.StatusRecord) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(record); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = strconv.Itoa(m.nextID)
	c := *record
	m.records[record.ID] = &c
	m.history = append(m.history, domain.StatusUpdate{
		Service:     record.Service,
		Dependency:  record.Dependency,
		Status:      record.Status,
		Description: record.Description,
		Error:       record.Error,
	})
	return nil
}

func (m *MockStatusStore) Patch(ctx context.Context, id string, update domain.StatusUpdate) error {
	if m.PatchFn != nil {
		if err := m.PatchFn(id, update); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Apply(update)
	m.history = append(m.history, domain.StatusUpdate{
		Service:     r.Service,
		Dependency:  r.Dependency,
		Status:      update.Status,
		Description: update.Description,
		Error:       update.Error,
	})
	return nil
}

// Records returns a copy of all stored records
func (m *MockStatusStore) Records() []domain.StatusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StatusRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

// History returns every successful create or patch in call order
func (m *MockStatusStore) History() []domain.StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StatusUpdate, len(m.history))
	copy(out, m.history)
	return out
}

// Last returns the most recent successful notification
func (m *MockStatusStore) Last() (domain.StatusUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return domain.StatusUpdate{}, false
	}
	return m.history[len(m.history)-1], true
}
