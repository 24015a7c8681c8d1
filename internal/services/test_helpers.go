package services

import (
	"context"
	"sync"
	"time"

	"github.com/oursfolio/oursfolio/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByEmailFunc          func(ctx context.Context, email string) (*models.Account, error)
	GetByIDFunc             func(ctx context.Context, id string) (*models.Account, error)
	UpdateSecurityStateFunc func(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateTwoFactorFunc     func(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateLastLoginFunc     func(ctx context.Context, id string, at time.Time) error
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) UpdateSecurityState(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if m.UpdateSecurityStateFunc != nil {
		return m.UpdateSecurityStateFunc(ctx, acct)
	}
	updated := *acct
	updated.SecurityVersion++
	return &updated, nil
}

func (m *MockAccountRepository) UpdateTwoFactor(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if m.UpdateTwoFactorFunc != nil {
		return m.UpdateTwoFactorFunc(ctx, acct)
	}
	updated := *acct
	return &updated, nil
}

func (m *MockAccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

// MockLoginHistoryRepository implements LoginHistoryRepository for testing.
// Recorded entries are captured for assertions.
type MockLoginHistoryRepository struct {
	RecordFunc        func(ctx context.Context, entry *models.LoginHistoryEntry) (*models.LoginHistoryEntry, error)
	ListByAccountFunc func(ctx context.Context, accountID string, limit int) ([]*models.LoginHistoryEntry, error)

	mu       sync.Mutex
	Recorded []*models.LoginHistoryEntry
}

func (m *MockLoginHistoryRepository) Record(ctx context.Context, entry *models.LoginHistoryEntry) (*models.LoginHistoryEntry, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recorded = append(m.Recorded, entry)
	return entry, nil
}

func (m *MockLoginHistoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.LoginHistoryEntry, error) {
	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountID, limit)
	}
	return []*models.LoginHistoryEntry{}, nil
}

// RecordedEntries returns a snapshot of captured history entries
func (m *MockLoginHistoryRepository) RecordedEntries() []*models.LoginHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LoginHistoryEntry, len(m.Recorded))
	copy(out, m.Recorded)
	return out
}

// MockTaskQueue implements TaskQueue for testing, capturing enqueued tasks
type MockTaskQueue struct {
	EnqueueFunc func(ctx context.Context, taskType string, payload interface{}) error

	mu       sync.Mutex
	Enqueued []string
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, taskType, payload)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Enqueued = append(m.Enqueued, taskType)
	return nil
}

// EnqueuedTypes returns a snapshot of captured task types
func (m *MockTaskQueue) EnqueuedTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Enqueued))
	copy(out, m.Enqueued)
	return out
}

// InMemoryAccountStore is an AccountRepository backed by a map with real
// optimistic-version semantics, for tests that exercise concurrent updates
// against one account.
type InMemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	byEmail  map[string]string
}

func NewInMemoryAccountStore(accounts ...*models.Account) *InMemoryAccountStore {
	store := &InMemoryAccountStore{
		accounts: make(map[string]*models.Account),
		byEmail:  make(map[string]string),
	}
	for _, acct := range accounts {
		copied := *acct
		store.accounts[copied.ID] = &copied
		store.byEmail[copied.Email] = copied.ID
	}
	return store
}

func (s *InMemoryAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s.accounts[id]
	return &copied, nil
}

func (s *InMemoryAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *acct
	return &copied, nil
}

func (s *InMemoryAccountStore) UpdateSecurityState(ctx context.Context, acct *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[acct.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if current.SecurityVersion != acct.SecurityVersion {
		return nil, models.ErrConflict
	}
	updated := *acct
	updated.SecurityVersion++
	s.accounts[acct.ID] = &updated
	copied := updated
	return &copied, nil
}

func (s *InMemoryAccountStore) UpdateTwoFactor(ctx context.Context, acct *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[acct.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	current.TwoFactorEnabled = acct.TwoFactorEnabled
	current.TwoFactorSecret = acct.TwoFactorSecret
	current.TwoFactorNonce = acct.TwoFactorNonce
	copied := *current
	return &copied, nil
}

func (s *InMemoryAccountStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	acct.LastLogin = &at
	return nil
}

// Snapshot returns a copy of the stored account
func (s *InMemoryAccountStore) Snapshot(id string) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil
	}
	copied := *acct
	return &copied
}

// NewTestAccount creates an account with sane defaults
func NewTestAccount(id, email, passwordHash string) *models.Account {
	now := time.Now()
	return &models.Account{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestAccountLocked creates an account inside an active lockout window
func NewTestAccountLocked(id, email, passwordHash string, attempts int) *models.Account {
	acct := NewTestAccount(id, email, passwordHash)
	lockedUntil := time.Now().Add(30 * time.Minute)
	acct.LoginAttempts = attempts
	acct.LockedUntil = &lockedUntil
	return acct
}
