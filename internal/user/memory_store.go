package user

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory user store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User  // by ID
	byEmail map[string]string // lowercased email -> ID
	byAcct  map[string]string // account number -> ID
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		byAcct:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if _, ok := m.byAcct[u.AccountNumber]; ok {
		return ErrAccountTaken
	}

	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 1

	m.users[u.ID] = u.Clone()
	m.byEmail[email] = u.ID
	m.byAcct[u.AccountNumber] = u.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.users[id].Clone(), nil
}

func (m *MemoryStore) GetByAccountNumber(ctx context.Context, account string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byAcct[account]
	if !ok {
		return nil, ErrNotFound
	}
	return m.users[id].Clone(), nil
}

func (m *MemoryStore) GetByResetToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ResetToken == token {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != u.Version {
		return ErrConcurrentModified
	}

	cp := u.Clone()
	cp.Version++
	cp.UpdatedAt = time.Now()
	m.users[u.ID] = cp
	u.Version = cp.Version
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, strings.ToLower(u.Email))
	delete(m.byAcct, u.AccountNumber)
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, senderID, recipientID string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	if senderID == recipientID {
		return ErrSelfTransfer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.users[senderID]
	if !ok {
		return ErrNotFound
	}
	recipient, ok := m.users[recipientID]
	if !ok {
		return ErrNotFound
	}
	if sender.Balance < amount {
		return ErrInsufficientFunds
	}

	// Bump both versions so any Update holding a pre-transfer snapshot of
	// either party fails its version check instead of reverting the
	// balance movement.
	now := time.Now()
	sender.Balance -= amount
	sender.Version++
	sender.UpdatedAt = now
	recipient.Balance += amount
	recipient.Version++
	recipient.UpdatedAt = now
	return nil
}
