package account

import (
	"context"
	"sync"
)

type memoryAccount struct {
	displayName string
	emails      []string
}

// MemoryStore is an in-process account store for development and tests.
// Selected when no homeserver database URL is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memoryAccount)}
}

// Exists reports whether the account was created.
func (s *MemoryStore) Exists(_ context.Context, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[accountID]
	return ok, nil
}

// Create registers the account.
func (s *MemoryStore) Create(_ context.Context, accountID, displayName string, emails []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = &memoryAccount{displayName: displayName, emails: emails}
	return nil
}

// SetDisplayName updates the stored display name, creating nothing.
func (s *MemoryStore) SetDisplayName(_ context.Context, accountID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[accountID]; ok {
		acct.displayName = displayName
	}
	return nil
}

// DisplayName returns the stored display name, used by tests.
func (s *MemoryStore) DisplayName(accountID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return "", false
	}
	return acct.displayName, true
}

// Len reports how many accounts exist.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
