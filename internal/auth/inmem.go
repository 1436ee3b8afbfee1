package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryUsers implements UserStore with in-process concurrency safety.
// Used by tests and by local runs without a database.
type InMemoryUsers struct {
	mu     sync.RWMutex
	users  map[string]*User
	emails map[string]string // lowercased email -> user id
	supers map[string]struct{}
}

var _ UserStore = (*InMemoryUsers)(nil)

// NewInMemoryUsers creates an empty identity store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		users:  make(map[string]*User),
		emails: make(map[string]string),
		supers: make(map[string]struct{}),
	}
}

// Put inserts or replaces a profile.
func (s *InMemoryUsers) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	s.users[cp.ID] = &cp
	if cp.Email != "" {
		s.emails[strings.ToLower(cp.Email)] = cp.ID
	}
}

// SetSuperAdmin registers an identity in the super-admin registry.
func (s *InMemoryUsers) SetSuperAdmin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supers[id] = struct{}{}
}

func (s *InMemoryUsers) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	if u.Permissions != nil {
		cp.Permissions = make([]Permission, len(u.Permissions))
		copy(cp.Permissions, u.Permissions)
	}
	return &cp, nil
}

func (s *InMemoryUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *InMemoryUsers) IsSuperAdmin(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.supers[id]
	return ok, nil
}
