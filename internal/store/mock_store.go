// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Supports error injection and records gate-approved search queries

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/gatekeep/internal/auth"
	"github.com/2389/gatekeep/internal/nlq"
)

// MockStore is an in-memory Store for tests. Zero value is not usable; use
// NewMockStore.
type MockStore struct {
	mu     sync.Mutex
	users  map[int64]*User
	creds  map[string]*auth.Credential
	nextID int64

	// FailWith, when set, is returned by every operation.
	FailWith error
	// PingErr, when set, is returned by Ping only.
	PingErr error
	// SearchResults is returned by SearchUsers.
	SearchResults []map[string]any
	// SearchCalls records every query that reached SearchUsers.
	SearchCalls []*nlq.SafeQuery
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		users:  make(map[int64]*User),
		creds:  make(map[string]*auth.Credential),
		nextID: 1,
	}
}

// SeedCredential registers a login credential without creating a user row.
func (m *MockStore) SeedCredential(userID int64, username string, passwordHash []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[username] = &auth.Credential{UserID: userID, Username: username, PasswordHash: passwordHash}
}

func (m *MockStore) InsertUser(_ context.Context, nu NewUser) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	for _, u := range m.users {
		if u.Username == nu.Username || u.Email == nu.Email {
			return nil, ErrDuplicate
		}
	}
	u := &User{
		ID:        m.nextID,
		Username:  nu.Username,
		Email:     nu.Email,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		CreatedAt: time.Now(),
	}
	m.nextID++
	m.users[u.ID] = u
	return u, nil
}

func (m *MockStore) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MockStore) GetUser(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *MockStore) UpdateUser(_ context.Context, id int64, patch UserPatch) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Username == nil && patch.Email == nil && patch.FirstName == nil && patch.LastName == nil {
		return nil, ErrNoFields
	}
	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.FirstName != nil {
		u.FirstName = patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = patch.LastName
	}
	return u, nil
}

func (m *MockStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *MockStore) SearchUsers(_ context.Context, q *nlq.SafeQuery) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.SearchCalls = append(m.SearchCalls, q)
	return m.SearchResults, nil
}

func (m *MockStore) GetCredential(_ context.Context, username string) (*auth.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	cred, ok := m.creds[username]
	if !ok {
		return nil, ErrNotFound
	}
	return cred, nil
}

func (m *MockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PingErr != nil {
		return m.PingErr
	}
	return m.FailWith
}

func (m *MockStore) Close() {}
