package auth

import (
	"errors"
	"maps"
	"strings"
	"sync"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

type UserStore interface {
	GetByUsername(username string) (User, error)
	// Create fails with ErrUserExists when the username or email is taken.
	Create(user User) error
	Put(user User) error
}

type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]User)}
}

func (s *InMemoryUserStore) GetByUsername(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryUserStore) Create(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conflicts(s.users, user) {
		return ErrUserExists
	}
	s.users[user.Username] = user
	return nil
}

func (s *InMemoryUserStore) Put(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
	return nil
}

func (s *InMemoryUserStore) snapshot() map[string]User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.users)
}

func (s *InMemoryUserStore) replace(users map[string]User) {
	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
}

// conflicts reports a taken username or a case-insensitive email match.
func conflicts(users map[string]User, candidate User) bool {
	if _, ok := users[candidate.Username]; ok {
		return true
	}
	if candidate.Email == "" {
		return false
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, candidate.Email) {
			return true
		}
	}
	return false
}
