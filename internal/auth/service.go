package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveIdentity   = errors.New("identity inactive")
	ErrWeakPassword       = errors.New("weak password")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	minPasswordLength = 10
	maxPasswordLength = 128
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

// Service handles account-level flows: login, registration and activation.
type Service struct {
	users   UserStore
	tokens  *TokenService
	hasher  *PasswordHasher
	ttl     time.Duration
	nowFunc func() time.Time

	// dummyHash keeps the unknown-user path doing the same argon2 work as
	// the wrong-password path.
	dummyHash string
}

type ServiceConfig struct {
	TokenTTL time.Duration
}

func NewService(userStore UserStore, tokens *TokenService, hasher *PasswordHasher, cfg ServiceConfig) (*Service, error) {
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token TTL must be > 0")
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		users:     userStore,
		tokens:    tokens,
		hasher:    hasher,
		ttl:       cfg.TokenTTL,
		nowFunc:   time.Now,
		dummyHash: dummy,
	}, nil
}

func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

func (s *Service) HashPassword(password string) (string, error) {
	return s.hasher.Hash(password)
}

// Login checks the password before the active flag so that the inactive
// response is only reachable with correct credentials.
func (s *Service) Login(username, password string) (Session, error) {
	u, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		_ = s.hasher.Verify(password, s.dummyHash)
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return Session{}, ErrInactiveIdentity
	}
	return s.issue(u)
}

func (s *Service) Register(username, email, password string) (Session, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if !usernamePattern.MatchString(username) {
		return Session{}, fmt.Errorf("%w: username must be 3-64 letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if email == "" {
		return Session{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !validEmail(email) {
		return Session{}, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := validatePasswordPolicy(password); err != nil {
		return Session{}, err
	}

	u, err := s.newUser(username, email, password)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.Create(u); err != nil {
		if errors.Is(err, ErrUserExists) {
			return Session{}, ErrUserExists
		}
		return Session{}, fmt.Errorf("store user: %w", err)
	}
	return s.issue(u)
}

// Provision creates or replaces an account without issuing a token. It backs
// the bootstrap account and the operator CLI.
func (s *Service) Provision(username, email, password string, active bool) (User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return User{}, fmt.Errorf("%w: invalid username", ErrInvalidInput)
	}
	if err := validatePasswordPolicy(password); err != nil {
		return User{}, err
	}
	u, err := s.newUser(username, strings.TrimSpace(email), password)
	if err != nil {
		return User{}, err
	}
	if existing, err := s.users.GetByUsername(username); err == nil {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
	}
	u.IsActive = active
	if err := s.users.Put(u); err != nil {
		return User{}, fmt.Errorf("store user: %w", err)
	}
	return u, nil
}

func (s *Service) SetActive(username string, active bool) error {
	u, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return err
	}
	u.IsActive = active
	if err := s.users.Put(u); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// IssueFor mints a session for an existing active account without a password.
func (s *Service) IssueFor(username string) (Session, error) {
	u, err := s.users.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return Session{}, err
	}
	if !u.IsActive {
		return Session{}, ErrInactiveIdentity
	}
	return s.issue(u)
}

func (s *Service) Lookup(username string) (User, error) {
	return s.users.GetByUsername(strings.TrimSpace(username))
}

func (s *Service) newUser(username, email, password string) (User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.nowFunc().UTC(),
	}, nil
}

func (s *Service) issue(u User) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(u.Username, s.ttl)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, Identity: u.Identity(), ExpiresAt: expiresAt}, nil
}

func validatePasswordPolicy(password string) error {
	if strings.TrimSpace(password) != password {
		return ErrWeakPassword
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrWeakPassword
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
