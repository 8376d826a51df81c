package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *InMemoryUserStore, *TokenService) {
	t.Helper()
	store := NewInMemoryUserStore()
	tokens := newTestTokenService(t, time.Now())
	tokens.nowFunc = time.Now
	svc, err := NewService(store, tokens, newTestHasher(t), ServiceConfig{TokenTTL: 30 * time.Minute})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc, store, tokens
}

func TestRegisterThenLogin(t *testing.T) {
	svc, store, tokens := newTestService(t)

	registered, err := svc.Register("alice", "alice@example.com", "Password123")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if registered.Token == "" || registered.Identity.Username != "alice" {
		t.Fatalf("unexpected registration session: %+v", registered)
	}

	stored, err := store.GetByUsername("alice")
	if err != nil {
		t.Fatalf("GetByUsername() error: %v", err)
	}
	if stored.PasswordHash == "Password123" || stored.ID == "" || !stored.IsActive {
		t.Fatalf("unexpected stored user: %+v", stored)
	}

	session, err := svc.Login("alice", "Password123")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	claims, ok := tokens.Verify(session.Token)
	if !ok || claims.Subject != "alice" {
		t.Fatalf("expected login token for alice, got %+v ok=%v", claims, ok)
	}
	if d := time.Until(session.ExpiresAt); d <= 29*time.Minute || d > 30*time.Minute {
		t.Fatalf("expected ~30m expiry, got %v", d)
	}
}

func TestLoginFailures(t *testing.T) {
	svc, store, _ := newTestService(t)
	hash, _ := svc.HashPassword("Password123")
	_ = store.Put(User{ID: "u-1", Username: "alice", PasswordHash: hash, IsActive: true})
	_ = store.Put(User{ID: "u-2", Username: "bob", PasswordHash: hash, IsActive: false})

	if _, err := svc.Login("alice", "badpass123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login("nobody", "Password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := svc.Login("bob", "Password123"); !errors.Is(err, ErrInactiveIdentity) {
		t.Fatalf("expected ErrInactiveIdentity, got %v", err)
	}
	if _, err := svc.Login("bob", "wrong-password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected inactive user with wrong password to look like bad credentials, got %v", err)
	}
}

func TestRegisterRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Register("alice", "alice@example.com", "Password123"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name     string
		username string
		email    string
		password string
		want     error
	}{
		{"duplicate username", "alice", "other@example.com", "Password123", ErrUserExists},
		{"duplicate email", "alice2", "ALICE@example.com", "Password123", ErrUserExists},
		{"short password", "carol", "carol@example.com", "short1", ErrWeakPassword},
		{"no digit", "carol", "carol@example.com", "onlyletters", ErrWeakPassword},
		{"bad username", "a b", "carol@example.com", "Password123", ErrInvalidInput},
		{"bad email", "carol", "not-an-email", "Password123", ErrInvalidInput},
		{"missing email", "carol", "", "Password123", ErrInvalidInput},
		{"blank email", "carol", "   ", "Password123", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(tt.username, tt.email, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSetActiveAndIssueFor(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Provision("ops", "", "Password123", true); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if _, err := svc.IssueFor("ops"); err != nil {
		t.Fatalf("IssueFor() error: %v", err)
	}
	if err := svc.SetActive("ops", false); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	if _, err := svc.IssueFor("ops"); !errors.Is(err, ErrInactiveIdentity) {
		t.Fatalf("expected ErrInactiveIdentity, got %v", err)
	}
	if err := svc.SetActive("missing", true); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestProvisionKeepsIdentityAcrossPasswordReset(t *testing.T) {
	svc, _, _ := newTestService(t)
	first, err := svc.Provision("ops", "", "Password123", true)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	second, err := svc.Provision("ops", "", "Password456", true)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stable user id, got %q then %q", first.ID, second.ID)
	}
	if _, err := svc.Login("ops", "Password456"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
}
