package auth

import "time"

// Identity is the read-only view of an account that request handling sees.
type Identity struct {
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// User is the stored account record.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) Identity() Identity {
	return Identity{Username: u.Username, IsActive: u.IsActive}
}

// Session is what a successful login or registration hands back to the client.
type Session struct {
	Token     string
	Identity  Identity
	ExpiresAt time.Time
}
