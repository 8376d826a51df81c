package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore expects the users table from the migrations package.
func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresUserStore{db: db}, nil
}

func (s *PostgresUserStore) GetByUsername(username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrUserNotFound
	}

	var u User
	var email sql.NullString
	const q = `SELECT id, username, email, password_hash, is_active, created_at FROM users WHERE username = $1`
	if err := s.db.QueryRow(q, username).Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	u.Email = email.String
	return u, nil
}

func (s *PostgresUserStore) Create(user User) error {
	if err := validateStored(&user); err != nil {
		return err
	}

	const q = `
INSERT INTO users (id, username, email, password_hash, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.Exec(q, user.ID, user.Username, nullableEmail(user.Email), user.PasswordHash, user.IsActive, user.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) Put(user User) error {
	if err := validateStored(&user); err != nil {
		return err
	}

	const q = `
INSERT INTO users (id, username, email, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (username) DO UPDATE
SET email = EXCLUDED.email,
	password_hash = EXCLUDED.password_hash,
	is_active = EXCLUDED.is_active,
	updated_at = NOW()`
	if _, err := s.db.Exec(q, user.ID, user.Username, nullableEmail(user.Email), user.PasswordHash, user.IsActive, user.CreatedAt); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func validateStored(user *User) error {
	user.Username = strings.TrimSpace(user.Username)
	if user.ID == "" || user.Username == "" || user.PasswordHash == "" {
		return fmt.Errorf("id, username, and password hash are required")
	}
	return nil
}

func nullableEmail(email string) sql.NullString {
	return sql.NullString{String: email, Valid: email != ""}
}
