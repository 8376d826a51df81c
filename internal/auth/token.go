package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minTokenSecretLength = 32

// Claims is the decoded content of a verified session token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues and verifies stateless HS256 session tokens. The key is
// supplied at construction; there is no server-side revocation state.
type TokenService struct {
	secret  []byte
	issuer  string
	nowFunc func() time.Time
}

func NewTokenService(secret []byte, issuer string) (*TokenService, error) {
	if len(secret) < minTokenSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minTokenSecretLength)
	}
	return &TokenService{
		secret:  append([]byte(nil), secret...),
		issuer:  strings.TrimSpace(issuer),
		nowFunc: time.Now,
	}, nil
}

// Issue signs a token for subject that expires ttl from now.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be > 0")
	}

	now := s.nowFunc()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify reports whether token carries a valid signature and is unexpired.
// Every failure, malformed input included, yields the same false result.
func (s *TokenService) Verify(token string) (Claims, bool) {
	if token == "" {
		return Claims{}, false
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.nowFunc),
		// Reject non-canonical base64 so no two signature strings verify alike.
		jwt.WithStrictDecoding(),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}
	rc, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(rc.Subject) == "" || rc.ExpiresAt == nil {
		return Claims{}, false
	}

	out := Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, true
}
