package auth

import "strings"

// TokenVerifier is satisfied by *TokenService.
type TokenVerifier interface {
	Verify(token string) (Claims, bool)
}

// SessionResolver turns a raw credential into an Identity. Absent, malformed,
// expired and unknown-subject credentials all resolve to (Identity{}, false).
type SessionResolver struct {
	tokens TokenVerifier
	users  UserStore
}

func NewSessionResolver(tokens TokenVerifier, users UserStore) *SessionResolver {
	return &SessionResolver{tokens: tokens, users: users}
}

func (r *SessionResolver) Resolve(raw string) (Identity, bool) {
	token := StripScheme(raw)
	if token == "" {
		return Identity{}, false
	}
	claims, ok := r.tokens.Verify(token)
	if !ok {
		return Identity{}, false
	}
	u, err := r.users.GetByUsername(claims.Subject)
	if err != nil || !u.IsActive {
		return Identity{}, false
	}
	return u.Identity(), true
}

// StripScheme removes an optional, case-insensitive "Bearer " prefix.
func StripScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	const scheme = "bearer "
	if len(raw) >= len(scheme) && strings.EqualFold(raw[:len(scheme)], scheme) {
		raw = strings.TrimSpace(raw[len(scheme):])
	}
	return raw
}
