package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2ID = "argon2id"

// HashParams are the argon2id cost parameters. Memory is in KiB.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultHashParams() HashParams {
	return HashParams{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// PasswordHasher produces and checks PHC-formatted argon2id hashes.
type PasswordHasher struct {
	params HashParams
}

func NewPasswordHasher(params HashParams) (*PasswordHasher, error) {
	switch {
	case params.Memory < 8*1024:
		return nil, errors.New("argon2 memory must be >= 8192 KiB")
	case params.Time < 1:
		return nil, errors.New("argon2 time must be >= 1")
	case params.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be >= 1")
	case params.SaltLength < 16:
		return nil, errors.New("argon2 salt length must be >= 16")
	case params.KeyLength < 16:
		return nil, errors.New("argon2 key length must be >= 16")
	}
	return &PasswordHasher{params: params}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded and
// compares in constant time. A malformed hash never matches.
func (h *PasswordHasher) Verify(password, encoded string) bool {
	p, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

func decodeHash(encoded string) (HashParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return HashParams{}, nil, nil, errors.New("invalid argon2id hash")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return HashParams{}, nil, nil, errors.New("unsupported argon2 version")
	}

	var p HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return HashParams{}, nil, nil, fmt.Errorf("parse argon2 params: %w", err)
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return HashParams{}, nil, nil, errors.New("invalid argon2 params")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return HashParams{}, nil, nil, errors.New("invalid argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return HashParams{}, nil, nil, errors.New("invalid argon2 key")
	}
	return p, salt, key, nil
}
