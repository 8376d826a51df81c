package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// userFileVersion is written into every state file; newer files are refused.
const userFileVersion = 1

type userFile struct {
	Version int    `json:"version"`
	Users   []User `json:"users"`
}

// FileUserStore keeps accounts in a JSON file. It is meant for single-node
// deployments without a database. Reads are served from memory; every write
// rewrites the whole file before it becomes visible.
type FileUserStore struct {
	path string

	writeMu sync.Mutex
	mem     *InMemoryUserStore
}

func NewFileUserStore(path string) (*FileUserStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("user state file path is required")
	}
	users, err := readUserFile(path)
	if err != nil {
		return nil, err
	}
	mem := NewInMemoryUserStore()
	mem.replace(users)
	return &FileUserStore{path: path, mem: mem}, nil
}

func (s *FileUserStore) GetByUsername(username string) (User, error) {
	return s.mem.GetByUsername(username)
}

func (s *FileUserStore) Create(user User) error {
	return s.mutate(func(users map[string]User) error {
		if conflicts(users, user) {
			return ErrUserExists
		}
		users[user.Username] = user
		return nil
	})
}

func (s *FileUserStore) Put(user User) error {
	return s.mutate(func(users map[string]User) error {
		users[user.Username] = user
		return nil
	})
}

func (s *FileUserStore) mutate(fn func(map[string]User) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.mem.snapshot()
	if err := fn(next); err != nil {
		return err
	}
	if err := writeUserFile(s.path, next); err != nil {
		return err
	}
	s.mem.replace(next)
	return nil
}

func readUserFile(path string) (map[string]User, error) {
	users := make(map[string]User)
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return users, nil
	case err != nil:
		return nil, fmt.Errorf("read user store file: %w", err)
	case len(strings.TrimSpace(string(b))) == 0:
		return users, nil
	}

	var doc userFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode user store file: %w", err)
	}
	if doc.Version > userFileVersion {
		return nil, fmt.Errorf("user store file version %d is newer than supported %d", doc.Version, userFileVersion)
	}
	for _, u := range doc.Users {
		if strings.TrimSpace(u.Username) == "" {
			continue
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("user store file lists %q twice", u.Username)
		}
		users[u.Username] = u
	}
	return users, nil
}

// writeUserFile replaces path atomically, accounts sorted by username.
func writeUserFile(path string, users map[string]User) error {
	doc := userFile{Version: userFileVersion, Users: make([]User, 0, len(users))}
	for _, u := range users {
		doc.Users = append(doc.Users, u)
	}
	slices.SortFunc(doc.Users, func(a, b User) int { return strings.Compare(a.Username, b.Username) })

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir user store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create user store temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write user store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync user store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close user store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace user store file: %w", err)
	}
	return nil
}
