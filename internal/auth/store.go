// Package auth caches the signed-in session on disk and validates it
// against the server.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/issuewatch/internal/model"
)

// ErrNoSession is returned by Store.Load when nothing is cached.
var ErrNoSession = errors.New("no cached session")

// Session is the cached sign-in.
type Session struct {
	Token     string      `yaml:"token"`
	TokenType string      `yaml:"token_type,omitempty"`
	User      *model.User `yaml:"user,omitempty"`
	SavedAt   time.Time   `yaml:"saved_at"`
}

// Store persists a Session as a YAML file readable only by the owner.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cached session.
func (s *Store) Load() (Session, error) {
	var sess Session

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return sess, ErrNoSession
	}
	if err != nil {
		return sess, fmt.Errorf("read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("parse session file: %w", err)
	}
	if sess.Token == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Save writes sess atomically with mode 0600.
func (s *Store) Save(sess Session) error {
	data, err := yaml.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clear removes the cached session. Missing files are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
