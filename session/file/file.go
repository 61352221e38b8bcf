package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/session"
)

// Store persists the session as a JSON file so it survives process restarts.
// Writes go through a temp file and rename, so a crash mid-write leaves
// either the old session or the new one, never a torn file.
type Store struct {
	mu   sync.RWMutex
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("session file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Set(ctx context.Context, sess models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Session{}, session.ErrNoSession
		}
		return models.Session{}, fmt.Errorf("read session: %w", err)
	}

	var sess models.Session
	// A corrupt or token-less file is treated as no session rather than
	// surfacing a stale authenticated view.
	if err := json.Unmarshal(data, &sess); err != nil || sess.AccessToken == "" {
		return models.Session{}, session.ErrNoSession
	}
	return sess, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
