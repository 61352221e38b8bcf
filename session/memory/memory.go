package memory

import (
	"context"
	"sync"

	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/session"
)

// Store keeps the session in memory only. Useful for embedding hosts that
// manage persistence themselves, and for tests.
type Store struct {
	mu   sync.RWMutex
	sess *models.Session
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Set(ctx context.Context, sess models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = &sess
	return nil
}

func (s *Store) Get(ctx context.Context) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		return models.Session{}, session.ErrNoSession
	}
	return *s.sess, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	return nil
}
