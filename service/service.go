package service

import (
	"context"
	"errors"
	"sync"

	"github.com/docstamp/docstamp/digest"
	"github.com/docstamp/docstamp/gateway"
	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/session"
)

// Failure values callers branch on. Transport and server faults from the
// gateway are passed through untouched; these cover the outcomes the client
// itself decides.
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired, please log in again")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountNotVerified = errors.New("account not verified")
	ErrInvalidOTP         = errors.New("invalid or expired code")
	ErrNoChallenge        = errors.New("no second-factor challenge in progress")
	ErrChallengeExpired   = errors.New("second-factor session expired, restart from login or register")
	ErrSuperseded         = errors.New("operation superseded by a newer state change")
)

// State of the authentication machine.
type State int

const (
	StateAnonymous State = iota
	StateAwaitingOTP
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingOTP:
		return "awaiting second factor"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Service orchestrates the authentication machine and the document workflow
// over the gateway, session store and digest computer. Safe for concurrent
// use; the session store is written by this type only.
type Service struct {
	Gateway  gateway.TimestampGateway
	Sessions session.Store
	Digests  *digest.Computer

	mu        sync.Mutex
	state     State
	challenge *models.OTPChallenge
	// generation is the stale-result guard: every applied transition bumps
	// it, and in-flight operations that captured an older value discard
	// their result instead of applying it.
	generation uint64
}

func NewService(ctx context.Context, gw gateway.TimestampGateway, sessions session.Store, digests *digest.Computer) (*Service, error) {
	if gw == nil || sessions == nil {
		return nil, errors.New("gateway and session store are required")
	}
	if digests == nil {
		digests = digest.NewComputer()
	}

	s := &Service{
		Gateway:  gw,
		Sessions: sessions,
		Digests:  digests,
		state:    StateAnonymous,
	}

	// A persisted session survives restarts; restore it silently. The
	// server re-validates the token on the first authenticated call anyway.
	if _, err := sessions.Get(ctx); err == nil {
		s.state = StateAuthenticated
	} else if !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}
	return s, nil
}

// CurrentState reports the machine's state.
func (s *Service) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingChallenge reports the in-progress OTP challenge, if any.
func (s *Service) PendingChallenge() (models.OTPChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return models.OTPChallenge{}, false
	}
	return *s.challenge, true
}

// CurrentSession returns the stored session for display purposes.
// Authorization is always re-validated server-side.
func (s *Service) CurrentSession(ctx context.Context) (models.Session, error) {
	sess, err := s.Sessions.Get(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return models.Session{}, ErrNotAuthenticated
		}
		return models.Session{}, err
	}
	return sess, nil
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// applyIf runs fn under the lock only when no newer transition superseded
// the operation that captured gen, and bumps the generation when applied.
func (s *Service) applyIf(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	fn()
	s.generation++
	return true
}
