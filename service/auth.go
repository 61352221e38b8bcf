package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/docstamp/docstamp/gateway"
	"github.com/docstamp/docstamp/models"
)

// The code is opaque to the client beyond trimming; format checks are the
// server's concern.
const otpMaxLength = 6

// Login presents the first factor. Depending on the server's policy for the
// account the machine ends up either awaiting an OTP (returned state
// StateAwaitingOTP) or fully authenticated with the session written.
func (s *Service) Login(ctx context.Context, creds models.Credentials) (State, error) {
	gen := s.currentGeneration()

	result, err := s.Gateway.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindUnauthorized:
			return StateAnonymous, ErrInvalidCredentials
		case gateway.KindForbidden:
			return StateAnonymous, ErrAccountNotVerified
		default:
			return StateAnonymous, err
		}
	}

	if result.Requires2FA {
		if result.TempToken == "" {
			return StateAnonymous, fmt.Errorf("server requires a second factor but issued no temp token")
		}
		applied := s.applyIf(gen, func() {
			s.state = StateAwaitingOTP
			s.challenge = &models.OTPChallenge{TempToken: result.TempToken, Mode: models.ModeLogin}
		})
		if !applied {
			return s.CurrentState(), ErrSuperseded
		}
		return StateAwaitingOTP, nil
	}

	// Compatibility path: the server opted this account out of 2FA and
	// issued the access token directly.
	if result.AccessToken == "" {
		return StateAnonymous, fmt.Errorf("login response carried neither a challenge nor an access token")
	}
	if err := s.completeAuthentication(ctx, gen, result.AccessToken); err != nil {
		return s.CurrentState(), err
	}
	return StateAuthenticated, nil
}

// Register validates locally first: a failing password policy or mismatched
// confirmation never reaches the network. On success the machine awaits the
// registration OTP, unless the server predates 2FA, in which case the
// account is created and the caller proceeds to a normal login.
func (s *Service) Register(ctx context.Context, username, email string, creds models.Credentials, confirmPassword string) (State, error) {
	if username == "" {
		username = creds.Username
	}
	if err := ValidateRegistration(username, email, creds.Password, confirmPassword); err != nil {
		return StateAnonymous, err
	}

	gen := s.currentGeneration()

	result, err := s.Gateway.Register(ctx, username, email, creds.Password)
	if err != nil {
		// Server-side rejections (duplicate username, policy) surface with
		// the server's own reason; the machine stays anonymous.
		return StateAnonymous, err
	}

	if result.TempToken == "" {
		return StateAnonymous, nil
	}

	applied := s.applyIf(gen, func() {
		s.state = StateAwaitingOTP
		s.challenge = &models.OTPChallenge{TempToken: result.TempToken, Mode: models.ModeRegister}
	})
	if !applied {
		return s.CurrentState(), ErrSuperseded
	}
	return StateAwaitingOTP, nil
}

// SubmitOTP presents the second factor for the pending challenge. An invalid
// code keeps the challenge so the user can retry; a challenge the server no
// longer accepts collapses to ErrChallengeExpired and the flow restarts from
// login or register.
func (s *Service) SubmitOTP(ctx context.Context, code string) (models.Session, error) {
	s.mu.Lock()
	if s.state != StateAwaitingOTP || s.challenge == nil {
		s.mu.Unlock()
		return models.Session{}, ErrNoChallenge
	}
	challenge := *s.challenge
	gen := s.generation
	s.mu.Unlock()

	code = strings.TrimSpace(code)
	if runes := []rune(code); len(runes) > otpMaxLength {
		// Bound by runes so an over-long code is never cut mid-character.
		code = string(runes[:otpMaxLength])
	}

	accessToken, err := s.Gateway.VerifyOTP(ctx, challenge.Mode, challenge.TempToken, code)
	if err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindUnauthorized:
			// Wrong code; the temp token is still live, retry allowed.
			return models.Session{}, ErrInvalidOTP
		case gateway.KindForbidden, gateway.KindUnprocessable, gateway.KindNotFound:
			// The challenge itself was rejected: used up or expired.
			s.applyIf(gen, func() {
				s.state = StateAnonymous
				s.challenge = nil
			})
			return models.Session{}, ErrChallengeExpired
		default:
			return models.Session{}, err
		}
	}

	if err := s.completeAuthentication(ctx, gen, accessToken); err != nil {
		return models.Session{}, err
	}
	return s.Sessions.Get(ctx)
}

// completeAuthentication fetches the profile with the fresh token and writes
// the session in one transition, so no reader ever sees a token without its
// role. Applied only if the flow was not abandoned in the meantime.
func (s *Service) completeAuthentication(ctx context.Context, gen uint64, accessToken string) error {
	profile, err := s.Gateway.FetchProfile(ctx, accessToken)
	if err != nil {
		if gateway.KindOf(err) == gateway.KindUnauthorized {
			// The token we were just handed is already rejected; treat the
			// whole exchange as expired.
			s.applyIf(gen, func() {
				s.state = StateAnonymous
				s.challenge = nil
			})
			return ErrChallengeExpired
		}
		return err
	}

	sess := models.Session{
		AccessToken: accessToken,
		Role:        profile.Role,
		Username:    profile.Username,
	}

	var setErr error
	applied := s.applyIf(gen, func() {
		setErr = s.Sessions.Set(ctx, sess)
		if setErr == nil {
			s.state = StateAuthenticated
			s.challenge = nil
		}
	})
	if !applied {
		return ErrSuperseded
	}
	return setErr
}

// Logout clears the session and returns to anonymous unconditionally; no
// network call is involved.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateAnonymous
	s.challenge = nil
	s.generation++
	s.mu.Unlock()

	return s.Sessions.Clear(ctx)
}

// invalidateSession is the implicit logout: the server rejected the stored
// credential, so the session is cleared before the error reaches the caller.
func (s *Service) invalidateSession(ctx context.Context) {
	s.mu.Lock()
	s.state = StateAnonymous
	s.challenge = nil
	s.generation++
	s.mu.Unlock()

	if err := s.Sessions.Clear(ctx); err != nil {
		log.Printf("clearing invalidated session failed: %v", err)
	}
}
