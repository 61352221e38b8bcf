package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docstamp/docstamp/models"
)

// ErrNoSession is returned by Get when no session is stored.
var ErrNoSession = errors.New("no session stored")

// Store holds the current authenticated session. Single process-wide
// instance; Set replaces the whole session atomically so no reader ever
// observes a token without its role. Only the auth machine calls Set; any
// component may Get or Clear.
type Store interface {
	Set(ctx context.Context, s models.Session) error
	Get(ctx context.Context) (models.Session, error)
	Clear(ctx context.Context) error
}

// TokenExpiry decodes the exp claim of an access token without verifying the
// signature. Display purposes only — authorization decisions are always the
// server's. Returns false when the token is not a JWT or carries no expiry.
func TokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
