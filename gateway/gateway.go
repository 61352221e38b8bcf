package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docstamp/docstamp/models"
)

// ErrorKind is the transport failure classification every other component
// branches on. Nothing outside this package inspects raw HTTP status codes.
type ErrorKind int

const (
	// KindUnknown covers anything that does not fit the kinds below.
	KindUnknown ErrorKind = iota
	// KindNetworkUnreachable means no response was received at all.
	KindNetworkUnreachable
	// KindUnauthorized means the credential was missing, invalid or expired.
	KindUnauthorized
	// KindForbidden means authenticated but not entitled (e.g. unverified
	// account, or deleting someone else's record).
	KindForbidden
	// KindUnprocessable means the server rejected the request shape or
	// content (validation failure, duplicate username).
	KindUnprocessable
	// KindNotFound means the addressed resource does not exist. For verify
	// and delete this is a normal outcome, not a fault.
	KindNotFound
	// KindServerFault covers 5xx responses.
	KindServerFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetworkUnreachable:
		return "network unreachable"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindUnprocessable:
		return "unprocessable input"
	case KindNotFound:
		return "not found"
	case KindServerFault:
		return "server fault"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every gateway operation. Reason
// carries the server-provided detail message when one was present.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway: %s", e.Kind)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Reason)
}

// KindOf extracts the classification from err, or KindUnknown when err did
// not originate from a gateway call.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == kind
}

// LoginResult is the first-factor outcome. Exactly one of the two token
// fields is meaningful: TempToken when the server requires a second factor,
// AccessToken when it opts the account out of 2FA.
type LoginResult struct {
	Requires2FA bool
	TempToken   string
	AccessToken string
}

// RegisterResult carries the second-factor challenge token. A server that
// predates 2FA returns none; the account is then created and ready for a
// regular login.
type RegisterResult struct {
	TempToken string
}

// TimestampGateway is the single point of outbound calls to the remote
// timestamping service. Authenticated operations (FetchProfile with its
// explicit token excepted) attach the current session's access token as a
// bearer credential; anonymous operations never attach one, even when a
// session is stored.
type TimestampGateway interface {
	// Anonymous operations.
	Login(ctx context.Context, username, password string) (LoginResult, error)
	Register(ctx context.Context, username, email, password string) (RegisterResult, error)
	VerifyOTP(ctx context.Context, mode models.ChallengeMode, tempToken, code string) (string, error)
	FetchCertificate(ctx context.Context) (string, error)

	// FetchProfile authenticates with the freshly issued token rather than
	// the stored session: during login the session is written only after
	// both token and profile are known.
	FetchProfile(ctx context.Context, accessToken string) (models.Profile, error)

	// Authenticated operations, credential taken from the session store.
	Upload(ctx context.Context, filename string, content io.Reader) (models.TimestampRecord, error)
	Verify(ctx context.Context, filename string, content io.Reader) (models.VerificationOutcome, error)
	ListRecords(ctx context.Context, skip, limit int) ([]models.TimestampRecord, error)
	DeleteRecord(ctx context.Context, id int64) error
}
