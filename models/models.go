package models

import "time"

// Credentials are transient: they exist only for the duration of a login or
// register call and are never persisted.
type Credentials struct {
	Username string
	Password string
}

// ChallengeMode selects which OTP verification endpoint applies.
type ChallengeMode int

const (
	ModeLogin ChallengeMode = iota
	ModeRegister
)

func (m ChallengeMode) String() string {
	if m == ModeRegister {
		return "register"
	}
	return "login"
}

// OTPChallenge scopes an in-progress second-factor exchange to one
// login/register attempt. The temp token is opaque to the client.
type OTPChallenge struct {
	TempToken string
	Mode      ChallengeMode
}

// Session is the durable authenticated identity. It is only ever built from
// a server-confirmed credential exchange (token from login/OTP, role and
// username from the profile endpoint).
type Session struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	Username    string `json:"username"`
}

type Profile struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TimestampRecord describes one anchoring event as recorded by the server.
// Read-only to the client; Signature is the server's detached signature over
// digest+timestamp.
type TimestampRecord struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Digest    string    `json:"file_hash"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	Owner     int64     `json:"user_id"`
}

// VerificationOutcome is the answer to "has this exact content been
// anchored". Verified == false is a normal result, not an error.
type VerificationOutcome struct {
	Verified      bool
	LocalDigest   string
	MatchedRecord *TimestampRecord
}

// AnchorResult pairs the server's record with the locally computed digest so
// callers can display the fingerprint they submitted.
type AnchorResult struct {
	Record      TimestampRecord
	LocalDigest string
}

// ListScope selects between the caller's own records and all records. The
// server enforces that ScopeAll needs an elevated role; the client just
// forwards the request.
type ListScope int

const (
	ScopeOwn ListScope = iota
	ScopeAll
)
