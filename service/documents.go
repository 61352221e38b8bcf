package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docstamp/docstamp/digest"
	"github.com/docstamp/docstamp/gateway"
	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/session"
)

var (
	// ErrRecordNotFound is the normal outcome of removing an id that does
	// not (or no longer does) exist.
	ErrRecordNotFound = errors.New("timestamp record not found")

	// ErrAnchorMismatch reports that the server recorded a digest other
	// than the one computed from the uploaded bytes.
	ErrAnchorMismatch = errors.New("recorded digest does not match the anchored content")
)

const defaultListLimit = 100

func (s *Service) requireSession(ctx context.Context) error {
	if _, err := s.Sessions.Get(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return ErrNotAuthenticated
		}
		return err
	}
	return nil
}

// authFailure translates a gateway rejection of the stored credential into
// an implicit logout, clearing the session before the error surfaces so no
// stale authenticated view survives.
func (s *Service) authFailure(ctx context.Context, err error) error {
	if gateway.KindOf(err) == gateway.KindUnauthorized {
		s.invalidateSession(ctx)
		return ErrSessionExpired
	}
	return err
}

// Anchor timestamps the document at path: the digest is computed locally,
// the raw file goes to the server, and the created record comes back with
// the local fingerprint for display. The file is opened once; the digested
// descriptor is rewound and streamed to the server, and the server's
// recorded digest is checked against the local one so a file mutating
// mid-anchor never yields a record describing other bytes.
func (s *Service) Anchor(ctx context.Context, path string) (models.AnchorResult, error) {
	if err := s.requireSession(ctx); err != nil {
		return models.AnchorResult{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.AnchorResult{}, fmt.Errorf("%w: %w", digest.ErrUnavailable, err)
	}
	defer f.Close()

	localDigest, err := s.Digests.Reader(ctx, f)
	if err != nil {
		return models.AnchorResult{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return models.AnchorResult{}, fmt.Errorf("%w: %w", digest.ErrUnavailable, err)
	}

	record, err := s.Gateway.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return models.AnchorResult{}, s.authFailure(ctx, err)
	}
	if record.Digest != "" && record.Digest != localDigest {
		return models.AnchorResult{}, fmt.Errorf("%w: recorded %s, local %s", ErrAnchorMismatch, record.Digest, localDigest)
	}
	return models.AnchorResult{Record: record, LocalDigest: localDigest}, nil
}

// Verify asks whether the document's exact content has been anchored.
// "Not verified" is a normal answer, not an error. The server's recorded
// digest is compared against the locally recomputed one, never the reverse.
func (s *Service) Verify(ctx context.Context, path string) (models.VerificationOutcome, error) {
	if err := s.requireSession(ctx); err != nil {
		return models.VerificationOutcome{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("%w: %w", digest.ErrUnavailable, err)
	}
	defer f.Close()

	localDigest, err := s.Digests.Reader(ctx, f)
	if err != nil {
		return models.VerificationOutcome{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return models.VerificationOutcome{}, fmt.Errorf("%w: %w", digest.ErrUnavailable, err)
	}

	outcome, err := s.Gateway.Verify(ctx, filepath.Base(path), f)
	if err != nil {
		if gateway.KindOf(err) == gateway.KindNotFound {
			// Unknown to the archive: a successful "no".
			return models.VerificationOutcome{Verified: false, LocalDigest: localDigest}, nil
		}
		return models.VerificationOutcome{}, s.authFailure(ctx, err)
	}

	outcome.LocalDigest = localDigest
	if outcome.Verified && outcome.MatchedRecord != nil && outcome.MatchedRecord.Digest != localDigest {
		// The record the server matched does not describe the bytes we
		// hold; refuse to present it as verified.
		outcome.Verified = false
	}
	return outcome, nil
}

// List fetches timestamp records. The scope is advisory: the server scopes
// results by the session's role and a Forbidden answer is surfaced as-is.
func (s *Service) List(ctx context.Context, scope models.ListScope, skip, limit int) ([]models.TimestampRecord, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	records, err := s.Gateway.ListRecords(ctx, skip, limit)
	if err != nil {
		return nil, s.authFailure(ctx, err)
	}
	return records, nil
}

// Remove deletes a record by id. Removing an already-removed id reports
// ErrRecordNotFound rather than failing hard.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}

	if err := s.Gateway.DeleteRecord(ctx, id); err != nil {
		if gateway.KindOf(err) == gateway.KindNotFound {
			return ErrRecordNotFound
		}
		return s.authFailure(ctx, err)
	}
	return nil
}

// Certificate fetches the service's signing certificate so anchored records
// can be audited independently.
func (s *Service) Certificate(ctx context.Context) (string, error) {
	return s.Gateway.FetchCertificate(ctx)
}
