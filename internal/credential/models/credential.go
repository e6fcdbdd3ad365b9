// Package models defines issued credentials and their identifiers.
package models

import (
	"strings"
	"time"

	"examboard/internal/grading"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
)

type Kind string

const (
	KindCertificate Kind = "certificate"
	KindTranscript  Kind = "transcript"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	return k == KindCertificate || k == KindTranscript
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "kind must be certificate or transcript")
	}
	return k, nil
}

// prefix is the document number prefix printed for the kind.
func (k Kind) prefix() string {
	if k == KindTranscript {
		return "TRN"
	}
	return "CERT"
}

// Status is derived from the revocation and expiry columns, never stored.
type Status string

const (
	StatusValid   Status = "valid"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

func (s Status) String() string { return string(s) }

// Credential is an issued certificate or transcript.
//
// Invariants:
//   - At most one unrevoked credential per (student, exam year, kind)
//   - DocumentNumber and VerificationToken are unique across all credentials
//   - Revocation is recorded, never deleted
type Credential struct {
	ID                id.CredentialID
	Kind              Kind
	StudentID         id.StudentID
	ExamYearID        id.ExamYearID
	ExamYear          int
	DocumentNumber    DocumentNumber
	VerificationToken Token
	Percentage        float64
	Grade             grading.Grade
	ResultsDigest     string
	PDFReference      string
	PrintCount        int
	IssuedAt          time.Time
	ExpiresAt         *time.Time
	RevokedAt         *time.Time
	RevokeReason      string
	SupersededBy      *id.CredentialID
}

func (c *Credential) IsRevoked() bool { return c.RevokedAt != nil }

// StatusAt reports the credential's standing at now. Revocation wins over
// expiry.
func (c *Credential) StatusAt(now time.Time) Status {
	switch {
	case c.RevokedAt != nil:
		return StatusRevoked
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return StatusExpired
	default:
		return StatusValid
	}
}

func (c *Credential) CanRevoke() error {
	if c.IsRevoked() {
		return dErrors.New(dErrors.CodeInvariantViolation, "credential is already revoked")
	}
	return nil
}

// ApplyRevoke records the revocation. supersededBy is set when a reissue
// replaces the credential.
func (c *Credential) ApplyRevoke(reason string, now time.Time, supersededBy *id.CredentialID) {
	c.RevokedAt = &now
	c.RevokeReason = reason
	c.SupersededBy = supersededBy
}

func (c *Credential) CanPrint() error {
	if c.IsRevoked() {
		return dErrors.New(dErrors.CodeInvariantViolation, "revoked credentials cannot be printed")
	}
	return nil
}
