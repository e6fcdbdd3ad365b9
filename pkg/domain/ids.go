// Package domain holds typed identifiers shared across the board's modules.
//
// Each entity gets its own UUID-backed type so a student ID can never be passed
// where an invoice ID is expected.
package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "examboard/pkg/domain-errors"
)

type (
	StudentID    uuid.UUID
	SchoolID     uuid.UUID
	ExamYearID   uuid.UUID
	InvoiceID    uuid.UUID
	CredentialID uuid.UUID
	ResultID     uuid.UUID
	UserID       uuid.UUID
)

func (id StudentID) String() string    { return uuid.UUID(id).String() }
func (id SchoolID) String() string     { return uuid.UUID(id).String() }
func (id ExamYearID) String() string   { return uuid.UUID(id).String() }
func (id InvoiceID) String() string    { return uuid.UUID(id).String() }
func (id CredentialID) String() string { return uuid.UUID(id).String() }
func (id ResultID) String() string     { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }

func (id StudentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SchoolID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ExamYearID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id InvoiceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CredentialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ResultID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// Value implementations let typed IDs be passed straight to database/sql.
func (id StudentID) Value() (driver.Value, error)    { return id.String(), nil }
func (id SchoolID) Value() (driver.Value, error)     { return id.String(), nil }
func (id ExamYearID) Value() (driver.Value, error)   { return id.String(), nil }
func (id InvoiceID) Value() (driver.Value, error)    { return id.String(), nil }
func (id CredentialID) Value() (driver.Value, error) { return id.String(), nil }
func (id ResultID) Value() (driver.Value, error)     { return id.String(), nil }
func (id UserID) Value() (driver.Value, error)       { return id.String(), nil }

func (id *StudentID) Scan(src any) error    { return scanUUID((*uuid.UUID)(id), src) }
func (id *SchoolID) Scan(src any) error     { return scanUUID((*uuid.UUID)(id), src) }
func (id *ExamYearID) Scan(src any) error   { return scanUUID((*uuid.UUID)(id), src) }
func (id *InvoiceID) Scan(src any) error    { return scanUUID((*uuid.UUID)(id), src) }
func (id *CredentialID) Scan(src any) error { return scanUUID((*uuid.UUID)(id), src) }
func (id *ResultID) Scan(src any) error     { return scanUUID((*uuid.UUID)(id), src) }
func (id *UserID) Scan(src any) error       { return scanUUID((*uuid.UUID)(id), src) }

func scanUUID(dst *uuid.UUID, src any) error {
	if src == nil {
		*dst = uuid.Nil
		return nil
	}
	return dst.Scan(src)
}

// maxIDLength bounds input before it reaches uuid.Parse; the longest accepted
// form is the 45-byte urn:uuid: prefix variant.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" || strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s", kind))
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

func ParseStudentID(s string) (StudentID, error) {
	u, err := parseUUID("student id", s)
	return StudentID(u), err
}

func ParseSchoolID(s string) (SchoolID, error) {
	u, err := parseUUID("school id", s)
	return SchoolID(u), err
}

func ParseExamYearID(s string) (ExamYearID, error) {
	u, err := parseUUID("exam year id", s)
	return ExamYearID(u), err
}

func ParseInvoiceID(s string) (InvoiceID, error) {
	u, err := parseUUID("invoice id", s)
	return InvoiceID(u), err
}

func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parseUUID("credential id", s)
	return CredentialID(u), err
}

func ParseResultID(s string) (ResultID, error) {
	u, err := parseUUID("result id", s)
	return ResultID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}
