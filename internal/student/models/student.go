package models

import (
	"strings"
	"time"

	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
)

// Status is the registration lifecycle of a student.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. Approved and rejected
// are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusApproved || next == StatusRejected)
}

func (s Status) String() string { return string(s) }

// Cohort is the set of students of one school sitting one exam year.
type Cohort struct {
	SchoolID   id.SchoolID
	ExamYearID id.ExamYearID
}

// Student is a registered candidate.
//
// Invariants:
//   - IndexNumber is set at most once and never changes afterwards
//   - IndexNumber is only assigned to approved students
//   - Email and Phone never leave through the public verification surface
type Student struct {
	ID              id.StudentID
	SchoolID        id.SchoolID
	ExamYearID      id.ExamYearID
	FirstName       string
	LastName        string
	NameArabic      string
	Email           string
	Phone           string
	Grade           int
	Status          Status
	IndexNumber     *IndexNumber
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewStudent creates a pending student.
func NewStudent(studentID id.StudentID, cohort Cohort, firstName, lastName string, grade int, now time.Time) (*Student, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if studentID.IsNil() || cohort.SchoolID.IsNil() || cohort.ExamYearID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "student, school and exam year ids are required")
	}
	if firstName == "" || lastName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "student name is required")
	}
	if grade < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grade must be positive")
	}
	return &Student{
		ID:         studentID,
		SchoolID:   cohort.SchoolID,
		ExamYearID: cohort.ExamYearID,
		FirstName:  firstName,
		LastName:   lastName,
		Grade:      grade,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Student) Cohort() Cohort {
	return Cohort{SchoolID: s.SchoolID, ExamYearID: s.ExamYearID}
}

func (s *Student) IsApproved() bool { return s.Status == StatusApproved }

func (s *Student) HasIndexNumber() bool { return s.IndexNumber != nil }

func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

func (s *Student) CanApprove() error {
	if !s.Status.CanTransitionTo(StatusApproved) {
		return dErrors.New(dErrors.CodeInvariantViolation, "student is already "+s.Status.String())
	}
	return nil
}

func (s *Student) ApplyApproval(now time.Time) {
	s.Status = StatusApproved
	s.ApprovedAt = &now
	s.UpdatedAt = now
}

func (s *Student) CanReject() error {
	if !s.Status.CanTransitionTo(StatusRejected) {
		return dErrors.New(dErrors.CodeInvariantViolation, "student is already "+s.Status.String())
	}
	return nil
}

func (s *Student) ApplyRejection(reason string, now time.Time) {
	s.Status = StatusRejected
	s.RejectedAt = &now
	s.RejectionReason = reason
	s.UpdatedAt = now
}

// CanAssignIndexNumber checks the student-local half of allocation
// eligibility. The payment gate is checked by the allocator.
func (s *Student) CanAssignIndexNumber() error {
	if s.HasIndexNumber() {
		return dErrors.New(dErrors.CodeInvariantViolation, "student already has an index number")
	}
	if !s.IsApproved() {
		return dErrors.New(dErrors.CodeInvariantViolation, "student is not approved")
	}
	return nil
}

func (s *Student) ApplyIndexNumber(n IndexNumber, now time.Time) {
	s.IndexNumber = &n
	s.UpdatedAt = now
}
