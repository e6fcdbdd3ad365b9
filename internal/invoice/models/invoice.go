package models

import (
	"strings"
	"time"

	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
)

// Status is the payment lifecycle of a cohort invoice.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPaid:
		return true
	}
	return false
}

// Invoice bills one school for one exam year.
//
// Invariants:
//   - One invoice per (school, exam year)
//   - Totals change only while pending
//   - paid is reached only from processing
//   - Version increases on every stored change
type Invoice struct {
	ID                id.InvoiceID
	SchoolID          id.SchoolID
	ExamYearID        id.ExamYearID
	TotalStudents     int
	FeePerStudent     int64
	TotalAmount       int64
	Currency          string
	Status            Status
	PaymentMethod     string
	BankSlipReference string
	SlipSubmittedAt   *time.Time
	SlipRejection     string
	PaidAmount        *int64
	PaymentDate       *time.Time
	ConfirmedBy       *id.UserID
	ConfirmedAt       *time.Time
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SlipEvidence is the payment proof a school attaches.
type SlipEvidence struct {
	PaymentMethod     string
	BankSlipReference string
}

func (e SlipEvidence) Validate() error {
	if strings.TrimSpace(e.PaymentMethod) == "" {
		return dErrors.New(dErrors.CodeValidation, "payment method is required")
	}
	if strings.TrimSpace(e.BankSlipReference) == "" {
		return dErrors.New(dErrors.CodeValidation, "bank slip reference is required")
	}
	return nil
}

// Confirmation is a reviewer's acceptance of an attached slip.
type Confirmation struct {
	PaidAmount  int64
	PaymentDate time.Time
	ConfirmedBy id.UserID
}

func (c Confirmation) Validate() error {
	if c.PaidAmount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "paid amount must be positive")
	}
	if c.PaymentDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "payment date is required")
	}
	if c.ConfirmedBy.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "confirming reviewer is required")
	}
	return nil
}

func NewInvoice(invoiceID id.InvoiceID, schoolID id.SchoolID, examYearID id.ExamYearID, students int, feePerStudent int64, currency string, now time.Time) (*Invoice, error) {
	if invoiceID.IsNil() || schoolID.IsNil() || examYearID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invoice, school and exam year ids are required")
	}
	if feePerStudent <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "fee per student must be positive")
	}
	if students < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "student count cannot be negative")
	}
	return &Invoice{
		ID:            invoiceID,
		SchoolID:      schoolID,
		ExamYearID:    examYearID,
		TotalStudents: students,
		FeePerStudent: feePerStudent,
		TotalAmount:   int64(students) * feePerStudent,
		Currency:      currency,
		Status:        StatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (inv *Invoice) IsPaid() bool { return inv.Status == StatusPaid }

// CanRecompute allows line-item regeneration only while pending; processing
// and paid invoices are frozen financial records.
func (inv *Invoice) CanRecompute() error {
	if inv.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice is "+inv.Status.String()+" and can no longer be recomputed")
	}
	return nil
}

func (inv *Invoice) ApplyRecompute(students int, feePerStudent int64, now time.Time) {
	inv.TotalStudents = students
	inv.FeePerStudent = feePerStudent
	inv.TotalAmount = int64(students) * feePerStudent
	inv.UpdatedAt = now
}

// CanAttachSlip allows pending→processing and a slip replacement while
// processing.
func (inv *Invoice) CanAttachSlip() error {
	if inv.Status == StatusPaid {
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice is already paid")
	}
	return nil
}

func (inv *Invoice) ApplyAttachSlip(ev SlipEvidence, now time.Time) {
	inv.Status = StatusProcessing
	inv.PaymentMethod = strings.TrimSpace(ev.PaymentMethod)
	inv.BankSlipReference = strings.TrimSpace(ev.BankSlipReference)
	inv.SlipSubmittedAt = &now
	inv.SlipRejection = ""
	inv.UpdatedAt = now
}

// CanRejectSlip allows a reviewer to send a processing invoice back to pending.
func (inv *Invoice) CanRejectSlip() error {
	if inv.Status != StatusProcessing {
		return dErrors.New(dErrors.CodeInvariantViolation, "only an invoice with an attached slip can have it rejected")
	}
	return nil
}

func (inv *Invoice) ApplyRejectSlip(reason string, now time.Time) {
	inv.Status = StatusPending
	inv.SlipRejection = reason
	inv.BankSlipReference = ""
	inv.PaymentMethod = ""
	inv.SlipSubmittedAt = nil
	inv.UpdatedAt = now
}

// CanConfirm allows processing→paid only; pending and paid are rejected.
func (inv *Invoice) CanConfirm() error {
	switch inv.Status {
	case StatusProcessing:
		return nil
	case StatusPaid:
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice is already paid")
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice has no attached payment slip")
	}
}

func (inv *Invoice) ApplyConfirm(c Confirmation, now time.Time) {
	inv.Status = StatusPaid
	amount := c.PaidAmount
	inv.PaidAmount = &amount
	date := c.PaymentDate
	inv.PaymentDate = &date
	by := c.ConfirmedBy
	inv.ConfirmedBy = &by
	inv.ConfirmedAt = &now
	inv.UpdatedAt = now
}
