package handler

import (
	"time"

	"examboard/internal/invoice/models"
	"examboard/pkg/batch"
)

type Response struct {
	ID                string     `json:"id"`
	SchoolID          string     `json:"school_id"`
	ExamYearID        string     `json:"exam_year_id"`
	Status            string     `json:"status"`
	TotalStudents     int        `json:"total_students"`
	FeePerStudent     int64      `json:"fee_per_student"`
	TotalAmount       int64      `json:"total_amount"`
	Currency          string     `json:"currency"`
	PaymentMethod     string     `json:"payment_method,omitempty"`
	BankSlipReference string     `json:"bank_slip_reference,omitempty"`
	SlipRejection     string     `json:"slip_rejection,omitempty"`
	PaidAmount        *int64     `json:"paid_amount,omitempty"`
	PaymentDate       *time.Time `json:"payment_date,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	Version           int        `json:"version"`
}

type ConfirmResponse struct {
	Invoice  Response     `json:"invoice"`
	Approval batch.Report `json:"approval"`
}

func toResponse(inv *models.Invoice) Response {
	return Response{
		ID:                inv.ID.String(),
		SchoolID:          inv.SchoolID.String(),
		ExamYearID:        inv.ExamYearID.String(),
		Status:            inv.Status.String(),
		TotalStudents:     inv.TotalStudents,
		FeePerStudent:     inv.FeePerStudent,
		TotalAmount:       inv.TotalAmount,
		Currency:          inv.Currency,
		PaymentMethod:     inv.PaymentMethod,
		BankSlipReference: inv.BankSlipReference,
		SlipRejection:     inv.SlipRejection,
		PaidAmount:        inv.PaidAmount,
		PaymentDate:       inv.PaymentDate,
		ConfirmedAt:       inv.ConfirmedAt,
		Version:           inv.Version,
	}
}
