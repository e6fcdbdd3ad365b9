package handler

import (
	"time"

	"examboard/internal/credential/models"
)

// Response is the administrative view of a credential. The verification
// address carries the token; the token itself is never returned on its own.
type Response struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	StudentID       string     `json:"student_id"`
	ExamYearID      string     `json:"exam_year_id"`
	DocumentNumber  string     `json:"document_number"`
	VerificationURL string     `json:"verification_url"`
	Status          string     `json:"status"`
	Percentage      float64    `json:"percentage"`
	Grade           string     `json:"grade"`
	GradeArabic     string     `json:"grade_arabic"`
	PDFReference    string     `json:"pdf_reference"`
	PrintCount      int        `json:"print_count"`
	IssuedAt        time.Time  `json:"issued_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokeReason    string     `json:"revoke_reason,omitempty"`
	SupersededBy    string     `json:"superseded_by,omitempty"`
}

func toResponse(c *models.Credential, verifyURL string) Response {
	resp := Response{
		ID:              c.ID.String(),
		Kind:            c.Kind.String(),
		StudentID:       c.StudentID.String(),
		ExamYearID:      c.ExamYearID.String(),
		DocumentNumber:  c.DocumentNumber.String(),
		VerificationURL: verifyURL + "/" + c.VerificationToken.Raw() + "?kind=" + c.Kind.String(),
		Status:          c.StatusAt(time.Now()).String(),
		Percentage:      c.Percentage,
		Grade:           c.Grade.Label,
		GradeArabic:     c.Grade.LabelArabic,
		PDFReference:    c.PDFReference,
		PrintCount:      c.PrintCount,
		IssuedAt:        c.IssuedAt,
		ExpiresAt:       c.ExpiresAt,
		RevokedAt:       c.RevokedAt,
		RevokeReason:    c.RevokeReason,
	}
	if c.SupersededBy != nil {
		resp.SupersededBy = c.SupersededBy.String()
	}
	return resp
}
