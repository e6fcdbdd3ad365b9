// Package rendering turns a credential payload into a stored document and
// returns a reference to it. Layout lives with the renderer, not here.
package rendering

import (
	"context"
	"errors"
	"time"
)

// ErrRendering marks every renderer failure.
var ErrRendering = errors.New("rendering failed")

// Reference locates a rendered document.
type Reference string

func (r Reference) String() string { return string(r) }

// SubjectLine is one row of a transcript.
type SubjectLine struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
}

// Payload is everything printed on a certificate or transcript.
type Payload struct {
	Kind             string        `json:"kind"`
	DocumentNumber   string        `json:"document_number"`
	VerifyURL        string        `json:"verify_url"`
	StudentName      string        `json:"student_name"`
	StudentNameAr    string        `json:"student_name_ar,omitempty"`
	IndexNumber      string        `json:"index_number"`
	SchoolName       string        `json:"school_name"`
	ExamYear         int           `json:"exam_year"`
	GradeLevel       int           `json:"grade_level"`
	Percentage       float64       `json:"percentage"`
	GradeLabel       string        `json:"grade_label"`
	GradeLabelArabic string        `json:"grade_label_ar"`
	Subjects         []SubjectLine `json:"subjects,omitempty"`
	IssuedAt         time.Time     `json:"issued_at"`
}

// Renderer produces a document for a payload.
type Renderer interface {
	Render(ctx context.Context, p Payload) (Reference, error)
}
