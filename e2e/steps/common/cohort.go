package common

import (
	id "examboard/pkg/domain"
)

// Cohort is the scenario's school and exam year and what has happened to its
// students so far.
type Cohort struct {
	SchoolID   id.SchoolID
	ExamYearID id.ExamYearID
	Year       int
	Students   []id.StudentID
	Published  []id.StudentID
	InvoiceID  string
}
