// Package grading maps an overall percentage to the board's fixed grade table.
package grading

import (
	"math"

	dErrors "examboard/pkg/domain-errors"
)

type Classification string

const (
	Excellent Classification = "excellent"
	VeryGood  Classification = "very_good"
	Good      Classification = "good"
	Pass      Classification = "pass"
	Fail      Classification = "fail"
)

// Passed reports whether the classification earns a certificate.
func (c Classification) Passed() bool { return c != Fail }

// Grade is the final grade printed on a credential.
type Grade struct {
	Label          string         `json:"label"`
	LabelArabic    string         `json:"label_arabic"`
	Classification Classification `json:"classification"`
}

type band struct {
	min   float64
	grade Grade
}

// bands is ordered from the highest threshold down.
var bands = []band{
	{85, Grade{Label: "Excellent", LabelArabic: "ممتاز", Classification: Excellent}},
	{75, Grade{Label: "Very Good", LabelArabic: "جيد جدا", Classification: VeryGood}},
	{65, Grade{Label: "Good", LabelArabic: "جيد", Classification: Good}},
	{50, Grade{Label: "Pass", LabelArabic: "مقبول", Classification: Pass}},
}

var failing = Grade{Label: "Fail", LabelArabic: "راسب", Classification: Fail}

// ForPercentage returns the grade for a percentage in [0, 100].
func ForPercentage(pct float64) (Grade, error) {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return Grade{}, dErrors.New(dErrors.CodeValidation, "percentage must be between 0 and 100")
	}
	for _, b := range bands {
		if pct >= b.min {
			return b.grade, nil
		}
	}
	return failing, nil
}

// Mark is one scored subject.
type Mark struct {
	Score    float64
	MaxScore float64
}

// Percentage is the total score over the total maximum, rounded to two
// decimals.
func Percentage(marks []Mark) (float64, error) {
	if len(marks) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "no marks to grade")
	}
	var score, total float64
	for _, m := range marks {
		if m.MaxScore <= 0 || m.Score < 0 || m.Score > m.MaxScore {
			return 0, dErrors.New(dErrors.CodeValidation, "mark out of range")
		}
		score += m.Score
		total += m.MaxScore
	}
	return math.Round(score/total*10000) / 100, nil
}
