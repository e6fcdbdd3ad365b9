// Package batch folds per-item outcomes of a bulk operation into one report.
//
// Bulk approval, index allocation and credential issuance all process a cohort
// one item at a time: a failure is recorded and the batch moves on.
package batch

import (
	"context"
	"errors"
	"fmt"

	dErrors "examboard/pkg/domain-errors"
)

// Entry describes a skipped or failed item.
type Entry struct {
	ID     string       `json:"id"`
	Reason string       `json:"reason"`
	Code   dErrors.Code `json:"code,omitempty"`
}

// Report is the outcome of a bulk operation.
type Report struct {
	Succeeded []string `json:"succeeded"`
	Skipped   []Entry  `json:"skipped"`
	Failed    []Entry  `json:"failed"`
}

// Total returns the number of items folded into the report.
func (r Report) Total() int {
	return len(r.Succeeded) + len(r.Skipped) + len(r.Failed)
}

func (r *Report) Succeed(id string) {
	r.Succeeded = append(r.Succeeded, id)
}

func (r *Report) Skip(id, reason string) {
	r.Skipped = append(r.Skipped, Entry{ID: id, Reason: reason})
}

// Fail records err against id. Internal errors are reported generically.
func (r *Report) Fail(id string, err error) {
	code := dErrors.CodeOf(err)
	reason := "internal error"
	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		reason = de.Message
	}
	r.Failed = append(r.Failed, Entry{ID: id, Reason: reason, Code: code})
}

type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "skipped: " + e.reason }

// Skip is returned by a Fold step to mark the item as skipped rather than failed.
func Skip(reason string) error {
	return &skipError{reason: reason}
}

// IsSkip reports whether err marks a skipped item, returning its reason.
func IsSkip(err error) (string, bool) {
	var se *skipError
	if errors.As(err, &se) {
		return se.reason, true
	}
	return "", false
}

// Fold runs step for every item in order. Cancelling ctx after the batch has
// started does not abandon the remaining items.
func Fold[T fmt.Stringer](ctx context.Context, items []T, step func(ctx context.Context, item T) error) Report {
	ctx = context.WithoutCancel(ctx)
	report := Report{
		Succeeded: []string{},
		Skipped:   []Entry{},
		Failed:    []Entry{},
	}
	for _, item := range items {
		id := item.String()
		err := step(ctx, item)
		if err == nil {
			report.Succeed(id)
			continue
		}
		if reason, ok := IsSkip(err); ok {
			report.Skip(id, reason)
			continue
		}
		report.Fail(id, err)
	}
	return report
}
