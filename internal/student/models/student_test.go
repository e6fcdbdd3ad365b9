package models

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
)

func newPending(t *testing.T) *Student {
	t.Helper()
	s, err := NewStudent(id.StudentID(uuid.New()), Cohort{
		SchoolID:   id.SchoolID(uuid.New()),
		ExamYearID: id.ExamYearID(uuid.New()),
	}, " Amina ", "Nakato", 7, time.Now())
	require.NoError(t, err)
	return s
}

func TestNewStudent(t *testing.T) {
	s := newPending(t)
	assert.Equal(t, "Amina", s.FirstName)
	assert.Equal(t, StatusPending, s.Status)
	assert.False(t, s.HasIndexNumber())

	_, err := NewStudent(id.StudentID(uuid.New()), Cohort{}, "A", "B", 1, time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestStudentTransitions(t *testing.T) {
	now := time.Now()

	t.Run("pending can be approved once", func(t *testing.T) {
		s := newPending(t)
		require.NoError(t, s.CanApprove())
		s.ApplyApproval(now)
		assert.Equal(t, StatusApproved, s.Status)
		assert.Error(t, s.CanApprove())
		assert.Error(t, s.CanReject())
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		s := newPending(t)
		require.NoError(t, s.CanReject())
		s.ApplyRejection("duplicate registration", now)
		assert.Equal(t, "duplicate registration", s.RejectionReason)
		assert.Error(t, s.CanApprove())
	})

	t.Run("index number requires approval and is set once", func(t *testing.T) {
		s := newPending(t)
		assert.Error(t, s.CanAssignIndexNumber())
		s.ApplyApproval(now)
		require.NoError(t, s.CanAssignIndexNumber())
		s.ApplyIndexNumber("123456", now)
		assert.Error(t, s.CanAssignIndexNumber())
	})
}

func TestParseIndexNumber(t *testing.T) {
	for _, ok := range []string{"100000", "999999", "543210"} {
		_, err := ParseIndexNumber(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "099999", "1000000", "12a456", "-12345"} {
		_, err := ParseIndexNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestDrawIndexNumber(t *testing.T) {
	for i := 0; i < 200; i++ {
		n, err := DrawIndexNumber(nil)
		require.NoError(t, err)
		_, err = ParseIndexNumber(n.String())
		require.NoError(t, err, "drew %s", n)
	}

	// an all-zero reader yields the lower bound
	n, err := DrawIndexNumber(bytes.NewReader(make([]byte, 64)))
	require.NoError(t, err)
	assert.Equal(t, IndexNumber("100000"), n)
}
