package results

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	txcontext "examboard/pkg/platform/tx"
	"examboard/pkg/requestcontext"
	"examboard/pkg/testutil"
)

func TestDigest_IgnoresOrderTracksScores(t *testing.T) {
	a := Result{SubjectCode: "QURAN", Score: 80, MaxScore: 100}
	b := Result{SubjectCode: "FIQH", Score: 45, MaxScore: 50}

	assert.Equal(t, Digest([]Result{a, b}), Digest([]Result{b, a}))
	assert.Len(t, Digest([]Result{a}), 64)

	corrected := a
	corrected.Score = 81
	assert.NotEqual(t, Digest([]Result{a, b}), Digest([]Result{corrected, b}))
}

func TestService_RecordAndPublish(t *testing.T) {
	at := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	svc := NewService(NewInMemory(), nil)
	year := id.ExamYearID(uuid.New())
	published := id.StudentID(uuid.New())
	draft := id.StudentID(uuid.New())

	for _, sid := range []id.StudentID{published, draft} {
		_, err := svc.Record(ctx, RecordRequest{StudentID: sid, ExamYearID: year, SubjectCode: "quran", Score: 70, MaxScore: 100})
		require.NoError(t, err)
		_, err = svc.Record(ctx, RecordRequest{StudentID: sid, ExamYearID: year, SubjectCode: "hadith", Score: 40, MaxScore: 50})
		require.NoError(t, err)
	}

	testutil.When(t, "one student's results are published", func(t *testing.T) {
		n, err := svc.Publish(ctx, year, []id.StudentID{published})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	testutil.Then(t, "only published results are visible to issuance", func(t *testing.T) {
		rs, err := svc.Published(ctx, published, year)
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.Equal(t, "HADITH", rs[0].SubjectCode)
		assert.True(t, at.Equal(*rs[0].PublishedAt))

		none, err := svc.Published(ctx, draft, year)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	testutil.Then(t, "a correction keeps the result published and changes the digest", func(t *testing.T) {
		before, err := svc.Published(ctx, published, year)
		require.NoError(t, err)
		_, err = svc.Record(ctx, RecordRequest{StudentID: published, ExamYearID: year, SubjectCode: "QURAN", Score: 75, MaxScore: 100})
		require.NoError(t, err)
		after, err := svc.Published(ctx, published, year)
		require.NoError(t, err)
		require.Len(t, after, 2)
		assert.Equal(t, before[1].ID, after[1].ID)
		assert.NotEqual(t, Digest(before), Digest(after))
	})
}

func TestService_PublishSurvivesConcurrentFailedUnit(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewInMemory(), nil)
	runner := txcontext.NewMemoryRunner()
	year := id.ExamYearID(uuid.New())
	student := id.StudentID(uuid.New())
	_, err := svc.Record(ctx, RecordRequest{StudentID: student, ExamYearID: year, SubjectCode: "quran", Score: 70, MaxScore: 100})
	require.NoError(t, err)

	unitOpen := make(chan struct{})
	published := make(chan int)
	go func() {
		<-unitOpen
		n, err := svc.Publish(ctx, year, []id.StudentID{student})
		assert.NoError(t, err)
		published <- n
	}()

	err = runner.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := svc.Record(txCtx, RecordRequest{StudentID: id.StudentID(uuid.New()), ExamYearID: year, SubjectCode: "fiqh", Score: 30, MaxScore: 50})
		require.NoError(t, err)
		close(unitOpen)
		assert.Equal(t, 1, <-published)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	rs, err := svc.Published(ctx, student, year)
	require.NoError(t, err)
	require.Len(t, rs, 1, "publication made outside the failed unit is kept")
	assert.Equal(t, "QURAN", rs[0].SubjectCode)
}

func TestRecordRequest_Validate(t *testing.T) {
	base := RecordRequest{StudentID: id.StudentID(uuid.New()), ExamYearID: id.ExamYearID(uuid.New()), SubjectCode: "FIQH", Score: 10, MaxScore: 20}
	require.NoError(t, base.Validate())

	over := base
	over.Score = 21
	assert.True(t, dErrors.Is(over.Validate(), dErrors.CodeValidation))

	blank := base
	blank.SubjectCode = " "
	assert.True(t, dErrors.Is(blank.Validate(), dErrors.CodeValidation))
}
