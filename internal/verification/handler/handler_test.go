package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examboard/internal/verification"
	dErrors "examboard/pkg/domain-errors"
)

type stubService map[string]verification.Result

func (s stubService) Verify(_ context.Context, token, kind string) (verification.Result, error) {
	if kind == "diploma" {
		return verification.Result{}, dErrors.New(dErrors.CodeBadRequest, "kind must be certificate or transcript")
	}
	if res, ok := s[token]; ok {
		return res, nil
	}
	return verification.Result{Valid: false, Status: verification.StatusNotFound}, nil
}

func get(t *testing.T, svc Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleVerify(t *testing.T) {
	svc := stubService{
		"good": {Valid: true, Status: verification.StatusValid, Summary: &verification.Summary{
			DocumentNumber: "CERT-2026-00000042",
			Kind:           "certificate",
			HolderName:     "Fatuma N.",
			GradeLevel:     12,
			ExamYear:       2026,
			Classification: "excellent",
			IssuedOn:       time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC),
		}},
		"revoked": {Valid: false, Status: verification.StatusRevoked},
	}

	rec := get(t, svc, "/verify/good?kind=certificate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), `"holder_name":"Fatuma N."`)

	rec = get(t, svc, "/verify/revoked")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false,"status":"revoked"}`, rec.Body.String())

	unknown := get(t, svc, "/verify/unknown")
	malformed := get(t, svc, "/verify/%25%25")
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, unknown.Code, malformed.Code)
	assert.Equal(t, unknown.Body.String(), malformed.Body.String())

	rec = get(t, svc, "/verify/good?kind=diploma")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
