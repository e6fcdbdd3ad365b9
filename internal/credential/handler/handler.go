package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"examboard/internal/credential/models"
	"examboard/internal/credential/service"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/httputil"
	platformstrings "examboard/pkg/platform/strings"
	"examboard/pkg/requestcontext"
)

type Service interface {
	Get(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	IssueBatch(ctx context.Context, kind models.Kind, studentIDs []id.StudentID, examYearID id.ExamYearID) batch.Report
	IssueForSchool(ctx context.Context, kind models.Kind, schoolID id.SchoolID, examYearID id.ExamYearID) (batch.Report, error)
	Reissue(ctx context.Context, credentialID id.CredentialID, reason string) (*models.Credential, error)
	Revoke(ctx context.Context, credentialID id.CredentialID, reason string) (*models.Credential, error)
	RecordPrint(ctx context.Context, credentialID id.CredentialID) (int, error)
	CheckStale(ctx context.Context, credentialID id.CredentialID) (bool, error)
}

var _ Service = (*service.Service)(nil)

// Handler serves credential administration.
type Handler struct {
	service   Service
	logger    *slog.Logger
	verifyURL string
}

func New(service Service, logger *slog.Logger, verifyURL string) *Handler {
	return &Handler{service: service, logger: logger, verifyURL: strings.TrimRight(verifyURL, "/")}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/credentials", h.HandleIssue)
	r.Post("/admin/credentials/school", h.HandleIssueForSchool)
	r.Get("/admin/credentials/{id}", h.HandleGet)
	r.Post("/admin/credentials/{id}/reissue", h.HandleReissue)
	r.Post("/admin/credentials/{id}/revoke", h.HandleRevoke)
	r.Post("/admin/credentials/{id}/print", h.HandlePrint)
	r.Get("/admin/credentials/{id}/stale", h.HandleStale)
}

const maxBatchSize = 1000

// IssueRequest is the body of POST /admin/credentials.
type IssueRequest struct {
	Kind       string   `json:"kind"`
	ExamYearID string   `json:"exam_year_id"`
	StudentIDs []string `json:"student_ids"`

	kind       models.Kind
	examYearID id.ExamYearID
	studentIDs []id.StudentID
}

func (r *IssueRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.ExamYearID = strings.TrimSpace(r.ExamYearID)
	r.StudentIDs = platformstrings.DedupeAndTrim(r.StudentIDs)
}

func (r *IssueRequest) Validate() error {
	var err error
	if r.kind, err = models.ParseKind(r.Kind); err != nil {
		return err
	}
	if r.examYearID, err = id.ParseExamYearID(r.ExamYearID); err != nil {
		return err
	}
	if len(r.StudentIDs) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "student_ids is required")
	}
	if len(r.StudentIDs) > maxBatchSize {
		return dErrors.New(dErrors.CodeBadRequest, "too many student_ids")
	}
	r.studentIDs = make([]id.StudentID, 0, len(r.StudentIDs))
	for _, raw := range r.StudentIDs {
		studentID, err := id.ParseStudentID(raw)
		if err != nil {
			return err
		}
		r.studentIDs = append(r.studentIDs, studentID)
	}
	return nil
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report := h.service.IssueBatch(ctx, req.kind, req.studentIDs, req.examYearID)
	h.logger.InfoContext(ctx, "credential batch processed",
		"request_id", requestID,
		"kind", req.kind,
		"succeeded", len(report.Succeeded),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}

// SchoolRequest is the body of POST /admin/credentials/school.
type SchoolRequest struct {
	Kind       string `json:"kind"`
	SchoolID   string `json:"school_id"`
	ExamYearID string `json:"exam_year_id"`

	kind       models.Kind
	schoolID   id.SchoolID
	examYearID id.ExamYearID
}

func (r *SchoolRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	r.SchoolID = strings.TrimSpace(r.SchoolID)
	r.ExamYearID = strings.TrimSpace(r.ExamYearID)
}

func (r *SchoolRequest) Validate() error {
	var err error
	if r.kind, err = models.ParseKind(r.Kind); err != nil {
		return err
	}
	if r.schoolID, err = id.ParseSchoolID(r.SchoolID); err != nil {
		return err
	}
	if r.examYearID, err = id.ParseExamYearID(r.ExamYearID); err != nil {
		return err
	}
	return nil
}

func (h *Handler) HandleIssueForSchool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[SchoolRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report, err := h.service.IssueForSchool(ctx, req.kind, req.schoolID, req.examYearID)
	if err != nil {
		h.fail(ctx, w, "school issuance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), credentialID)
	h.respond(w, r, "get", c, err)
}

// ReasonRequest is the body of the reissue and revoke endpoints.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *ReasonRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *ReasonRequest) Validate() error {
	return httputil.ValidateStruct(r)
}

func (h *Handler) HandleReissue(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "reissue", h.service.Reissue)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, "revoke", h.service.Revoke)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, id.CredentialID, string) (*models.Credential, error),
) {
	ctx := r.Context()
	credentialID, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReasonRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := fn(ctx, credentialID, req.Reason)
	h.respond(w, r, op, c, err)
}

func (h *Handler) HandlePrint(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	n, err := h.service.RecordPrint(r.Context(), credentialID)
	if err != nil {
		h.fail(r.Context(), w, "print", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"print_count": n})
}

func (h *Handler) HandleStale(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	stale, err := h.service.CheckStale(r.Context(), credentialID)
	if err != nil {
		h.fail(r.Context(), w, "stale check", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"stale": stale})
}

func (h *Handler) credentialID(w http.ResponseWriter, r *http.Request) (id.CredentialID, bool) {
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return credentialID, false
	}
	return credentialID, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, c *models.Credential, err error) {
	if err != nil {
		h.fail(r.Context(), w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c, h.verifyURL))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, "credential "+op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
