package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"examboard/internal/student/models"
	id "examboard/pkg/domain"
	"examboard/pkg/platform/httputil"
	"examboard/pkg/requestcontext"
)

type Service interface {
	Approve(ctx context.Context, studentID id.StudentID) (*models.Student, error)
	Reject(ctx context.Context, studentID id.StudentID, reason string) (*models.Student, error)
}

// Handler serves the administrative single-student corrections.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/students/{id}/approve", h.HandleApprove)
	r.Post("/admin/students/{id}/reject", h.HandleReject)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	studentID, err := id.ParseStudentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	st, err := h.service.Approve(ctx, studentID)
	if err != nil {
		h.logger.WarnContext(ctx, "student approval failed",
			"request_id", requestcontext.RequestID(ctx),
			"student_id", studentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(st))
}

// RejectRequest is the body of POST /admin/students/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *RejectRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *RejectRequest) Validate() error {
	return httputil.ValidateStruct(r)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	studentID, err := id.ParseStudentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	st, err := h.service.Reject(ctx, studentID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "student rejection failed",
			"request_id", requestID,
			"student_id", studentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(st))
}

// Response is the administrative view of a student. Contact details are
// deliberately absent.
type Response struct {
	ID              string     `json:"id"`
	SchoolID        string     `json:"school_id"`
	ExamYearID      string     `json:"exam_year_id"`
	Name            string     `json:"name"`
	Grade           int        `json:"grade"`
	Status          string     `json:"status"`
	IndexNumber     string     `json:"index_number,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

func toResponse(st *models.Student) Response {
	resp := Response{
		ID:              st.ID.String(),
		SchoolID:        st.SchoolID.String(),
		ExamYearID:      st.ExamYearID.String(),
		Name:            st.FullName(),
		Grade:           st.Grade,
		Status:          st.Status.String(),
		ApprovedAt:      st.ApprovedAt,
		RejectedAt:      st.RejectedAt,
		RejectionReason: st.RejectionReason,
	}
	if st.IndexNumber != nil {
		resp.IndexNumber = st.IndexNumber.String()
	}
	return resp
}
