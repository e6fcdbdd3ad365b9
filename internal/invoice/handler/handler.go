package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"examboard/internal/invoice/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/platform/httputil"
	"examboard/pkg/requestcontext"
)

type Service interface {
	Generate(ctx context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error)
	Recompute(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	AttachSlip(ctx context.Context, invoiceID id.InvoiceID, ev models.SlipEvidence) (*models.Invoice, error)
	RejectSlip(ctx context.Context, invoiceID id.InvoiceID, reason string) (*models.Invoice, error)
}

// CohortService runs the payment-triggered approval of a cohort.
type CohortService interface {
	ConfirmAndApprove(ctx context.Context, invoiceID id.InvoiceID, c models.Confirmation) (*models.Invoice, batch.Report, error)
	BulkApprove(ctx context.Context, invoiceID id.InvoiceID) (batch.Report, error)
}

type Handler struct {
	invoices Service
	cohorts  CohortService
	logger   *slog.Logger
}

func New(invoices Service, cohorts CohortService, logger *slog.Logger) *Handler {
	return &Handler{invoices: invoices, cohorts: cohorts, logger: logger}
}

// Register mounts the routes reserved to board administrators.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/invoices", h.HandleGenerate)
	r.Post("/admin/invoices/{id}/recompute", h.HandleRecompute)
	r.Post("/admin/invoices/{id}/approve-students", h.HandleApproveStudents)
}

// RegisterFinance mounts the payment routes finance staff may also use.
func (h *Handler) RegisterFinance(r chi.Router) {
	r.Post("/admin/invoices/{id}/slip", h.HandleAttachSlip)
	r.Post("/admin/invoices/{id}/reject-slip", h.HandleRejectSlip)
	r.Post("/admin/invoices/{id}/confirm", h.HandleConfirm)
}

type GenerateRequest struct {
	SchoolID   string `json:"school_id"`
	ExamYearID string `json:"exam_year_id"`

	schoolID   id.SchoolID
	examYearID id.ExamYearID
}

func (r *GenerateRequest) Normalize() {
	r.SchoolID = strings.TrimSpace(r.SchoolID)
	r.ExamYearID = strings.TrimSpace(r.ExamYearID)
}

func (r *GenerateRequest) Validate() error {
	var err error
	if r.schoolID, err = id.ParseSchoolID(r.SchoolID); err != nil {
		return err
	}
	if r.examYearID, err = id.ParseExamYearID(r.ExamYearID); err != nil {
		return err
	}
	return nil
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[GenerateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	inv, err := h.invoices.Generate(ctx, req.schoolID, req.examYearID)
	h.respond(w, r, "generate", inv, err)
}

func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.invoices.Recompute(r.Context(), invoiceID)
	h.respond(w, r, "recompute", inv, err)
}

type AttachSlipRequest struct {
	PaymentMethod     string `json:"payment_method" validate:"required,max=64"`
	BankSlipReference string `json:"bank_slip_reference" validate:"required,max=128"`
}

func (r *AttachSlipRequest) Normalize() {
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	r.BankSlipReference = strings.TrimSpace(r.BankSlipReference)
}

func (r *AttachSlipRequest) Validate() error { return httputil.ValidateStruct(r) }

func (h *Handler) HandleAttachSlip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AttachSlipRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inv, err := h.invoices.AttachSlip(ctx, invoiceID, models.SlipEvidence{
		PaymentMethod:     req.PaymentMethod,
		BankSlipReference: req.BankSlipReference,
	})
	h.respond(w, r, "attach_slip", inv, err)
}

type RejectSlipRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *RejectSlipRequest) Normalize()      { r.Reason = strings.TrimSpace(r.Reason) }
func (r *RejectSlipRequest) Validate() error { return httputil.ValidateStruct(r) }

func (h *Handler) HandleRejectSlip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RejectSlipRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inv, err := h.invoices.RejectSlip(ctx, invoiceID, req.Reason)
	h.respond(w, r, "reject_slip", inv, err)
}

type ConfirmRequest struct {
	PaidAmount  int64     `json:"paid_amount" validate:"gt=0"`
	PaymentDate time.Time `json:"payment_date" validate:"required"`
}

func (r *ConfirmRequest) Normalize()      { r.PaymentDate = r.PaymentDate.UTC() }
func (r *ConfirmRequest) Validate() error { return httputil.ValidateStruct(r) }

// HandleConfirm confirms payment and runs bulk approval for the cohort.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConfirmRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	inv, report, err := h.cohorts.ConfirmAndApprove(ctx, invoiceID, models.Confirmation{
		PaidAmount:  req.PaidAmount,
		PaymentDate: req.PaymentDate,
		ConfirmedBy: requestcontext.UserID(ctx),
	})
	if err != nil {
		h.fail(w, r, "confirm", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ConfirmResponse{Invoice: toResponse(inv), Approval: report})
}

func (h *Handler) HandleApproveStudents(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	report, err := h.cohorts.BulkApprove(r.Context(), invoiceID)
	if err != nil {
		h.fail(w, r, "approve_students", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (id.InvoiceID, bool) {
	invoiceID, err := id.ParseInvoiceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.InvoiceID{}, false
	}
	return invoiceID, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, inv *models.Invoice, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(inv))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "invoice operation failed",
		"op", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
