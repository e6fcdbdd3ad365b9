package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examboard/internal/invoice/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/testutil"
)

type fakeInvoices struct {
	generated  []id.SchoolID
	attachErr  error
	lastSlip   models.SlipEvidence
	lastReason string
}

func (f *fakeInvoices) Generate(_ context.Context, schoolID id.SchoolID, examYearID id.ExamYearID) (*models.Invoice, error) {
	f.generated = append(f.generated, schoolID)
	return &models.Invoice{ID: id.InvoiceID(uuid.New()), SchoolID: schoolID, ExamYearID: examYearID, Status: models.StatusPending, TotalStudents: 50, TotalAmount: 500000, Version: 1}, nil
}

func (f *fakeInvoices) Recompute(_ context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	return nil, dErrors.New(dErrors.CodeConflict, "invoice is paid and can no longer be recomputed")
}

func (f *fakeInvoices) AttachSlip(_ context.Context, invoiceID id.InvoiceID, ev models.SlipEvidence) (*models.Invoice, error) {
	f.lastSlip = ev
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	return &models.Invoice{ID: invoiceID, Status: models.StatusProcessing}, nil
}

func (f *fakeInvoices) RejectSlip(_ context.Context, invoiceID id.InvoiceID, reason string) (*models.Invoice, error) {
	f.lastReason = reason
	return &models.Invoice{ID: invoiceID, Status: models.StatusPending, SlipRejection: reason}, nil
}

type fakeCohorts struct {
	confirmed models.Confirmation
}

func (f *fakeCohorts) ConfirmAndApprove(_ context.Context, invoiceID id.InvoiceID, c models.Confirmation) (*models.Invoice, batch.Report, error) {
	f.confirmed = c
	paid := c.PaidAmount
	return &models.Invoice{ID: invoiceID, Status: models.StatusPaid, PaidAmount: &paid},
		batch.Report{Succeeded: []string{"a", "b"}, Skipped: []batch.Entry{}, Failed: []batch.Entry{}}, nil
}

func (f *fakeCohorts) BulkApprove(context.Context, id.InvoiceID) (batch.Report, error) {
	return batch.Report{Succeeded: []string{}, Skipped: []batch.Entry{{ID: "a", Reason: "already numbered"}}, Failed: []batch.Entry{}}, nil
}

func setup() (*fakeInvoices, *fakeCohorts, http.Handler) {
	invoices, cohorts := &fakeInvoices{}, &fakeCohorts{}
	h := New(invoices, cohorts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterFinance(r)
	return invoices, cohorts, r
}

func post(router http.Handler, path, body string, actor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if actor != "" {
		req = testutil.WithActor(req, actor, "finance")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleGenerate(t *testing.T) {
	invoices, _, router := setup()
	school, year := uuid.NewString(), uuid.NewString()

	rec := post(router, "/admin/invoices", `{"school_id":"`+school+`","exam_year_id":"`+year+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, invoices.generated, 1)
	assert.Equal(t, school, invoices.generated[0].String())

	rec = post(router, "/admin/invoices", `{"school_id":"nope","exam_year_id":"`+year+`"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecompute_Conflict(t *testing.T) {
	_, _, router := setup()
	rec := post(router, "/admin/invoices/"+uuid.NewString()+"/recompute", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"conflict"`)
}

func TestHandleAttachSlip(t *testing.T) {
	invoices, _, router := setup()
	path := "/admin/invoices/" + uuid.NewString() + "/slip"

	rec := post(router, path, `{"payment_method":" Bank ","bank_slip_reference":"SLIP-9"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bank", invoices.lastSlip.PaymentMethod)

	rec = post(router, path, `{"payment_method":"bank"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	invoices.attachErr = dErrors.New(dErrors.CodeConflict, "invoice is already paid")
	rec = post(router, path, `{"payment_method":"bank","bank_slip_reference":"SLIP-9"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleConfirm(t *testing.T) {
	_, cohorts, router := setup()
	actor := uuid.NewString()
	paymentDate := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	rec := post(router, "/admin/invoices/"+uuid.NewString()+"/confirm",
		`{"paid_amount":500000,"payment_date":"`+paymentDate+`"}`, actor)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actor, cohorts.confirmed.ConfirmedBy.String())

	var body ConfirmResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paid", body.Invoice.Status)
	assert.Len(t, body.Approval.Succeeded, 2)

	rec = post(router, "/admin/invoices/"+uuid.NewString()+"/confirm", `{"paid_amount":0,"payment_date":"`+paymentDate+`"}`, actor)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleApproveStudents(t *testing.T) {
	_, _, router := setup()
	rec := post(router, "/admin/invoices/"+uuid.NewString()+"/approve-students", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report batch.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "already numbered", report.Skipped[0].Reason)
}

func TestHandleRejectSlip(t *testing.T) {
	invoices, _, router := setup()
	rec := post(router, "/admin/invoices/"+uuid.NewString()+"/reject-slip", `{"reason":" blurry "}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "blurry", invoices.lastReason)
}
