package issuance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"examboard/e2e/steps/common"
	"examboard/internal/app"
	"examboard/internal/directory"
	"examboard/internal/results"
	studentmodels "examboard/internal/student/models"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	Board() *app.App
	Cohort() *common.Cohort
	GetResponseField(field string) (any, error)
	DecodeResponse(v any) error
	SignIn(role string) error
}

// RegisterSteps registers invoice, approval, results and issuance steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &issuanceSteps{tc: tc}

	// Seeding
	ctx.Step(`^exam year (\d+) is open$`, steps.examYearIsOpen)
	ctx.Step(`^school "([^"]*)" has (\d+) pending students$`, steps.schoolHasPendingStudents)
	ctx.Step(`^results are published for (\d+) of the students$`, steps.resultsPublishedFor)

	// Payment
	ctx.Step(`^I generate the invoice for the school$`, steps.generateInvoice)
	ctx.Step(`^I attach bank slip "([^"]*)" to the invoice$`, steps.attachSlip)
	ctx.Step(`^I confirm a payment of (\d+) for the invoice$`, steps.confirmPayment)
	ctx.Step(`^the school's invoice is paid and the cohort approved$`, steps.invoicePaidAndApproved)
	ctx.Step(`^I re-run approval for the invoice$`, steps.rerunApproval)
	ctx.Step(`^the approval should report (\d+) succeeded, (\d+) skipped and (\d+) failed$`, steps.approvalShouldReport)
	ctx.Step(`^every student should hold a distinct 6-digit index number$`, steps.distinctIndexNumbers)

	// Issuance
	ctx.Step(`^I issue certificates for every student$`, steps.issueCertificates)
	ctx.Step(`^the report should show (\d+) succeeded, (\d+) skipped and (\d+) failed$`, steps.reportShouldShow)
	ctx.Step(`^every failure should read "([^"]*)"$`, steps.everyFailureShouldRead)
}

type issuanceSteps struct {
	tc TestContext
}

func (s *issuanceSteps) examYearIsOpen(ctx context.Context, year int) error {
	dir, err := s.directory()
	if err != nil {
		return err
	}
	cohort := s.tc.Cohort()
	cohort.ExamYearID = id.ExamYearID(uuid.New())
	cohort.Year = year
	dir.PutExamYear(directory.ExamYear{ID: cohort.ExamYearID, Year: year, Label: fmt.Sprintf("%d Finals", year)})
	return nil
}

func (s *issuanceSteps) schoolHasPendingStudents(ctx context.Context, name string, n int) error {
	dir, err := s.directory()
	if err != nil {
		return err
	}
	cohort := s.tc.Cohort()
	cohort.SchoolID = id.SchoolID(uuid.New())
	slug := strings.ToLower(strings.Fields(name)[0])
	dir.PutSchool(directory.School{ID: cohort.SchoolID, Name: name, Email: "registrar@" + slug + ".example"})

	students := s.tc.Board().Stores.Students
	for i := 0; i < n; i++ {
		st, err := studentmodels.NewStudent(id.StudentID(uuid.New()),
			studentmodels.Cohort{SchoolID: cohort.SchoolID, ExamYearID: cohort.ExamYearID},
			"Aisha", "Nakato", 7, time.Now())
		if err != nil {
			return err
		}
		st.Email = fmt.Sprintf("student%d@%s.example", i, slug)
		if err := students.Create(ctx, st); err != nil {
			return err
		}
		cohort.Students = append(cohort.Students, st.ID)
	}
	return nil
}

func (s *issuanceSteps) resultsPublishedFor(ctx context.Context, n int) error {
	cohort := s.tc.Cohort()
	if n > len(cohort.Students) {
		return fmt.Errorf("cohort has only %d students", len(cohort.Students))
	}
	svc := s.tc.Board().Services.Results
	subjects := []struct {
		code, name string
		score      float64
	}{
		{"QUR", "Quran Memorisation", 88},
		{"FIQ", "Fiqh", 74},
		{"ARB", "Arabic Language", 69},
	}
	chosen := cohort.Students[:n]
	for _, studentID := range chosen {
		for _, subject := range subjects {
			if _, err := svc.Record(ctx, results.RecordRequest{
				StudentID:   studentID,
				ExamYearID:  cohort.ExamYearID,
				SubjectCode: subject.code,
				SubjectName: subject.name,
				Score:       subject.score,
				MaxScore:    100,
			}); err != nil {
				return err
			}
		}
	}
	if _, err := svc.Publish(ctx, cohort.ExamYearID, chosen); err != nil {
		return err
	}
	cohort.Published = append(cohort.Published, chosen...)
	return nil
}

func (s *issuanceSteps) generateInvoice(ctx context.Context) error {
	cohort := s.tc.Cohort()
	if err := s.tc.POST("/admin/invoices", map[string]string{
		"school_id":    cohort.SchoolID.String(),
		"exam_year_id": cohort.ExamYearID.String(),
	}); err != nil {
		return err
	}
	if v, err := s.tc.GetResponseField("id"); err == nil {
		cohort.InvoiceID = fmt.Sprint(v)
	}
	return nil
}

func (s *issuanceSteps) attachSlip(ctx context.Context, reference string) error {
	return s.tc.POST("/admin/invoices/"+s.tc.Cohort().InvoiceID+"/slip", map[string]string{
		"payment_method":      "bank_transfer",
		"bank_slip_reference": reference,
	})
}

func (s *issuanceSteps) confirmPayment(ctx context.Context, amount int) error {
	return s.tc.POST("/admin/invoices/"+s.tc.Cohort().InvoiceID+"/confirm", map[string]any{
		"paid_amount":  amount,
		"payment_date": time.Now().UTC().Format(time.RFC3339),
	})
}

// invoicePaidAndApproved walks the payment flow as the two staff roles would,
// then returns to the admin role.
func (s *issuanceSteps) invoicePaidAndApproved(ctx context.Context) error {
	if err := s.tc.SignIn("admin"); err != nil {
		return err
	}
	if err := s.generateInvoice(ctx); err != nil {
		return err
	}
	if s.tc.Cohort().InvoiceID == "" {
		return fmt.Errorf("invoice was not generated")
	}
	if err := s.tc.SignIn("finance"); err != nil {
		return err
	}
	if err := s.attachSlip(ctx, "STANBIC-0091"); err != nil {
		return err
	}
	if err := s.confirmPayment(ctx, 10000*len(s.tc.Cohort().Students)); err != nil {
		return err
	}
	if err := s.approvalShouldReport(ctx, len(s.tc.Cohort().Students), 0, 0); err != nil {
		return err
	}
	return s.tc.SignIn("admin")
}

func (s *issuanceSteps) rerunApproval(ctx context.Context) error {
	return s.tc.POST("/admin/invoices/"+s.tc.Cohort().InvoiceID+"/approve-students", map[string]string{})
}

func (s *issuanceSteps) approvalShouldReport(ctx context.Context, succeeded, skipped, failed int) error {
	var body struct {
		Approval batch.Report `json:"approval"`
	}
	if err := s.tc.DecodeResponse(&body); err != nil {
		return err
	}
	return counts(body.Approval, succeeded, skipped, failed)
}

func (s *issuanceSteps) reportShouldShow(ctx context.Context, succeeded, skipped, failed int) error {
	var report batch.Report
	if err := s.tc.DecodeResponse(&report); err != nil {
		return err
	}
	return counts(report, succeeded, skipped, failed)
}

func (s *issuanceSteps) distinctIndexNumbers(ctx context.Context) error {
	cohort := s.tc.Cohort()
	seen := make(map[string]bool, len(cohort.Students))
	for _, studentID := range cohort.Students {
		st, err := s.tc.Board().Stores.Students.FindByID(ctx, studentID)
		if err != nil {
			return err
		}
		if st.IndexNumber == nil {
			return fmt.Errorf("student %s has no index number", studentID)
		}
		n := string(*st.IndexNumber)
		if len(n) != 6 || n < "100000" || n > "999999" {
			return fmt.Errorf("index number %q is not 6 digits", n)
		}
		if seen[n] {
			return fmt.Errorf("index number %s assigned twice", n)
		}
		seen[n] = true
	}
	return nil
}

func (s *issuanceSteps) issueCertificates(ctx context.Context) error {
	cohort := s.tc.Cohort()
	studentIDs := make([]string, len(cohort.Students))
	for i, studentID := range cohort.Students {
		studentIDs[i] = studentID.String()
	}
	return s.tc.POST("/admin/credentials", map[string]any{
		"kind":         "certificate",
		"exam_year_id": cohort.ExamYearID.String(),
		"student_ids":  studentIDs,
	})
}

func (s *issuanceSteps) everyFailureShouldRead(ctx context.Context, reason string) error {
	var report batch.Report
	if err := s.tc.DecodeResponse(&report); err != nil {
		return err
	}
	for _, entry := range report.Failed {
		if !strings.Contains(entry.Reason, reason) {
			return fmt.Errorf("failure for %s reads %q", entry.ID, entry.Reason)
		}
	}
	return nil
}

func (s *issuanceSteps) directory() (*directory.InMemoryStore, error) {
	dir, ok := s.tc.Board().Stores.Directory.(*directory.InMemoryStore)
	if !ok {
		return nil, fmt.Errorf("scenario needs the in-memory directory")
	}
	return dir, nil
}

func counts(report batch.Report, succeeded, skipped, failed int) error {
	if len(report.Succeeded) != succeeded || len(report.Skipped) != skipped || len(report.Failed) != failed {
		return fmt.Errorf("expected %d/%d/%d succeeded/skipped/failed, got %d/%d/%d",
			succeeded, skipped, failed, len(report.Succeeded), len(report.Skipped), len(report.Failed))
	}
	return nil
}
