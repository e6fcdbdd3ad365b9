package verification

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"examboard/e2e/steps/common"
	"examboard/internal/app"
	"examboard/internal/credential/models"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body any) error
	Board() *app.App
	Cohort() *common.Cohort
	GetLastResponseBody() []byte
	GetResponseField(field string) (any, error)
}

// RegisterSteps registers public verification and revocation steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &verificationSteps{tc: tc}

	ctx.Step(`^I verify the certificate of the first published student$`, steps.verifyFirstCertificate)
	ctx.Step(`^I verify token "([^"]*)"$`, steps.verifyToken)
	ctx.Step(`^I revoke the certificate of the first published student with reason "([^"]*)"$`, steps.revokeFirstCertificate)
	ctx.Step(`^the verification status should be "([^"]*)"$`, steps.statusShouldBe)
	ctx.Step(`^the summary should not reveal the student's surname or contact details$`, steps.summaryIsMasked)
	ctx.Step(`^the response should carry no summary$`, steps.noSummary)
}

type verificationSteps struct {
	tc TestContext

	// certificate is remembered so it can still be verified once revoked.
	certificate *models.Credential
}

func (s *verificationSteps) firstCertificate(ctx context.Context) (*models.Credential, error) {
	if s.certificate != nil {
		return s.certificate, nil
	}
	cohort := s.tc.Cohort()
	if len(cohort.Published) == 0 {
		return nil, fmt.Errorf("no student has published results")
	}
	cred, err := s.tc.Board().Stores.Credentials.FindLive(ctx, cohort.Published[0], cohort.ExamYearID, models.KindCertificate)
	if err != nil {
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	s.certificate = cred
	return cred, nil
}

func (s *verificationSteps) verifyFirstCertificate(ctx context.Context) error {
	cred, err := s.firstCertificate(ctx)
	if err != nil {
		return err
	}
	return s.verifyToken(ctx, cred.VerificationToken.Raw())
}

func (s *verificationSteps) verifyToken(ctx context.Context, token string) error {
	return s.tc.GET("/verify/" + token)
}

func (s *verificationSteps) revokeFirstCertificate(ctx context.Context, reason string) error {
	cred, err := s.firstCertificate(ctx)
	if err != nil {
		return err
	}
	return s.tc.POST("/admin/credentials/"+cred.ID.String()+"/revoke", map[string]string{"reason": reason})
}

func (s *verificationSteps) statusShouldBe(ctx context.Context, want string) error {
	v, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected verification status %q, got %q", want, got)
	}
	return nil
}

func (s *verificationSteps) summaryIsMasked(ctx context.Context) error {
	v, err := s.tc.GetResponseField("summary")
	if err != nil {
		return err
	}
	summary, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("summary is not an object: %v", v)
	}
	if name := fmt.Sprint(summary["holder_name"]); name != "Aisha N." {
		return fmt.Errorf("unexpected holder name %q", name)
	}
	body := string(s.tc.GetLastResponseBody())
	for _, leak := range []string{"Nakato", "@", "email", "phone"} {
		if strings.Contains(body, leak) {
			return fmt.Errorf("verification response leaks %q: %s", leak, body)
		}
	}
	return nil
}

func (s *verificationSteps) noSummary(ctx context.Context) error {
	if _, err := s.tc.GetResponseField("summary"); err == nil {
		return fmt.Errorf("expected no summary in %s", s.tc.GetLastResponseBody())
	}
	return nil
}
