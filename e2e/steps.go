package e2e

import (
	"github.com/cucumber/godog"

	"examboard/e2e/steps/common"
	"examboard/e2e/steps/issuance"
	"examboard/e2e/steps/verification"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (sign-in, generic assertions)
	common.RegisterSteps(ctx, tc)

	// Register payment, approval and issuance steps
	issuance.RegisterSteps(ctx, tc)

	// Register public verification steps
	verification.RegisterSteps(ctx, tc)
}
