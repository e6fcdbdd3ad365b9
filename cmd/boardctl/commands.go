package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"examboard/internal/app"
	"examboard/internal/credential/models"
	jwttoken "examboard/internal/jwt_token"
	"examboard/internal/platform/config"
	"examboard/internal/registry"
	"examboard/pkg/batch"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
)

func newTokenCmd() *cobra.Command {
	var (
		role string
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a staff bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if role != jwttoken.RoleAdmin && role != jwttoken.RoleFinance {
				return dErrors.New(dErrors.CodeBadRequest, "role must be admin or finance")
			}
			userID := uuid.New()
			if user != "" {
				parsed, err := id.ParseUserID(user)
				if err != nil {
					return err
				}
				userID = uuid.UUID(parsed)
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			token, err := svc.GenerateAccessToken(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", jwttoken.RoleAdmin, "admin or finance")
	cmd.Flags().StringVar(&user, "user", "", "staff user ID (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newApproveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <invoice-id>",
		Short: "Approve and number the cohort of a paid invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invoiceID, err := id.ParseInvoiceID(args[0])
			if err != nil {
				return err
			}
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				report, err := board.Services.Cohorts.BulkApprove(ctx, invoiceID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newResultsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Manage exam results",
	}
	var examYear string
	publish := &cobra.Command{
		Use:   "publish <student-id>...",
		Short: "Publish the draft results of students",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examYearID, err := id.ParseExamYearID(examYear)
			if err != nil {
				return err
			}
			studentIDs, err := parseStudentIDs(args)
			if err != nil {
				return err
			}
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				n, err := board.Services.Results.Publish(ctx, examYearID, studentIDs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"published": n})
			})
		},
	}
	publish.Flags().StringVar(&examYear, "exam-year", "", "exam year ID")
	_ = publish.MarkFlagRequired("exam-year")
	cmd.AddCommand(publish)
	return cmd
}

func newIssueCmd(opts *rootOptions) *cobra.Command {
	var kind, examYear, school string
	cmd := &cobra.Command{
		Use:   "issue [student-id...]",
		Short: "Issue certificates or transcripts for students or a whole school",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := models.ParseKind(kind)
			if err != nil {
				return err
			}
			examYearID, err := id.ParseExamYearID(examYear)
			if err != nil {
				return err
			}
			if (school == "") == (len(args) == 0) {
				return dErrors.New(dErrors.CodeBadRequest, "pass either --school or student IDs")
			}
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				var report batch.Report
				if school != "" {
					schoolID, err := id.ParseSchoolID(school)
					if err != nil {
						return err
					}
					if report, err = board.Services.Credentials.IssueForSchool(ctx, k, schoolID, examYearID); err != nil {
						return err
					}
				} else {
					studentIDs, err := parseStudentIDs(args)
					if err != nil {
						return err
					}
					report = board.Services.Credentials.IssueBatch(ctx, k, studentIDs, examYearID)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(models.KindCertificate), "certificate or transcript")
	cmd.Flags().StringVar(&examYear, "exam-year", "", "exam year ID")
	cmd.Flags().StringVar(&school, "school", "", "issue for every approved student of this school")
	_ = cmd.MarkFlagRequired("exam-year")
	return cmd
}

func newStaleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stale <credential-id>...",
		Short: "Report credentials whose published results changed after issuance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credentialIDs := make([]id.CredentialID, len(args))
			for i, arg := range args {
				credentialID, err := id.ParseCredentialID(arg)
				if err != nil {
					return err
				}
				credentialIDs[i] = credentialID
			}
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				stale := make(map[string]bool, len(credentialIDs))
				for _, credentialID := range credentialIDs {
					s, err := board.Services.Credentials.CheckStale(ctx, credentialID)
					if err != nil {
						return fmt.Errorf("%s: %w", credentialID, err)
					}
					stale[credentialID.String()] = s
				}
				return printJSON(cmd.OutOrStdout(), stale)
			})
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Look a verification token up as the public would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				result, err := board.Services.Verification.Verify(ctx, args[0], kind)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "expected credential kind")
	return cmd
}

func newRegistryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and release identifier reservations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "check <namespace> <value>",
			Short: "Report whether a value is reserved",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ns, err := parseNamespace(args[0])
				if err != nil {
					return err
				}
				return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
					used, err := board.Services.Registry.IsUsed(ctx, ns, args[1])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]bool{"reserved": used})
				})
			},
		},
		newReleaseCmd(opts),
	)
	return cmd
}

// newReleaseCmd frees the document number and token reservations of a revoked
// credential. Index numbers are never released.
func newReleaseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <credential-id>",
		Short: "Release the reservations of a revoked credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credentialID, err := id.ParseCredentialID(args[0])
			if err != nil {
				return err
			}
			return withBoard(cmd, opts, func(ctx context.Context, board *app.App) error {
				cred, err := board.Services.Credentials.Get(ctx, credentialID)
				if err != nil {
					return err
				}
				if !cred.IsRevoked() {
					return dErrors.New(dErrors.CodeConflict, "credential is not revoked")
				}
				owner := uuid.UUID(cred.ID)
				ns := registry.NamespaceCertificate
				if cred.Kind == models.KindTranscript {
					ns = registry.NamespaceTranscript
				}
				released := map[string]string{}
				for _, r := range []struct {
					ns    registry.Namespace
					value string
				}{
					{ns, cred.DocumentNumber.String()},
					{registry.NamespaceVerificationToken, cred.VerificationToken.Raw()},
				} {
					if err := board.Services.Registry.Release(ctx, r.ns, r.value, owner); err != nil {
						if dErrors.HasCode(err, dErrors.CodeNotFound) {
							continue
						}
						return err
					}
					released[string(r.ns)] = "released"
				}
				return printJSON(cmd.OutOrStdout(), released)
			})
		},
	}
}

func parseNamespace(s string) (registry.Namespace, error) {
	ns := registry.Namespace(s)
	if !ns.Valid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "unknown namespace "+s)
	}
	return ns, nil
}

func parseStudentIDs(args []string) ([]id.StudentID, error) {
	ids := make([]id.StudentID, len(args))
	for i, arg := range args {
		studentID, err := id.ParseStudentID(arg)
		if err != nil {
			return nil, err
		}
		ids[i] = studentID
	}
	return ids, nil
}
