// Command boardctl is the operator CLI: schema migrations, admin tokens, cohort
// approval, result publication, credential issuance and verification checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"examboard/internal/app"
	"examboard/internal/platform/config"
	"examboard/internal/platform/logger"
	id "examboard/pkg/domain"
	dErrors "examboard/pkg/domain-errors"
	"examboard/pkg/requestcontext"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode separates caller mistakes from failures worth retrying.
func exitCode(err error) int {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation, dErrors.CodeNotFound, dErrors.CodeConflict:
		return 2
	default:
		return 1
	}
}

type rootOptions struct {
	actor    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "boardctl",
		Short:        "Operate the exam board's issuance service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.actor, "actor", "", "staff user ID recorded on audit events")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newMigrateCmd(),
		newTokenCmd(),
		newApproveCmd(opts),
		newResultsCmd(opts),
		newIssueCmd(opts),
		newStaleCmd(opts),
		newVerifyCmd(opts),
		newRegistryCmd(opts),
	)
	return root
}

// withBoard wires the board from configuration and runs fn with an actor
// context.
func withBoard(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, board *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
	slog.SetDefault(log)

	ctx := cmd.Context()
	board, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer board.Close()

	if opts.actor != "" {
		actor, err := id.ParseUserID(opts.actor)
		if err != nil {
			return err
		}
		ctx = requestcontext.WithUserID(ctx, actor)
	}
	ctx = requestcontext.WithRequestID(ctx, "boardctl")
	return fn(ctx, board)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
