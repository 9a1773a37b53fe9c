package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"q360/internal/app/server"
	"q360/internal/domain/auth"
	"q360/internal/domain/evaluation"
	"q360/internal/domain/org"
	"q360/internal/platform/config"
	"q360/internal/platform/db"
	"q360/internal/platform/jobs"
	"q360/internal/platform/logger"
)

// Exit codes: 1 runtime failure, 2 partial failure reported by the operation, 3 bad input or config.
const (
	exitFailure = 1
	exitPartial = 2
	exitUsage   = 3
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

type cli struct {
	cfg config.Config
	out io.Writer
	log *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitFailure)
	}
	defer log.Sync()

	root := newRootCmd(&cli{cfg: cfg, out: os.Stdout, log: log})
	if code := execute(ctx, root, os.Stderr); code != 0 {
		log.Sync()
		os.Exit(code)
	}
}

// execute runs the command tree and reports a failure exactly once on stderr.
func execute(ctx context.Context, root *cobra.Command, stderr io.Writer) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(stderr, "Error:", err)
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "q360ctl",
		Short:         "Batch operations for 360-degree evaluation campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runMigrate(cmd.Context())
		},
	})

	var tenantID string
	seedCmd := &cobra.Command{
		Use:   "seed-questions",
		Short: "Create the default question bank for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(tenantID) == "" {
				return codeError(exitUsage, "--tenant is required")
			}
			return c.runSeed(cmd.Context(), tenantID)
		},
	}
	seedCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id to seed")
	root.AddCommand(seedCmd)

	var recalcCampaign, recalcEvaluatee string
	recalcCmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Recompute results for a campaign or one evaluatee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(recalcCampaign) == "" {
				return codeError(exitUsage, "--campaign is required")
			}
			return c.runRecalculate(cmd.Context(), recalcCampaign, recalcEvaluatee)
		},
	}
	recalcCmd.Flags().StringVar(&recalcCampaign, "campaign", "", "Campaign id")
	recalcCmd.Flags().StringVar(&recalcEvaluatee, "evaluatee", "", "Recompute only this evaluatee")
	root.AddCommand(recalcCmd)

	var bulkCampaign, bulkActor, bulkRole string
	bulkCmd := &cobra.Command{
		Use:   "bulk-finalize",
		Short: "Finalize every open result of a campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(bulkCampaign) == "" || strings.TrimSpace(bulkActor) == "" {
				return codeError(exitUsage, "--campaign and --actor are required")
			}
			return c.runBulkFinalize(cmd.Context(), bulkCampaign, bulkActor, bulkRole)
		},
	}
	bulkCmd.Flags().StringVar(&bulkCampaign, "campaign", "", "Campaign id")
	bulkCmd.Flags().StringVar(&bulkActor, "actor", "", "Employee id recorded as finalizer")
	bulkCmd.Flags().StringVar(&bulkRole, "role", auth.RoleHR, "Role the actor acts under")
	root.AddCommand(bulkCmd)

	var distCampaign string
	distCmd := &cobra.Command{
		Use:   "distribution",
		Short: "Print the score distribution of a campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(distCampaign) == "" {
				return codeError(exitUsage, "--campaign is required")
			}
			return c.runDistribution(cmd.Context(), distCampaign)
		},
	}
	distCmd.Flags().StringVar(&distCampaign, "campaign", "", "Campaign id")
	root.AddCommand(distCmd)

	return root
}

func (c *cli) runMigrate(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.DatabaseURL) == "" {
		return codeError(exitUsage, "DATABASE_URL is required")
	}
	pool, err := db.Connect(ctx, c.cfg)
	if err != nil {
		return codeError(exitFailure, "db connect: %s", err)
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, c.cfg.MigrationsDir)
	if err != nil {
		return codeError(exitFailure, "migrate: %s", err)
	}
	return c.print(map[string]any{"applied": applied})
}

func (c *cli) runSeed(ctx context.Context, tenantID string) error {
	if strings.TrimSpace(c.cfg.DatabaseURL) == "" {
		return codeError(exitUsage, "DATABASE_URL is required")
	}
	pool, err := db.Connect(ctx, c.cfg)
	if err != nil {
		return codeError(exitFailure, "db connect: %s", err)
	}
	defer pool.Close()
	report, err := db.SeedQuestionBank(ctx, pool, tenantID)
	if err != nil {
		return codeError(exitFailure, "seed: %s", err)
	}
	return c.print(report)
}

// app builds the same service graph as the API without applying migrations.
func (c *cli) app(ctx context.Context) (*server.App, error) {
	cfg := c.cfg
	cfg.RunMigrations = false
	app, err := server.New(ctx, cfg, c.log)
	if err != nil {
		return nil, codeError(exitUsage, "startup: %s", err)
	}
	return app, nil
}

func (c *cli) runRecalculate(ctx context.Context, campaignID, evaluateeID string) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if evaluateeID != "" {
		result, err := app.Evaluations.Recalculate(ctx, campaignID, evaluateeID)
		if err != nil {
			return codeError(codeFor(err), "recalculate: %s", err)
		}
		return c.print(result)
	}

	details, err := app.Jobs.RunNow(ctx, jobs.JobRecalculate, "", func(ctx context.Context) (any, error) {
		return app.Evaluations.RecalculateCampaign(ctx, campaignID)
	})
	if err != nil {
		return codeError(codeFor(err), "recalculate: %s", err)
	}
	report := details.(evaluation.RecalculateReport)
	if err := c.print(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return codeError(exitPartial, "%d evaluatee(s) failed to recalculate", report.Failed)
	}
	return nil
}

func (c *cli) runBulkFinalize(ctx context.Context, campaignID, actorID, role string) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	user, found, err := org.NewStore(app.DB).User(ctx, actorID)
	if err != nil {
		return codeError(exitFailure, "actor lookup: %s", err)
	}
	if !found || !user.Active {
		return codeError(exitUsage, "actor %s is not an active employee", actorID)
	}
	actor := evaluation.Actor{UserID: user.ID, TenantID: user.TenantID, RoleName: strings.ToLower(role)}

	details, err := app.Jobs.RunNow(ctx, jobs.JobBulkFinalize, user.TenantID, func(ctx context.Context) (any, error) {
		return app.Evaluations.BulkFinalize(ctx, actor, campaignID)
	})
	if err != nil {
		return codeError(codeFor(err), "bulk finalize: %s", err)
	}
	report := details.(evaluation.BulkFinalizeReport)
	if err := c.print(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return codeError(exitPartial, "%d result(s) failed to finalize", report.Failed)
	}
	return nil
}

func (c *cli) runDistribution(ctx context.Context, campaignID string) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	distribution, err := app.Evaluations.ScoreDistribution(ctx, campaignID)
	if err != nil {
		return codeError(codeFor(err), "distribution: %s", err)
	}
	return c.print(distribution)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return codeError(exitFailure, "write output: %s", err)
	}
	return nil
}

// codeFor maps caller mistakes to the usage exit code.
func codeFor(err error) int {
	var validationErr *evaluation.ValidationError
	var authErr *evaluation.AuthorizationError
	var stateErr *evaluation.StateError
	switch {
	case evaluation.IsNotFound(err), errors.As(err, &validationErr), errors.As(err, &authErr), errors.As(err, &stateErr):
		return exitUsage
	default:
		return exitFailure
	}
}
