package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/AthleteDocs/internal/app"
	"github.com/dharsanguruparan/AthleteDocs/internal/athleteid"
	"github.com/dharsanguruparan/AthleteDocs/internal/config"
	"github.com/dharsanguruparan/AthleteDocs/internal/database"
	"github.com/dharsanguruparan/AthleteDocs/internal/logging"
	"github.com/dharsanguruparan/AthleteDocs/internal/model"
	"github.com/dharsanguruparan/AthleteDocs/internal/queue"
	"github.com/dharsanguruparan/AthleteDocs/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "athletedocs: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "athletedocs",
		Short: "AthleteDocs operator CLI",
		Long: `athletedocs runs one-off operations against the document pipeline database:
creating the schema, generating athlete ids, inspecting and retrying the queue,
and reprocessing documents without a worker.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newSchemaCmd(),
		newAthleteIDsCmd(),
		newQueueCmd(),
		newDocumentsCmd(),
	)
	return cmd
}

// env bundles what most commands need: config, logger and the Postgres
// repositories.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  *repository.Store
	close  func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("the CLI needs %s_STORE_BACKEND=postgres", config.Prefix)
	}
	logger := logging.New(cfg.LogLevel, "text")
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: repository.New(pool), close: pool.Close}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create missing tables, indexes and the athlete id sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	})
	return cmd
}

func newAthleteIDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "athlete-ids",
		Short: "Generate and validate athlete ids",
	}
	cmd.AddCommand(newAthleteGenerateCmd(), newAthleteValidateCmd())
	return cmd
}

func newAthleteGenerateCmd() *cobra.Command {
	var (
		schoolID  int64
		playerIDs []int64
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Assign athlete ids to players of a school or to listed players",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			req := athleteid.BatchRequest{PlayerIDs: playerIDs, BatchSize: batchSize}
			if cmd.Flags().Changed("school-id") {
				req.SchoolID = &schoolID
			}
			res, err := athleteid.New(e.store, e.logger).GenerateBatch(ctx, req)
			if res != nil {
				if perr := printJSON(cmd, res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().Int64Var(&schoolID, "school-id", 0, "Generate for players of this school without an id")
	cmd.Flags().Int64SliceVar(&playerIDs, "player-ids", nil, "Generate for these players")
	cmd.Flags().IntVar(&batchSize, "batch-size", athleteid.DefaultBatchSize, "Maximum ids to generate")
	cmd.MarkFlagsOneRequired("school-id", "player-ids")
	cmd.MarkFlagsMutuallyExclusive("school-id", "player-ids")
	return cmd
}

func newAthleteValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <athlete-id>...",
		Short: "Check athlete ids against the format rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, id := range args {
				if ok, reason := athleteid.Validate(id); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tvalid\n", id)
				} else {
					invalid++
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid: %s\n", id, reason)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d ids are invalid", invalid, len(args))
			}
			return nil
		},
	}
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and retry processing jobs",
	}
	cmd.AddCommand(newQueueStatsCmd(), newQueueRetryCmd())
	return cmd
}

func newQueueStatsCmd() *cobra.Command {
	var queueName, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue and recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			filter := queue.StatsFilter{Limit: limit}
			var err error
			if queueName != "" {
				if filter.Queue, err = model.ParseQueueName(queueName); err != nil {
					return err
				}
			}
			if status != "" {
				if filter.Status, err = model.ParseJobStatus(status); err != nil {
					return err
				}
			}
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			stats, err := queue.New(e.store, e.logger).Stats(ctx, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "", "Filter recent jobs by queue (document|ai)")
	cmd.Flags().StringVar(&status, "status", "", "Filter recent jobs by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Recent jobs to list")
	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	var jobIDs []int64
	var all bool
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Move failed jobs back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			q := queue.New(e.store, e.logger)
			if all {
				res, err := q.RetryFailedJobs(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
			return printJSON(cmd, q.RetryJobs(ctx, jobIDs))
		},
	}
	cmd.Flags().Int64SliceVar(&jobIDs, "job-ids", nil, "Failed jobs to retry")
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed job")
	cmd.MarkFlagsOneRequired("job-ids", "all")
	cmd.MarkFlagsMutuallyExclusive("job-ids", "all")
	return cmd
}

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Reprocess documents",
	}
	cmd.AddCommand(newReprocessFailedCmd(), newProcessCmd())
	return cmd
}

// openApp builds the full service graph, including the model providers.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logging.New(cfg.LogLevel, "text"))
}

func newReprocessFailedCmd() *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "reprocess-failed",
		Short: "Reset failed documents to pending and queue them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := model.ParsePriority(priority)
			if err != nil {
				return err
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Processor.ReprocessFailed(ctx, p)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "normal", "Queue priority (high|normal|low)")
	return cmd
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>...",
		Short: "Process documents inline, without the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			res := a.Processor.ProcessInline(ctx, args)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", res.Failed, len(args))
			}
			return nil
		},
	}
}
