// Command dlqctl inspects and drives the dead-letter queue from a shell.
//
// Usage:
//
//	dlqctl stats
//	dlqctl pending --target elasticsearch --limit 20
//	dlqctl retry --target redis
//	dlqctl retry --id 42
//	dlqctl cleanup
//
// Configuration comes from the same environment and CONFIG_FILE as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirdesai22/dlq-service/internal/app"
	"github.com/sirdesai22/dlq-service/internal/config"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/logging"
	"github.com/sirdesai22/dlq-service/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	rootCmd := &cobra.Command{
		Use:           "dlqctl",
		Short:         "Inspect and drive the dead-letter queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			e.cfg, e.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.log != nil {
				_ = logging.Sync(e.log)
			}
		},
	}

	rootCmd.AddCommand(
		newStatsCmd(e),
		newPendingCmd(e),
		newRetryCmd(e),
		newCleanupCmd(e),
	)
	return rootCmd
}

// withQueue opens a queue without backend adapters, enough for read-only
// and cleanup commands.
func (e *env) withQueue(ctx context.Context, fn func(*dlq.Queue) error) error {
	q, err := app.NewQueue(ctx, e.cfg, e.log)
	if err != nil {
		return err
	}
	defer q.Close()
	return fn(q)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withQueue(cmd.Context(), func(q *dlq.Queue) error {
				stats, err := q.GetStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newPendingCmd(e *env) *cobra.Command {
	var (
		target string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List entries that are due for retry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withQueue(cmd.Context(), func(q *dlq.Queue) error {
				entries, err := q.GetPendingEntries(cmd.Context(), limit, models.Target(target))
				if err != nil {
					return err
				}
				if entries == nil {
					entries = []models.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Only entries for this backend")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum entries to list")
	return cmd
}

func newRetryCmd(e *env) *cobra.Command {
	var (
		target string
		limit  int
		id     int64
	)
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Run one retry batch, or retry a single entry with --id",
		Long: `Run one retry batch against the configured backends.

Retry handlers are registered for every backend configured in the
environment, so entries for an unconfigured backend are reported as failed
without consuming a retry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, e.cfg, e.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if id == 0 {
				res, err := a.Queue.RetryFailedWrites(ctx, models.Target(target), limit)
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
				return err
			}

			entry, err := a.Queue.GetEntry(ctx, id)
			if err != nil {
				return err
			}
			if entry.Status != models.StatusPending {
				return fmt.Errorf("entry %d is %s, only pending entries can be retried", id, entry.Status)
			}
			ok, err := a.Queue.RetryEntry(ctx, entry)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "succeeded": ok})
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "Only retry entries for this backend")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum entries in the batch")
	cmd.Flags().Int64Var(&id, "id", 0, "Retry this entry now, ignoring its schedule")
	return cmd
}

func newCleanupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire and delete entries past the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withQueue(cmd.Context(), func(q *dlq.Queue) error {
				res, err := q.CleanupOldEntries(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int64{
					"expired": res.Expired,
					"deleted": res.Deleted,
					"total":   res.Total(),
				})
			})
		},
	}
}
