package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/chantier-erp/chantier/internal/platform/cache"
	"github.com/chantier-erp/chantier/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opt asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// TriggerOptions selects the task payload.
type TriggerOptions struct {
	InvoiceID int64
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := buildTask(name, opts, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

func buildTask(name string, opts TriggerOptions, now time.Time) (*asynq.Task, error) {
	switch name {
	case jobs.TaskInvoiceExport, "export":
		if opts.InvoiceID <= 0 {
			return nil, errors.New("jobs cli: --invoice is required for the export job")
		}
		return jobs.NewInvoiceExportTask(opts.InvoiceID)
	case jobs.TaskBillingIntegrity, "integrity":
		return jobs.NewBillingIntegrityTask(now)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports the state of every queue the worker consumes.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, q := range []string{jobs.QueueDefault, jobs.QueueExports} {
		stats := QueueStats{Queue: q}
		info, err := c.inspector.GetQueueInfo(q)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, err
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

func newJobsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	withCLI := func(fn func(*JobsCLI) error) error {
		opt, err := cache.AsynqOpt(opts.cfg.RedisAddr)
		if err != nil {
			return err
		}
		c := NewJobsCLI(opt)
		defer c.Close()
		return fn(c)
	}

	var trigger TriggerOptions
	triggerCmd := &cobra.Command{
		Use:       "trigger <export|integrity>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"export", "integrity", jobs.TaskInvoiceExport, jobs.TaskBillingIntegrity},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(c *JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], trigger)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return err
			})
		},
	}
	triggerCmd.Flags().Int64Var(&trigger.InvoiceID, "invoice", 0, "invoice id for the export job")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(c *JobsCLI) error {
				stats, err := c.InspectQueues(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range stats {
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
						s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.AddCommand(triggerCmd, statsCmd)
	return cmd
}
