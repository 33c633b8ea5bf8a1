package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/coop-ledger/coopledger/internal/shared"
	"github.com/coop-ledger/coopledger/jobs"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for background jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	closers   []io.Closer
}

// NewJobsCLI initialises the CLI helpers against the given Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closers: []io.Closer{inspector, client}}
}

// NewJobsCLIWith builds the helpers over caller-provided queue access.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by name. A zero asOf lets the job pick today.
func (c *JobsCLI) Trigger(ctx context.Context, name string, asOf time.Time) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskOverdueRefresh, "overdue-refresh":
		task, err := jobs.NewOverdueRefreshTask(asOf)
		if err != nil {
			return nil, err
		}
		return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueCritical), asynq.MaxRetry(3))
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueues reports metrics for every worker queue.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueCritical, jobs.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := QueueStats{Queue: q}
		info, err := c.inspector.GetQueueInfo(q)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", q, err)
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
		}
		out = append(out, stats)
	}
	return out, nil
}

// JobsOptions carries I/O for the jobs command.
type JobsOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes `jobs trigger <name> [-as-of YYYY-MM-DD]` or `jobs stats` and returns an exit code.
func (c *JobsCLI) Run(ctx context.Context, args []string, opts JobsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "usage: jobs trigger <name> [-as-of YYYY-MM-DD] | jobs stats")
		return 2
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(opts.Stderr)
		rawAsOf := fs.String("as-of", "", "evaluation date (YYYY-MM-DD)")
		if len(args) < 2 {
			_, _ = fmt.Fprintln(opts.Stderr, "jobs trigger: job name is required")
			return 2
		}
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		var asOf time.Time
		if v := strings.TrimSpace(*rawAsOf); v != "" {
			parsed, err := time.Parse(shared.DateLayout, v)
			if err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: invalid -as-of %q (expected YYYY-MM-DD)\n", v)
				return 2
			}
			asOf = parsed
		}
		info, err := c.Trigger(ctx, args[1], asOf)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs stats: encode json: %v\n", err)
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: unknown command %q\n", args[0])
		return 2
	}
}
