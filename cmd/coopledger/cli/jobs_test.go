package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	queue := jobs.QueueDefault
	for _, o := range opts {
		if o.Type() == asynq.QueueOpt {
			queue = o.Value().(string)
		}
	}
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: queue}, nil
}

type stubInspector map[string]*asynq.QueueInfo

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestTriggerOverdueRefreshPinsDate(t *testing.T) {
	enq := &stubEnqueuer{}
	cli := NewJobsCLIWith(enq, nil)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), []string{"trigger", "overdue-refresh", "-as-of", "2026-03-31"}, JobsOptions{Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "queue=critical")

	require.Len(t, enq.tasks, 1)
	var payload jobs.OverdueRefreshPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "2026-03-31", payload.AsOf)
}

func TestTriggerRejectsBadInput(t *testing.T) {
	cli := NewJobsCLIWith(&stubEnqueuer{}, nil)
	stderr := new(bytes.Buffer)

	require.Equal(t, 2, cli.Run(context.Background(), []string{"trigger", "overdue-refresh", "-as-of", "31/03/2026"}, JobsOptions{Stderr: stderr}))
	require.Contains(t, stderr.String(), "invalid -as-of")

	stderr.Reset()
	require.Equal(t, 1, cli.Run(context.Background(), []string{"trigger", "reindex"}, JobsOptions{Stderr: stderr}))
	require.Contains(t, stderr.String(), "unsupported job")

	require.Equal(t, 2, cli.Run(context.Background(), nil, JobsOptions{Stderr: stderr}))
}

func TestTriggerSurfacesEnqueueFailure(t *testing.T) {
	cli := NewJobsCLIWith(&stubEnqueuer{err: errors.New("redis down")}, nil)
	stderr := new(bytes.Buffer)
	code := cli.Run(context.Background(), []string{"trigger", jobs.TaskOverdueRefresh}, JobsOptions{Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "redis down")
}

func TestStatsReportsEveryQueue(t *testing.T) {
	cli := NewJobsCLIWith(nil, stubInspector{
		jobs.QueueDefault: {Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
	})
	stdout := new(bytes.Buffer)
	require.Equal(t, 0, cli.Run(context.Background(), []string{"stats"}, JobsOptions{Stdout: stdout}))

	var stats []QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Equal(t, []QueueStats{
		{Queue: jobs.QueueCritical},
		{Queue: jobs.QueueDefault, Pending: 4, Retry: 1},
	}, stats)
}
