package download

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/globaltraits/trait-ingester/common"
	"github.com/globaltraits/trait-ingester/service"
	"github.com/globaltraits/trait-ingester/service/log"
)

// ErrTaskFailed is returned when the platform reports a terminal failure
type ErrTaskFailed struct {
	Key     string
	Message string
}

func (e ErrTaskFailed) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("task %s failed", e.Key)
	}
	return fmt.Sprintf("task %s failed: %s", e.Key, e.Message)
}

// ErrTimeout is returned when jobs are still active after MaxWait
type ErrTimeout struct {
	Keys    []string
	MaxWait time.Duration
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("tasks [%s] did not complete within %s", strings.Join(e.Keys, ", "), e.MaxWait)
}

// StatusPoller queries the remote state of one task.
// One network round-trip per call, no retries.
type StatusPoller interface {
	TaskStatus(ctx context.Context, task common.Task) (common.StatusReport, error)
}

// Fetcher materializes the output of a succeeded task locally
type Fetcher interface {
	Materialize(ctx context.Context, stem string) (Outcome, error)
	CleanPartial(stem string) error
}

// Clock abstracts time so the polling loop can be driven by tests
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	defaultInterval = 60 * time.Second
	defaultMaxWait  = 6 * time.Hour
)

// Waiter polls a set of asynchronous jobs at a fixed interval and
// materializes the output of each job as soon as it succeeds. Terminal
// failures retire the job and are reported together at the end; they never
// stall the remaining jobs.
type Waiter struct {
	Poller  StatusPoller
	Fetcher Fetcher
	// Interval between polling sweeps (default 60s)
	Interval time.Duration
	// MaxWait before abandoning the jobs still active (default 6h)
	MaxWait time.Duration
	Clock   Clock
}

// Wait blocks until every task reaches a terminal state or MaxWait elapses.
// Tasks abandoned on timeout have their partial local output removed.
// The returned error merges every per-task failure.
func (w *Waiter) Wait(ctx context.Context, tasks []common.Task) error {
	interval := w.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	maxWait := w.MaxWait
	if maxWait == 0 {
		maxWait = defaultMaxWait
	}
	clock := w.Clock
	if clock == nil {
		clock = realClock{}
	}

	active := map[string]common.Task{}
	for _, t := range tasks {
		active[t.Description] = t
	}

	var taskErr error
	start := clock.Now()
	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Stable sweep order
		keys := make([]string, 0, len(active))
		for k := range active {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			task := active[key]
			report, err := w.Poller.TaskStatus(ctx, task)
			if err != nil {
				return fmt.Errorf("Wait[%s].%w", key, err)
			}
			switch report.State {
			case common.StatusPENDING, common.StatusRUNNING:
				log.Logger(ctx).Sugar().Debugf("task %s (%s): %s", key, task.ID, report.State)
			case common.StatusSUCCEEDED:
				log.Logger(ctx).Sugar().Infof("task %s (%s) succeeded", key, task.ID)
				if _, err := w.Fetcher.Materialize(ctx, key); err != nil {
					taskErr = service.MergeErrors(true, taskErr, fmt.Errorf("Wait[%s].%w", key, err))
				}
				delete(active, key)
			case common.StatusFAILED:
				log.Logger(ctx).Sugar().Errorf("task %s (%s) failed: %s", key, task.ID, report.Error)
				taskErr = service.MergeErrors(true, taskErr, ErrTaskFailed{Key: key, Message: report.Error})
				delete(active, key)
			}
		}

		if len(active) == 0 {
			break
		}
		if clock.Now().Sub(start) >= maxWait {
			remaining := make([]string, 0, len(active))
			for key := range active {
				remaining = append(remaining, key)
			}
			sort.Strings(remaining)
			for _, key := range remaining {
				log.Logger(ctx).Sugar().Errorf("task %s still active after %s, removing partial output", key, maxWait)
				if err := w.Fetcher.CleanPartial(key); err != nil {
					taskErr = service.MergeErrors(true, taskErr, err)
				}
			}
			return service.MergeErrors(true, taskErr, ErrTimeout{Keys: remaining, MaxWait: maxWait})
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return taskErr
}
