package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

const (
	defaultCeiling      = 600 * time.Second
	defaultPollInterval = time.Second
	defaultStopGrace    = 10 * time.Second
	runnerDrainTimeout  = 5 * time.Second
)

var errGuardDone = errors.New("guard finished")

// TimeoutMessage is the error_message written when a task outlives ceiling.
func TimeoutMessage(ceiling time.Duration) string {
	return fmt.Sprintf("timeout: task did not finish within %s", ceiling)
}

// Guard bounds how long a task may stay non-terminal. It runs the task and
// waits for whichever comes first: the runner returning, a completion signal,
// a poll observing a terminal status, or the ceiling.
type Guard struct {
	repo      Repository
	runner    Starter
	notifier  Notifier
	finalizer *Finalizer
	ceiling   time.Duration
	poll      time.Duration
	grace     time.Duration
	logg      *logger.Logger
}

type GuardParams struct {
	Repo         Repository
	Runner       Starter
	Notifier     Notifier
	Finalizer    *Finalizer
	Ceiling      time.Duration
	PollInterval time.Duration
	// StopGrace is how long a shutdown waits for an in-flight run to finish
	// before handing the task back to pending.
	StopGrace time.Duration
	Logger    *logger.Logger
}

func NewGuard(params GuardParams) (*Guard, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("task repository required")
	case params.Runner == nil:
		return nil, errors.New("runner required")
	case params.Finalizer == nil:
		return nil, errors.New("finalizer required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	ceiling := params.Ceiling
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	grace := params.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	return &Guard{
		repo:      params.Repo,
		runner:    params.Runner,
		notifier:  params.Notifier,
		finalizer: params.Finalizer,
		ceiling:   ceiling,
		poll:      poll,
		grace:     grace,
		logg:      params.Logger,
	}, nil
}

// Ceiling returns the configured hard limit.
func (g *Guard) Ceiling() time.Duration {
	return g.ceiling
}

// Run executes taskID under the ceiling and returns the persisted status once
// the task is terminal. A runner infrastructure error is returned so the
// caller can redeliver the job. Canceling ctx does not cancel the run; see
// stop.
func (g *Guard) Run(ctx context.Context, taskID int64, extra map[string]any) (enums.TaskStatus, error) {
	ctx = g.logg.WithTaskID(ctx, taskID)

	signal := g.subscribe(ctx, taskID)
	if signal != nil {
		defer signal.Close()
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- g.runner.Start(runCtx, taskID, extra)
	}()
	defer func() {
		cancel(errGuardDone)
		g.drain(ctx, runnerDone)
	}()

	deadline := time.Now().Add(g.ceiling)
	ceiling := time.NewTimer(g.ceiling)
	defer ceiling.Stop()
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	var doneSignal <-chan struct{}
	if signal != nil {
		doneSignal = signal.Done()
	}

	for {
		select {
		case err := <-runnerDone:
			runnerDone = nil
			task, loadErr := g.repo.FindByID(ctx, taskID)
			if loadErr != nil {
				return "", errors.Join(err, loadErr)
			}
			if task.Status.IsTerminal() {
				return task.Status, nil
			}
			if err != nil {
				return task.Status, err
			}
			// another writer owns the task; keep watching until it settles.

		case <-doneSignal:
			doneSignal = nil
			if status, ok := g.terminalStatus(ctx, taskID); ok {
				return status, nil
			}

		case <-ticker.C:
			if status, ok := g.terminalStatus(ctx, taskID); ok {
				return status, nil
			}

		case <-ceiling.C:
			return g.expire(ctx, taskID)

		case <-ctx.Done():
			return g.stop(ctx, taskID, &runnerDone, cancel, deadline)
		}
	}
}

// stop handles a worker shutdown. The run gets up to the stop grace, never
// past the ceiling, to finish on its own. Otherwise it is canceled with
// ErrStopping and the runner hands the task back to pending, and ctx.Err is
// returned so the job is redelivered.
func (g *Guard) stop(ctx context.Context, taskID int64, runnerDone *chan error, cancel context.CancelCauseFunc, deadline time.Time) (enums.TaskStatus, error) {
	readCtx := context.WithoutCancel(ctx)
	if *runnerDone != nil {
		timer := time.NewTimer(min(g.grace, time.Until(deadline)))
		defer timer.Stop()
		select {
		case <-*runnerDone:
			*runnerDone = nil
		case <-timer.C:
			if !time.Now().Before(deadline) {
				return g.expire(readCtx, taskID)
			}
			g.logg.Warn(ctx, "worker stopping before task finished; releasing for redelivery")
			cancel(ErrStopping)
		}
	}
	if status, ok := g.terminalStatus(readCtx, taskID); ok {
		return status, nil
	}
	return "", ctx.Err()
}

// drain waits briefly for a canceled runner to unwind so any release it
// performs lands before the job is settled.
func (g *Guard) drain(ctx context.Context, runnerDone <-chan error) {
	if runnerDone == nil {
		return
	}
	timer := time.NewTimer(runnerDrainTimeout)
	defer timer.Stop()
	select {
	case <-runnerDone:
	case <-timer.C:
		g.logg.Warn(ctx, "runner did not stop after cancel")
	}
}

func (g *Guard) subscribe(ctx context.Context, taskID int64) Subscription {
	if g.notifier == nil {
		return nil
	}
	sub, err := g.notifier.SubscribeDone(ctx, taskID)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "completion signal unavailable; polling only")
		return nil
	}
	return sub
}

func (g *Guard) terminalStatus(ctx context.Context, taskID int64) (enums.TaskStatus, bool) {
	task, err := g.repo.FindByID(ctx, taskID)
	if err != nil {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "poll task status failed")
		return "", false
	}
	if task.Status.IsTerminal() {
		return task.Status, true
	}
	return task.Status, false
}

// expire forces the task to failed. If another writer finished first the
// compare-and-set does nothing and the persisted status is returned.
func (g *Guard) expire(ctx context.Context, taskID int64) (enums.TaskStatus, error) {
	task, err := g.repo.FindByID(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task %d: %w", taskID, err)
	}
	if task.Status.IsTerminal() {
		return task.Status, nil
	}
	applied, err := g.finalizer.Fail(ctx, task, SourceGuard, TimeoutMessage(g.ceiling))
	if err != nil {
		return "", fmt.Errorf("expire task %d: %w", task.ID, err)
	}
	if applied {
		return enums.TaskStatusFailed, nil
	}
	current, err := g.repo.FindByID(ctx, task.ID)
	if err != nil {
		return "", fmt.Errorf("load task %d: %w", task.ID, err)
	}
	return current.Status, nil
}
