package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"go.uber.org/multierr"
)

const reaperBatchSize = 100

// Reaper fails running tasks orphaned by a crashed worker: anything running
// longer than the ceiling plus a grace period.
type Reaper struct {
	repo      Repository
	finalizer *Finalizer
	ceiling   time.Duration
	grace     time.Duration
	logg      *logger.Logger
	now       func() time.Time
}

func NewReaper(repo Repository, finalizer *Finalizer, ceiling, grace time.Duration, logg *logger.Logger) (*Reaper, error) {
	switch {
	case repo == nil:
		return nil, errors.New("task repository required")
	case finalizer == nil:
		return nil, errors.New("finalizer required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}
	if grace < 0 {
		grace = 0
	}
	return &Reaper{
		repo:      repo,
		finalizer: finalizer,
		ceiling:   ceiling,
		grace:     grace,
		logg:      logg,
		now:       time.Now,
	}, nil
}

// Reap fails one batch of stale tasks and returns how many it finalized.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-(r.ceiling + r.grace))
	stale, err := r.repo.FindStaleRunning(ctx, cutoff, reaperBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale tasks: %w", err)
	}

	var errs error
	reaped := 0
	for i := range stale {
		task := &stale[i]
		applied, err := r.finalizer.Fail(ctx, task, SourceReaper, TimeoutMessage(r.ceiling))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reap task %d: %w", task.ID, err))
			continue
		}
		if applied {
			reaped++
		}
	}
	if reaped > 0 {
		r.logg.Info(r.logg.WithField(ctx, "reaped", reaped), "stale tasks failed")
	}
	return reaped, errs
}
