package cron

import (
	"context"

	"emperror.dev/errors"

	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/system"
)

type activityCron struct {
	mu  *system.AtomicBool
	max int
}

// Run persists the queued audit rows into the activity database. The flush is
// capped per run so a giant backlog cannot stall the scheduler, leftover rows
// wait for the next tick.
func (ac *activityCron) Run(ctx context.Context) error {
	// Don't execute this cron if there is currently one running. Once this
	// task is completed set the lock to false to allow future cron processes
	// to run.
	if !ac.mu.SwapIf(true) {
		return errors.WithStack(ErrCronRunning)
	}
	defer ac.mu.Store(false)

	if library.QueuedActivity() == 0 {
		return nil
	}
	return library.FlushActivity(ctx, ac.max)
}
