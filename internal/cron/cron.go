package cron

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/remote"
	"github.com/reynalivan/emm-core/system"
	"github.com/reynalivan/emm-core/thumbnails"
)

const ErrCronRunning = errors.Sentinel("cron: job already running")

var o system.AtomicBool

// Scheduler configures the background job system and returns the scheduler
// instance to the caller. This should only be called once per application
// lifecycle, additional calls will result in an error being returned.
func Scheduler(ctx context.Context, m *library.Manager) (gocron.Scheduler, error) {
	if !o.SwapIf(true) {
		return nil, errors.New("cron: cannot call scheduler multiple times in application lifecycle")
	}

	location, err := time.LoadLocation(config.Get().System.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "cron: failed to parse configured system timezone")
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(location))
	if err != nil {
		return nil, errors.Wrap(err, "cron: failed to create scheduler")
	}

	activity := activityCron{
		mu:  system.NewAtomicBool(false),
		max: config.Get().System.ActivitySendCount,
	}
	interval := time.Duration(config.Get().System.ActivitySendInterval) * time.Second
	log.WithField("interval", interval).Info("configuring activity flush cron")
	if _, err := s.NewJob(gocron.DurationJob(interval), gocron.NewTask(func() {
		if err := activity.Run(ctx); err != nil {
			if errors.Is(err, ErrCronRunning) {
				log.WithField("cron", "activity").Warn("cron: job already running, skipping...")
			} else {
				log.WithField("cron", "activity").WithField("error", err).Error("cron: failed to flush activity rows")
			}
		}
	})); err != nil {
		return nil, errors.Wrap(err, "cron: failed to register activity flush job")
	}

	sweep := sweepCron{
		mu:    system.NewAtomicBool(false),
		cache: thumbnails.New(config.Get().System.Thumbnails),
	}
	if _, err := s.NewJob(gocron.DurationJob(time.Hour*24), gocron.NewTask(func() {
		if err := sweep.Run(ctx); err != nil {
			if errors.Is(err, ErrCronRunning) {
				log.WithField("cron", "thumbnails").Warn("cron: job already running, skipping...")
			} else {
				log.WithField("cron", "thumbnails").WithField("error", err).Error("cron: failed to sweep thumbnail cache")
			}
		}
	})); err != nil {
		return nil, errors.Wrap(err, "cron: failed to register thumbnail sweep job")
	}

	// Mirror refreshes only run when a mirror is configured and the operator
	// opted into a non-zero interval.
	if rc := config.Get().RemoteDatabase; rc.URL != "" && rc.RefreshInterval > 0 {
		refresh := refreshCron{
			mu:      system.NewAtomicBool(false),
			manager: m,
			updater: remote.NewUpdater(
				remote.NewFromConfig(rc),
				config.Get().System.GetReferenceDatabaseDirectory(),
			),
		}
		every := time.Duration(rc.RefreshInterval) * time.Hour
		log.WithField("interval", every).Info("configuring reference database refresh cron")
		if _, err := s.NewJob(gocron.DurationJob(every), gocron.NewTask(func() {
			if err := refresh.Run(ctx); err != nil {
				if errors.Is(err, ErrCronRunning) {
					log.WithField("cron", "refresh").Warn("cron: job already running, skipping...")
				} else {
					log.WithField("cron", "refresh").WithField("error", err).Error("cron: failed to refresh reference databases")
				}
			}
		})); err != nil {
			return nil, errors.Wrap(err, "cron: failed to register database refresh job")
		}
	}

	return s, nil
}
