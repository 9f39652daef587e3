package cron

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/remote"
	"github.com/reynalivan/emm-core/system"
	"github.com/reynalivan/emm-core/thumbnails"
)

type sweepCron struct {
	mu    *system.AtomicBool
	cache *thumbnails.Cache
}

// Run prunes thumbnail copies nothing has touched in a month and trims the
// cache back under its size ceiling.
func (sc *sweepCron) Run(_ context.Context) error {
	if !sc.mu.SwapIf(true) {
		return errors.WithStack(ErrCronRunning)
	}
	defer sc.mu.Store(false)

	removed, err := sc.cache.Sweep(thumbnails.DefaultMaxAge, thumbnails.DefaultMaxBytes)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("pruned stale thumbnail cache entries")
	}
	return nil
}

type refreshCron struct {
	mu      *system.AtomicBool
	manager *library.Manager
	updater *remote.Updater
}

// Run refreshes the reference database of every game type with at least one
// configured library. Types shared by several libraries are fetched once.
func (rc *refreshCron) Run(ctx context.Context) error {
	if !rc.mu.SwapIf(true) {
		return errors.WithStack(ErrCronRunning)
	}
	defer rc.mu.Store(false)

	seen := make(map[string]struct{})
	var games []string
	for _, l := range rc.manager.All() {
		t := strings.ToLower(string(l.Type()))
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		games = append(games, t)
	}
	if len(games) == 0 {
		return nil
	}
	return rc.updater.Refresh(ctx, games)
}
