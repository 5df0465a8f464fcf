package narration

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
)

// Reaper deletes expired narration cache entries on a cron schedule.
// Expiry is enforced at read time, so the reaper only reclaims space;
// running it late never serves stale audio.
type Reaper struct {
	store    interfaces.NarrationStorage
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewReaper creates a reaper with a 6-field cron schedule (with seconds)
func NewReaper(store interfaces.NarrationStorage, schedule string, logger arbor.ILogger) *Reaper {
	return &Reaper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
	}
}

// Start registers the reap job and starts the scheduler
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.reap); err != nil {
		return fmt.Errorf("failed to schedule narration reaper: %w", err)
	}
	r.cron.Start()
	r.logger.Info().
		Str("schedule", r.schedule).
		Msg("Narration reaper started")
	return nil
}

// Stop halts the scheduler, waiting for a running reap to finish
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("Narration reaper stopped")
}

// Reap runs one expiry sweep immediately
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	return r.store.DeleteExpiredNarrations(ctx, time.Now())
}

func (r *Reaper) reap() {
	deleted, err := r.Reap(context.Background())
	if err != nil {
		r.logger.Error().Err(err).Msg("Narration reap sweep failed")
		return
	}
	if deleted > 0 {
		r.logger.Info().
			Int("deleted", deleted).
			Msg("Expired narration entries reaped")
	}
}
