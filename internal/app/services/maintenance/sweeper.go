// Package maintenance runs scheduled housekeeping. The sweeper permanently
// removes projects and library entities whose soft-delete grace period has
// passed.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/internal/app/system"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper purges soft-deleted rows on a cron schedule.
type Sweeper struct {
	store     storage.MaintenanceStore
	log       *logger.Logger
	schedule  string
	retention time.Duration
	cron      *cron.Cron
}

// NewSweeper constructs a sweeper. schedule is a cron expression (defaults to
// hourly); retention is how long soft-deleted rows are kept (defaults to 30
// days).
func NewSweeper(store storage.MaintenanceStore, schedule string, retention time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		log:       log,
		schedule:  schedule,
		retention: retention,
	}
}

func (s *Sweeper) Name() string { return "maintenance-sweeper" }

func (s *Sweeper) Start(_ context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron = c
	c.Start()
	s.log.WithField("schedule", s.schedule).Info("maintenance sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep purges rows soft-deleted before the retention cutoff. Exposed for
// tests and manual runs.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.store.PurgeSoftDeleted(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).Error("purge soft-deleted rows")
		return
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("purged soft-deleted rows")
	}
}
