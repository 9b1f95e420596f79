// Package scheduler runs the periodic maintenance jobs of the service.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Sweeper abandons attendance sessions that were never finalized.
type Sweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

// Scheduler wraps a gocron scheduler running the stale session sweep.
type Scheduler struct {
	cron    *gocron.Scheduler
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
}

// New schedules sweeper every interval. Runs never overlap.
func New(sweeper Sweeper, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}

	s := &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		sweeper: sweeper,
		timeout: interval,
		logger:  logger.Named("scheduler"),
	}
	s.cron.SingletonModeAll()

	if _, err := s.cron.Every(interval).Tag("attendance-sweep").Do(s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Jobs())))
}

// Stop waits for a running job to return and stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.sweeper.SweepStale(ctx)
	if err != nil {
		s.logger.Error("attendance sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("attendance sweep finished", zap.Int("abandoned", count))
}
