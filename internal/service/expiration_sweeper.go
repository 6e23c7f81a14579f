package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StaleSeatReleaser resets RESERVED seats that have not changed since cutoff.
type StaleSeatReleaser interface {
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// ExpirationSweeper is the safety net behind the expiry listener.  Any
// seat that stayed RESERVED for twice the hold window is returned to
// AVAILABLE without consulting the cache and without emitting events.
type ExpirationSweeper struct {
	seats    StaleSeatReleaser
	hold     time.Duration
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time
	job      *periodicJob
}

// NewExpirationSweeper creates a sweeper that runs every interval.
func NewExpirationSweeper(seats StaleSeatReleaser, hold, interval time.Duration, logger *logrus.Logger) *ExpirationSweeper {
	return &ExpirationSweeper{
		seats:    seats,
		hold:     hold,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep.
func (s *ExpirationSweeper) Start(ctx context.Context) error {
	s.logger.WithField("interval", s.interval.String()).Info("Starting seat expiration sweeper")
	job, err := startPeriodic(ctx, s.interval, func(ctx context.Context) { _, _ = s.RunOnce(ctx) })
	if err != nil {
		return err
	}
	s.job = job
	return nil
}

// Stop waits for a running sweep and stops the schedule.
func (s *ExpirationSweeper) Stop() {
	s.job.stop()
}

// RunOnce performs one sweep and returns the number of seats released.
func (s *ExpirationSweeper) RunOnce(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.seats.ReleaseStale(ctx, now.Add(-2*s.hold), now)
	if err != nil {
		s.logger.WithError(err).Error("Seat expiration sweep failed")
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Released stale seat holds")
	}
	return n, nil
}
