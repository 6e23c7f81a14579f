package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/model"
)

// BookingExpirySweeper closes bookings that can no longer complete
// because the reservation.expired event never reached them.  A booking
// qualifies once its hold is a full hold window past expiry, or when it
// sat in CREATED for two hold windows without obtaining a hold.
type BookingExpirySweeper struct {
	saga     *BookingSaga
	hold     time.Duration
	interval time.Duration
	batch    int
	logger   *logrus.Logger
	now      func() time.Time
	job      *periodicJob
}

// NewBookingExpirySweeper creates a sweeper that runs every interval.
func NewBookingExpirySweeper(saga *BookingSaga, hold, interval time.Duration, logger *logrus.Logger) *BookingExpirySweeper {
	return &BookingExpirySweeper{
		saga:     saga,
		hold:     hold,
		interval: interval,
		batch:    100,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep.
func (s *BookingExpirySweeper) Start(ctx context.Context) error {
	s.logger.WithField("interval", s.interval.String()).Info("Starting booking expiry sweeper")
	job, err := startPeriodic(ctx, s.interval, func(ctx context.Context) { _, _ = s.RunOnce(ctx) })
	if err != nil {
		return err
	}
	s.job = job
	return nil
}

// Stop waits for a running sweep and stops the schedule.
func (s *BookingExpirySweeper) Stop() {
	s.job.stop()
}

// RunOnce expires one batch of stale bookings and returns how many were
// processed.  Terminal bookings are never selected.
func (s *BookingExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.saga.store.ListStale(ctx, now.Add(-s.hold), now.Add(-2*s.hold), s.batch)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list stale bookings")
		return 0, err
	}
	done := 0
	for i := range stale {
		b := &stale[i]
		reason := ReasonReservationExpired
		if b.Status == model.BookingCreated {
			reason = ReasonBookingTimeout
		}
		if err := s.saga.expire(ctx, b, reason); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to expire stale booking")
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.WithField("count", done).Info("Expired stale bookings")
	}
	return done, nil
}
