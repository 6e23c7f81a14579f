// Command booking-service runs the booking saga: the user-facing booking
// API, the payment and cancellation event consumer, the booking expiry
// sweep and the outbox dispatcher.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/client"
	"github.com/iliyamo/transit-booking/internal/config"
	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/handler"
	"github.com/iliyamo/transit-booking/internal/middleware"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/router"
	"github.com/iliyamo/transit-booking/internal/service"
)

func main() {
	cfg, err := config.Load("booking-service")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.Server)
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("booking-service stopped")
	}
	logger.Info("booking-service exited")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis only backs the rate limiter here; without it bookings are
	// served unthrottled.
	var rdb *redis.Client
	if cfg.Limit.Enabled {
		if rdb, err = config.NewRedisClient(cfg.Redis); err != nil {
			logger.WithError(err).Warn("Rate limiter disabled")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	outbox := repository.NewOutboxRepo(db)
	store := service.NewSQLBookingStore(repository.NewBookingRepo(db), outbox)

	opts := client.Options{Timeout: cfg.Services.RPCTimeout, Attempts: cfg.Services.RPCAttempts, Backoff: cfg.Services.RPCBackoff}
	saga := service.NewBookingSaga(
		store,
		client.NewSeatClient(cfg.Services.SeatURL, opts, logger),
		client.NewOrderClient(cfg.Services.OrderURL, opts, logger),
		client.NewPaymentClient(cfg.Services.PaymentURL, opts, logger),
		client.NewTripClient(cfg.Services.TripURL, opts, logger),
		time.Duration(cfg.Services.RPCAttempts)*cfg.Services.RPCTimeout,
		logger,
	)

	amqpPub := queue.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange, queue.DeadLetterQueue(cfg.Server.Name), logger)
	defer amqpPub.Close()
	publisher := queue.NewRetryingPublisher(amqpPub, cfg.Outbox.PublishAttempts, cfg.Outbox.PublishBackoff, logger)

	dispatcher := service.NewOutboxDispatcher(outbox, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetries, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	expiry := service.NewBookingExpirySweeper(saga, cfg.Saga.HoldWindow, cfg.Sweeper.Interval, logger)
	if err := expiry.Start(ctx); err != nil {
		return err
	}
	defer expiry.Stop()

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		URL:        cfg.Broker.URL,
		Exchange:   cfg.Broker.Exchange,
		Queue:      queue.EventsQueue(cfg.Server.Name),
		EventTypes: service.BookingEventTypes,
		Prefetch:   cfg.Broker.Prefetch,
	}, saga.HandleEvent, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Booking event consumer stopped")
		}
	}()

	e := router.NewEcho(logger)
	router.RegisterRoutes(e, map[string]handler.Check{"database": db.PingContext})
	router.RegisterBookingRoutes(e, handler.NewBookingHandler(saga, logger), cfg.Auth.JWTSecret,
		middleware.RateLimit(cfg.Limit, rdb, logger))
	return router.Serve(ctx, e, ":"+cfg.Server.Port, logger)
}
