// Command seat-service owns the seat map of every trip.  It serves the
// reservation RPC, expires holds from Redis keyspace notifications and a
// database sweep, publishes its outbox and follows trip events.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/client"
	"github.com/iliyamo/transit-booking/internal/config"
	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/handler"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/router"
	"github.com/iliyamo/transit-booking/internal/service"
)

func main() {
	cfg, err := config.Load("seat-service")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.Server)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("seat-service stopped")
	}
	logger.Info("seat-service exited")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	seats := repository.NewSeatRepo(db)
	outbox := repository.NewOutboxRepo(db)
	cache := repository.NewReservationCache(rdb)
	ledger := service.NewSeatLedger(seats, outbox, cache, cfg.Saga.HoldWindow, logger)

	amqpPub := queue.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange, queue.DeadLetterQueue(cfg.Server.Name), logger)
	defer amqpPub.Close()
	publisher := queue.NewRetryingPublisher(amqpPub, cfg.Outbox.PublishAttempts, cfg.Outbox.PublishBackoff, logger)

	dispatcher := service.NewOutboxDispatcher(outbox, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetries, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	sweeper := service.NewExpirationSweeper(seats, cfg.Saga.HoldWindow, cfg.Sweeper.Interval, logger)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	go service.NewExpiryListener(cache, ledger, logger).Run(ctx)

	opts := client.Options{Timeout: cfg.Services.RPCTimeout, Attempts: cfg.Services.RPCAttempts, Backoff: cfg.Services.RPCBackoff}
	lifecycle := service.NewTripLifecycle(ledger, client.NewTripClient(cfg.Services.TripURL, opts, logger), logger)
	consumer := queue.NewConsumer(queue.ConsumerConfig{
		URL:        cfg.Broker.URL,
		Exchange:   cfg.Broker.Exchange,
		Queue:      queue.EventsQueue(cfg.Server.Name),
		EventTypes: service.TripEventTypes,
		Prefetch:   cfg.Broker.Prefetch,
	}, lifecycle.HandleEvent, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Trip event consumer stopped")
		}
	}()

	e := router.NewEcho(logger)
	router.RegisterRoutes(e, map[string]handler.Check{
		"database": db.PingContext,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	router.RegisterSeatRoutes(e, handler.NewSeatHandler(ledger, logger))
	return router.Serve(ctx, e, ":"+cfg.Server.Port, logger)
}
