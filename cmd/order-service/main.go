// Command order-service owns orders: it serves the order RPC used by the
// booking saga, follows payment, reservation and booking events, and
// publishes its outbox.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/config"
	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/handler"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
	"github.com/iliyamo/transit-booking/internal/router"
	"github.com/iliyamo/transit-booking/internal/service"
)

func main() {
	cfg, err := config.Load("order-service")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := config.NewLogger(cfg.Server)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("order-service stopped")
	}
	logger.Info("order-service exited")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	outbox := repository.NewOutboxRepo(db)
	orders := service.NewOrderService(repository.NewOrderRepo(db), outbox, logger)

	amqpPub := queue.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange, queue.DeadLetterQueue(cfg.Server.Name), logger)
	defer amqpPub.Close()
	publisher := queue.NewRetryingPublisher(amqpPub, cfg.Outbox.PublishAttempts, cfg.Outbox.PublishBackoff, logger)

	dispatcher := service.NewOutboxDispatcher(outbox, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetries, logger)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		URL:        cfg.Broker.URL,
		Exchange:   cfg.Broker.Exchange,
		Queue:      queue.EventsQueue(cfg.Server.Name),
		EventTypes: service.OrderEventTypes,
		Prefetch:   cfg.Broker.Prefetch,
	}, orders.HandleEvent, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Order event consumer stopped")
		}
	}()

	e := router.NewEcho(logger)
	router.RegisterRoutes(e, map[string]handler.Check{"database": db.PingContext})
	router.RegisterOrderRoutes(e, handler.NewOrderHandler(orders, logger))
	return router.Serve(ctx, e, ":"+cfg.Server.Port, logger)
}
