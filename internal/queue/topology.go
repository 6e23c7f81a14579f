package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventsQueue and DeadLetterQueue name the per-service queues.
func EventsQueue(service string) string     { return service + ".events" }
func DeadLetterQueue(service string) string { return service + ".dlq" }

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// declareConsumerQueue declares the durable queue and binds one routing
// key per consumed event type.
func declareConsumerQueue(ch *amqp.Channel, exchange, queue string, eventTypes []string) error {
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	for _, t := range eventTypes {
		if err := ch.QueueBind(queue, t, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, t, err)
		}
	}
	return nil
}
