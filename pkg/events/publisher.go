package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"taskloop/pkg/logger"
	"taskloop/pkg/metrics"
)

// Broker is the publish side of the message bus. *mq.Publisher satisfies it.
type Broker interface {
	Publish(routingKey string, payload any) error
}

// Publisher is a thin wrapper around the broker for typed domain events.
// Publish errors are always returned to the caller: whether a failed publish
// fails the triggering operation is a call-site decision, never decided here.
type Publisher struct {
	broker Broker
	logger *zap.Logger
}

func NewPublisher(broker Broker, log *zap.Logger) *Publisher {
	return &Publisher{broker: broker, logger: log}
}

// Publish sends an event to the topic exchange under the given routing key.
// The event is expected to embed contracts/mq.EventMeta, stamped by the
// caller via mq.NewEventMeta.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	log := logger.WithTrace(ctx, p.logger)

	if err := p.broker.Publish(routingKey, event); err != nil {
		metrics.RecordEventPublished(routingKey, "error")
		log.Error("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	metrics.RecordEventPublished(routingKey, "ok")
	log.Debug("Event published",
		zap.String("routing_key", routingKey),
	)
	return nil
}
