package bus

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one delivery body. Returning an error rejects the
// message without requeue; on queues with a dead-letter binding that routes
// it to the DLQ.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consume subscribes to queue and dispatches each delivery to handler until
// ctx is cancelled. Deliveries are acked on success and nacked without
// requeue on handler error; redelivery is left to the bus's at-least-once
// semantics rather than a consumer-side retry loop.
func (b *Bus) Consume(ctx context.Context, queue, consumerTag string, handler HandlerFunc) error {
	deliveries, err := b.ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s failed: %w", queue, err)
	}

	log.Printf("INFO: consuming queue %s (tag %s)", queue, consumerTag)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			b.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (b *Bus) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler HandlerFunc) {
	if err := handler(ctx, d.Body); err != nil {
		log.Printf("ERROR: handler failed for %s (delivery %d): %v", queue, d.DeliveryTag, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Printf("ERROR: nack failed for %s: %v", queue, nackErr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Printf("ERROR: ack failed for %s: %v", queue, err)
	}
}
