package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes JSON payloads to the weather exchange. An AMQP channel
// is not safe for concurrent writers, so all publishes serialize through one
// mutex.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type amqpPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewPublisher returns a Publisher bound to the bus's channel and exchange.
func NewPublisher(b *Bus) Publisher {
	return &amqpPublisher{ch: b.ch, exchange: b.cfg.Exchange}
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s failed: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("publish to %s failed: %w", routingKey, err)
	}
	return nil
}
