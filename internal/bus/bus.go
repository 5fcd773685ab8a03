package bus

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/i474232898/weather-fanout/internal/config"
)

// Bus wraps one AMQP connection and channel against the weather topic
// exchange. A Bus is not safe for concurrent publishers on the same channel;
// each service opens one Bus per publishing goroutine group and serializes
// through Publisher.
type Bus struct {
	cfg  config.BusConfig
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials RabbitMQ, opens a channel, applies QoS, and declares the
// exchange. Queue declaration is opt-in via DeclareTopology so lightweight
// publishers do not redeclare consumer queues.
func Connect(cfg config.BusConfig) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq qos setup failed: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare failed: %w", err)
	}

	return &Bus{cfg: cfg, conn: conn, ch: ch}, nil
}

// DeclareTopology declares every queue and binding the system uses. Safe to
// call from each service; declarations are idempotent.
func (b *Bus) DeclareTopology() error {
	// Rejected request messages dead-letter back through the exchange.
	requestArgs := amqp.Table{
		"x-dead-letter-exchange":    b.cfg.Exchange,
		"x-dead-letter-routing-key": b.cfg.DeadLetterKey,
	}

	queues := []struct {
		name string
		key  string
		args amqp.Table
	}{
		{b.cfg.RequestQueue, b.cfg.RequestKey, requestArgs},
		{b.cfg.ResponseQueue, b.cfg.ResponseKey, nil},
		{b.cfg.IndividualQueue, b.cfg.IndividualKey, nil},
		{b.cfg.AggregatedQueue, b.cfg.AggregatedKey, nil},
		{b.cfg.DeadLetterQueue, b.cfg.DeadLetterKey, nil},
	}

	for _, q := range queues {
		if _, err := b.ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("queue declare %s failed: %w", q.name, err)
		}
		if err := b.ch.QueueBind(q.name, q.key, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s failed: %w", q.name, err)
		}
	}

	return nil
}

// Close releases the channel and connection.
func (b *Bus) Close() error {
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			_ = b.conn.Close()
			return fmt.Errorf("rabbitmq channel close failed: %w", err)
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("rabbitmq connection close failed: %w", err)
		}
	}
	return nil
}

// Config exposes the topology names for consumers.
func (b *Bus) Config() config.BusConfig {
	return b.cfg
}
