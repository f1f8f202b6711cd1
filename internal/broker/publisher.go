package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes messages on a private confirm-mode channel. Publish
// blocks until the broker acknowledges receipt, so a nil return means the
// message is durably enqueued. There is no internal retry: broker and
// channel failures surface to the caller.
type Publisher struct {
	ch *amqp.Channel
}

// NewPublisher opens a private channel and puts it into confirm mode.
func (c *Conn) NewPublisher() (*Publisher, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close() //nolint:errcheck
		return nil, fmt.Errorf("broker: enable publisher confirms: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

// Publish sends one message to exchange under key, stamped with the
// correlation id and the current wall-clock time, and waits for the broker's
// publisher confirm. A nacked message is reported as an error.
func (p *Publisher) Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error {
	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("broker: publish to %q key %q: %w", exchange, key, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("broker: await confirm for %q key %q: %w", exchange, key, err)
	}
	if !acked {
		return fmt.Errorf("broker: message to %q key %q nacked by broker", exchange, key)
	}
	return nil
}

// Close releases the publisher's channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
