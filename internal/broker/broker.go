// Package broker wraps the AMQP client behind the narrow surface the
// pipeline needs: a confirm-mode publisher, manual-ack consumers, and the
// exchange/queue topology. Every publisher and every consumer owns a private
// channel — channels are never shared across goroutines.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is an established connection to the broker. It hands out private
// channels to publishers and consumers and is safe to share between them.
type Conn struct {
	conn *amqp.Connection
}

// Dial connects to the broker at url.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %q: %w", url, err)
	}
	return &Conn{conn: conn}, nil
}

// Close tears down the underlying connection and every channel opened on it.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Consumer is a manual-ack subscription to a single queue on its own channel.
// Prefetch is limited to one delivery so a slow handler never accumulates
// unacknowledged messages.
type Consumer struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewConsumer opens a private channel and subscribes to queue. The returned
// consumer delivers until its channel or the connection closes.
func (c *Conn) NewConsumer(queue string) (*Consumer, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open consumer channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close() //nolint:errcheck
		return nil, fmt.Errorf("broker: set qos on %q: %w", queue, err)
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag (server-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close() //nolint:errcheck
		return nil, fmt.Errorf("broker: consume %q: %w", queue, err)
	}

	return &Consumer{ch: ch, deliveries: deliveries}, nil
}

// Deliveries returns the stream of pending deliveries. The channel closes
// when the consumer or the connection shuts down.
func (cn *Consumer) Deliveries() <-chan amqp.Delivery {
	return cn.deliveries
}

// Close cancels the subscription and releases the channel.
func (cn *Consumer) Close() error {
	return cn.ch.Close()
}
