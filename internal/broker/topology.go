package broker

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channelAPI is the subset of amqp.Channel that queue declaration needs,
// extracted so tests can exercise the declaration logic without a broker.
type channelAPI interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology names the exchange and queues the pipeline runs over: one direct
// exchange and two private queues bound to the task and result routing keys.
// Queue names are server-generated and filled in by DeclareTopology.
type Topology struct {
	Exchange  string
	TaskKey   string
	ResultKey string

	TaskQueue   string
	ResultQueue string
}

// DeclareTopology declares the direct exchange and binds two exclusive,
// server-named queues to the task and result routing keys. Re-declaring an
// exchange with identical parameters is a broker-side no-op, so calling this
// at every startup is safe.
func (c *Conn) DeclareTopology(exchange, taskKey, resultKey string) (*Topology, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // kind
		false,    // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // args
	); err != nil {
		return nil, fmt.Errorf("broker: declare exchange %q: %w", exchange, err)
	}

	t := &Topology{Exchange: exchange, TaskKey: taskKey, ResultKey: resultKey}

	t.TaskQueue, err = declareBoundQueue(ch, exchange, taskKey)
	if err != nil {
		return nil, err
	}
	t.ResultQueue, err = declareBoundQueue(ch, exchange, resultKey)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// declareBoundQueue declares one exclusive server-named queue and binds it to
// exchange under key.
func declareBoundQueue(ch channelAPI, exchange, key string) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		false, // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return "", fmt.Errorf("broker: declare queue for key %q: %w", key, err)
	}
	if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
		return "", fmt.Errorf("broker: bind queue %q to %q key %q: %w", q.Name, exchange, key, err)
	}
	return q.Name, nil
}

// TeardownTopology unbinds and deletes the queues and the exchange on a
// best-effort basis. Cleanup is advisory: every failure is swallowed so
// shutdown is never blocked on the broker.
func (c *Conn) TeardownTopology(t *Topology) {
	ch, err := c.conn.Channel()
	if err != nil {
		slog.Debug("broker: teardown skipped, channel unavailable", "err", err)
		return
	}
	defer ch.Close() //nolint:errcheck

	for queue, key := range map[string]string{t.TaskQueue: t.TaskKey, t.ResultQueue: t.ResultKey} {
		if queue == "" {
			continue
		}
		if err := ch.QueueUnbind(queue, key, t.Exchange, nil); err != nil {
			slog.Debug("broker: unbind failed during teardown", "queue", queue, "err", err)
		}
		if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
			slog.Debug("broker: queue delete failed during teardown", "queue", queue, "err", err)
		}
	}
	if err := ch.ExchangeDelete(t.Exchange, false, false); err != nil {
		slog.Debug("broker: exchange delete failed during teardown", "exchange", t.Exchange, "err", err)
	}
}
