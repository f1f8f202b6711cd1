// Package worker implements the reduction step machine. Each task delivery
// carries the entire in-flight state of its chain: the worker applies one
// pairwise reduction, republishes either a shorter task or a terminal
// result under the same correlation id, and only then acknowledges the
// original delivery. Because step N+1 does not exist until step N publishes
// it, each chain is strictly sequential and self-throttling, however many
// distinct chains interleave on the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chairmank/introduction-to-langohr/internal/broker"
	"github.com/chairmank/introduction-to-langohr/internal/message"
	"github.com/chairmank/introduction-to-langohr/internal/reduce"
)

// Publisher publishes one message and blocks until the broker confirms it.
type Publisher interface {
	Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error
}

// Worker consumes task deliveries and advances their reduction chains.
type Worker struct {
	pub  Publisher
	topo broker.Topology

	// stepDelay stands in for real per-step computation cost. Zero disables it.
	stepDelay time.Duration

	// onStep, when set, is invoked after each completed step.
	onStep func()
}

// New returns a worker that republishes through pub using topo's exchange
// and routing keys.
func New(pub Publisher, topo broker.Topology, stepDelay time.Duration, onStep func()) *Worker {
	return &Worker{pub: pub, topo: topo, stepDelay: stepDelay, onStep: onStep}
}

// Run drains deliveries until the channel closes or a step fails. Publish
// and ack failures are fatal: the delivery stays unacknowledged so the
// broker's redelivery policy decides its fate, and the error propagates out.
func (w *Worker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		if err := w.handle(ctx, d); err != nil {
			return err
		}
	}
	return fmt.Errorf("worker: delivery stream closed")
}

// handle performs one reduction step for a single delivery.
func (w *Worker) handle(ctx context.Context, d amqp.Delivery) error {
	id := d.CorrelationId

	if w.stepDelay > 0 {
		select {
		case <-time.After(w.stepDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	body, key, err := w.next(d.Body, id)
	if err != nil {
		return err
	}

	if err := w.pub.Publish(ctx, w.topo.Exchange, key, id, body); err != nil {
		return fmt.Errorf("worker: republish %q: %w", id, err)
	}

	// Ack strictly after the republish is confirmed, so a crash between the
	// two can duplicate a step but never lose one.
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("worker: ack %q: %w", id, err)
	}

	if w.onStep != nil {
		w.onStep()
	}
	return nil
}

// next computes the follow-up message for a task payload: a shorter task for
// sequences that still need reducing, a terminal result otherwise. A payload
// that does not decode as a task violates the pipeline contract and becomes
// an error result so the failure surfaces at the query endpoint instead of
// stalling the chain.
func (w *Worker) next(payload []byte, id string) (body []byte, key string, err error) {
	task, err := message.DecodeTask(payload)
	if err != nil {
		slog.Warn("worker: malformed task payload", "correlation_id", id, "err", err)
		body, err = message.EncodeResult(message.Err(err.Error()))
		if err != nil {
			return nil, "", fmt.Errorf("worker: encode error result %q: %w", id, err)
		}
		return body, w.topo.ResultKey, nil
	}

	if reduce.Terminal(task.Numbers) {
		sum := reduce.Final(task.Numbers)
		slog.Info("worker: chain complete", "correlation_id", id, "sum", sum)
		body, err = message.EncodeResult(message.Ok(sum))
		if err != nil {
			return nil, "", fmt.Errorf("worker: encode result %q: %w", id, err)
		}
		return body, w.topo.ResultKey, nil
	}

	reduced := reduce.Step(task.Numbers)
	slog.Debug("worker: step applied", "correlation_id", id, "remaining", len(reduced))
	body, err = message.EncodeTask(message.Task{Numbers: reduced})
	if err != nil {
		return nil, "", fmt.Errorf("worker: encode task %q: %w", id, err)
	}
	return body, w.topo.TaskKey, nil
}
