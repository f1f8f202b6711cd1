package archive

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chairmank/introduction-to-langohr/internal/message"
)

// Archiver is the terminal consumer of the pipeline: it writes each result
// payload to the store under the message's correlation id and acknowledges
// the delivery only after the write succeeds.
type Archiver struct {
	store *Store

	// onArchived, when set, is invoked after each successful write. It feeds
	// the result-ready hub and the pipeline counters.
	onArchived func(id string, res message.Result)
}

// NewArchiver returns an archiver writing to store. onArchived may be nil.
func NewArchiver(store *Store, onArchived func(id string, res message.Result)) *Archiver {
	return &Archiver{store: store, onArchived: onArchived}
}

// Run drains deliveries until the channel closes, archiving each result.
// It returns a non-nil error if the stream ends while the broker connection
// is still expected to be up, or if a write or ack fails — both are fatal to
// the process.
func (a *Archiver) Run(deliveries <-chan amqp.Delivery) error {
	for d := range deliveries {
		if err := a.handle(d); err != nil {
			return err
		}
	}
	return fmt.Errorf("archive: delivery stream closed")
}

func (a *Archiver) handle(d amqp.Delivery) error {
	id := d.CorrelationId

	res, err := message.DecodeResult(d.Body)
	if err != nil {
		// The raw bytes are still archived: the correlation id owns this
		// slot and an undecodable terminal payload must not stall the poll
		// forever. Decoding is re-attempted by the query side.
		slog.Warn("archiver: undecodable result payload", "correlation_id", id, "err", err)
	}

	if err := a.store.Write(id, d.Body); err != nil {
		return fmt.Errorf("archive result %q: %w", id, err)
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("archive: ack result %q: %w", id, err)
	}

	slog.Info("archiver: result stored", "correlation_id", id, "failed", res.Failed())

	if a.onArchived != nil {
		a.onArchived(id, res)
	}
	return nil
}
