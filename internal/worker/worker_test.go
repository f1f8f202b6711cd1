package worker

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chairmank/introduction-to-langohr/internal/broker"
	"github.com/chairmank/introduction-to-langohr/internal/message"
)

var testTopo = broker.Topology{
	Exchange:  "compute",
	TaskKey:   "task",
	ResultKey: "result",
}

// recordedPublish captures one Publish call.
type recordedPublish struct {
	exchange, key, correlationID string
	body                         []byte
}

// fakePublisher records publishes and can be made to fail.
type fakePublisher struct {
	published []recordedPublish
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, recordedPublish{exchange, key, correlationID, body})
	return nil
}

// fakeAcknowledger records acks and can be made to fail.
type fakeAcknowledger struct {
	acked int
	err   error
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	if f.err != nil {
		return f.err
	}
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error         { return nil }

func taskDelivery(t *testing.T, ack amqp.Acknowledger, id string, numbers []float64) amqp.Delivery {
	t.Helper()
	body, err := message.EncodeTask(message.Task{Numbers: numbers})
	if err != nil {
		t.Fatalf("encode task: %v", err)
	}
	return amqp.Delivery{
		Acknowledger:  ack,
		CorrelationId: id,
		Body:          body,
		DeliveryTag:   1,
	}
}

func TestHandle_LoopsBackShorterTask(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := taskDelivery(t, ack, "chain-1", []float64{0, 1, 2, 3, 4, 5})
	if err := w.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("publishes: got %d, want 1", len(pub.published))
	}
	p := pub.published[0]
	if p.exchange != "compute" || p.key != "task" {
		t.Errorf("routing: got %s/%s, want compute/task", p.exchange, p.key)
	}
	if p.correlationID != "chain-1" {
		t.Errorf("correlation id: got %q, want chain-1", p.correlationID)
	}

	task, err := message.DecodeTask(p.body)
	if err != nil {
		t.Fatalf("decode republished task: %v", err)
	}
	if len(task.Numbers) != 5 {
		t.Errorf("remaining: got %d elements, want 5", len(task.Numbers))
	}
	if task.Numbers[0] != 1 {
		t.Errorf("folded head: got %v, want 1", task.Numbers[0])
	}
	if ack.acked != 1 {
		t.Errorf("acks: got %d, want 1", ack.acked)
	}
}

func TestHandle_SingletonBecomesResult(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := taskDelivery(t, ack, "chain-2", []float64{7})
	if err := w.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p := pub.published[0]
	if p.key != "result" {
		t.Fatalf("routing key: got %q, want result", p.key)
	}
	res, err := message.DecodeResult(p.body)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Failed() || *res.Sum != 7 {
		t.Errorf("result: got %+v, want sum 7", res)
	}
}

func TestHandle_EmptySequenceSumsToZero(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := taskDelivery(t, ack, "chain-3", nil)
	if err := w.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p := pub.published[0]
	if p.key != "result" {
		t.Fatalf("routing key: got %q, want result", p.key)
	}
	res, _ := message.DecodeResult(p.body)
	if res.Failed() || *res.Sum != 0 {
		t.Errorf("result: got %+v, want sum 0", res)
	}
}

func TestHandle_MalformedPayloadBecomesErrorResult(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := amqp.Delivery{
		Acknowledger:  ack,
		CorrelationId: "chain-4",
		Body:          []byte(`{"numbers": "not a sequence"}`),
		DeliveryTag:   1,
	}
	if err := w.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p := pub.published[0]
	if p.key != "result" {
		t.Fatalf("routing key: got %q, want result — errors never re-enter the task path", p.key)
	}
	res, err := message.DecodeResult(p.body)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Failed() {
		t.Error("result: expected error variant")
	}
	if ack.acked != 1 {
		t.Errorf("acks: got %d, want 1 — malformed input is handled, not redelivered", ack.acked)
	}
}

func TestHandle_NoAckOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := taskDelivery(t, ack, "chain-5", []float64{1, 2})
	if err := w.handle(context.Background(), d); err == nil {
		t.Fatal("handle with failing publisher: expected error, got nil")
	}
	if ack.acked != 0 {
		t.Errorf("acks: got %d, want 0 — ack only after confirmed republish", ack.acked)
	}
}

func TestHandle_CountsSteps(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	steps := 0
	w := New(pub, testTopo, 0, func() { steps++ })

	d := taskDelivery(t, ack, "chain-6", []float64{1, 2, 3})
	if err := w.handle(context.Background(), d); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if steps != 1 {
		t.Errorf("steps: got %d, want 1", steps)
	}
}

// TestChain_RunsToCompletion drives a full chain by feeding each loop-back
// publish straight back into the worker, the way the broker would.
func TestChain_RunsToCompletion(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}
	w := New(pub, testTopo, 0, nil)

	d := taskDelivery(t, ack, "chain-7", []float64{0, 1, 2, 3, 4, 5})
	hops := 0
	for {
		if err := w.handle(context.Background(), d); err != nil {
			t.Fatalf("hop %d: %v", hops, err)
		}
		hops++
		if hops > 20 {
			t.Fatal("chain did not terminate")
		}

		p := pub.published[len(pub.published)-1]
		if p.correlationID != "chain-7" {
			t.Fatalf("hop %d: correlation id %q leaked", hops, p.correlationID)
		}
		if p.key == "result" {
			res, err := message.DecodeResult(p.body)
			if err != nil {
				t.Fatalf("decode terminal result: %v", err)
			}
			if res.Failed() || *res.Sum != 15 {
				t.Errorf("terminal result: got %+v, want sum 15", res)
			}
			break
		}
		d = amqp.Delivery{
			Acknowledger:  ack,
			CorrelationId: p.correlationID,
			Body:          p.body,
			DeliveryTag:   uint64(hops + 1),
		}
	}

	// Six numbers: five reduction hops plus the terminal hop.
	if hops != 6 {
		t.Errorf("hops: got %d, want 6", hops)
	}
	if ack.acked != hops {
		t.Errorf("acks: got %d, want %d", ack.acked, hops)
	}
}
