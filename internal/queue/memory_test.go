package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/queue"
)

const (
	mainQ = "notification_queue"
	deadQ = "notification_queue-dlq"
)

func newBroker(t *testing.T, capacity int) *queue.MemoryBroker {
	t.Helper()
	b := queue.NewMemoryBroker(capacity, zap.NewNop())
	if err := queue.DeclareAll(context.Background(), b,
		queue.Spec{Name: mainQ, Durable: true},
		queue.Spec{Name: deadQ, Durable: true},
	); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func subscribe(t *testing.T, b *queue.MemoryBroker, opts queue.SubscribeOptions) queue.Subscription {
	t.Helper()
	if opts.Queue == "" {
		opts.Queue = mainQ
	}
	if opts.DeadLetterQueue == "" {
		opts.DeadLetterQueue = deadQ
	}
	sub, err := b.Subscribe(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Close)
	return sub
}

func receive(t *testing.T, sub queue.Subscription) *queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return d
}

func TestMemoryBroker_PublishReceiveAck(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1})

	id, err := b.Publish(context.Background(), mainQ, queue.Message{Body: []byte(`{"type":"sms"}`), Key: "k"})
	if err != nil {
		t.Fatal(err)
	}

	d := receive(t, sub)
	if d.ID != id || string(d.Body) != `{"type":"sms"}` || d.Key != "k" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if d.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", d.Attempt)
	}
	if err := d.Ack(context.Background()); err != nil {
		t.Fatal(err)
	}
	if depth, _ := b.Depth(mainQ); depth != 0 {
		t.Fatalf("expected empty queue after ack, got %d", depth)
	}
}

func TestMemoryBroker_SettleAtMostOnce(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1})
	_, _ = b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")})

	d := receive(t, sub)
	if err := d.Ack(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Nack(context.Background()); !errors.Is(err, queue.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if err := d.DeadLetter(context.Background(), "late"); !errors.Is(err, queue.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

// TestMemoryBroker_PrefetchBoundsUnsettled verifies a subscription never holds
// more than Prefetch unsettled deliveries.
func TestMemoryBroker_PrefetchBoundsUnsettled(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 2})
	for i := 0; i < 3; i++ {
		_, _ = b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")})
	}

	first := receive(t, sub)
	_ = receive(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected third receive to block until deadline, got %v", err)
	}

	if err := first.Ack(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = receive(t, sub)
}

func TestMemoryBroker_NackRedeliversWithNextAttempt(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1, MaxDeliveries: 5})
	_, _ = b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")})

	d := receive(t, sub)
	if err := d.Nack(context.Background()); err != nil {
		t.Fatal(err)
	}

	again := receive(t, sub)
	if again.ID != d.ID {
		t.Fatalf("expected the same message redelivered, got %s", again.ID)
	}
	if again.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", again.Attempt)
	}
}

func TestMemoryBroker_NackPastMaxDeliveriesDeadLetters(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1, MaxDeliveries: 2})
	_, _ = b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")})

	_ = receive(t, sub).Nack(context.Background())
	_ = receive(t, sub).Nack(context.Background())

	if depth, _ := b.Depth(mainQ); depth != 0 {
		t.Fatalf("expected main queue empty, got %d", depth)
	}
	if depth, _ := b.Depth(deadQ); depth != 1 {
		t.Fatalf("expected one dead letter, got %d", depth)
	}
}

func TestMemoryBroker_DeadLetterCarriesReason(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1})
	_, _ = b.Publish(context.Background(), mainQ, queue.Message{
		Body:       []byte("not json"),
		Properties: map[string]string{"correlation_id": "c-1"},
	})

	if err := receive(t, sub).DeadLetter(context.Background(), "malformed message body"); err != nil {
		t.Fatal(err)
	}

	dlqSub := subscribe(t, b, queue.SubscribeOptions{Queue: deadQ, Prefetch: 1})
	dead := receive(t, dlqSub)
	if string(dead.Body) != "not json" {
		t.Fatalf("unexpected body %q", dead.Body)
	}
	if dead.Properties[queue.PropDeadLetterReason] != "malformed message body" {
		t.Fatalf("missing reason, properties=%v", dead.Properties)
	}
	if dead.Properties["correlation_id"] != "c-1" {
		t.Fatalf("original properties not kept: %v", dead.Properties)
	}
}

func TestMemoryBroker_DeadLetterFailureLeavesDeliveryUnsettled(t *testing.T) {
	b := queue.NewMemoryBroker(10, zap.NewNop())
	_ = b.Declare(context.Background(), queue.Spec{Name: mainQ, Durable: true})
	sub, _ := b.Subscribe(context.Background(), queue.SubscribeOptions{
		Queue: mainQ, Prefetch: 1, DeadLetterQueue: "never-declared",
	})
	_, _ = b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")})

	d := receive(t, sub)
	if err := d.DeadLetter(context.Background(), "poison"); !errors.Is(err, queue.ErrNotDeclared) {
		t.Fatalf("expected ErrNotDeclared, got %v", err)
	}
	if d.Settled() {
		t.Fatal("failed dead-letter must leave the delivery unsettled")
	}
	if err := d.Nack(context.Background()); err != nil {
		t.Fatalf("fallback nack failed: %v", err)
	}
}

func TestMemoryBroker_ErrQueueFull(t *testing.T) {
	b := newBroker(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")}); err != nil {
			t.Fatalf("unexpected error on publish %d: %v", i, err)
		}
	}
	if _, err := b.Publish(context.Background(), mainQ, queue.Message{Body: []byte("x")}); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestMemoryBroker_DeclareIsIdempotent(t *testing.T) {
	b := queue.NewMemoryBroker(10, zap.NewNop())
	spec := queue.Spec{Name: mainQ, Durable: true}

	if err := b.Declare(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	if err := b.Declare(context.Background(), spec); err != nil {
		t.Fatalf("redeclare with same attributes: %v", err)
	}

	err := b.Declare(context.Background(), queue.Spec{Name: mainQ, Durable: false})
	if !errors.Is(err, domain.ErrConfigurationConflict) {
		t.Fatalf("expected ErrConfigurationConflict, got %v", err)
	}
}

func TestMemoryBroker_PublishToUndeclaredQueue(t *testing.T) {
	b := queue.NewMemoryBroker(10, zap.NewNop())
	if _, err := b.Publish(context.Background(), "nope", queue.Message{}); !errors.Is(err, queue.ErrNotDeclared) {
		t.Fatalf("expected ErrNotDeclared, got %v", err)
	}
}

// TestMemoryBroker_ReceiveUnblocksOnCancel verifies Receive returns the
// context error when cancelled while waiting.
func TestMemoryBroker_ReceiveUnblocksOnCancel(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after context cancellation")
	}
}

func TestMemoryBroker_ClosedBrokerIsConnectionError(t *testing.T) {
	b := newBroker(t, 10)
	sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 1})
	_ = b.Close()

	if _, err := sub.Receive(context.Background()); !errors.Is(err, domain.ErrBrokerConnection) {
		t.Fatalf("expected ErrBrokerConnection, got %v", err)
	}
}

// TestMemoryBroker_ConcurrentPublishReceive verifies there are no races
// when several producers and consumers share a queue.
func TestMemoryBroker_ConcurrentPublishReceive(t *testing.T) {
	b := newBroker(t, 1000)

	const producers = 5
	const perProducer = 100
	const total = producers * perProducer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan struct{}, total)
	var consumers sync.WaitGroup
	for i := 0; i < 3; i++ {
		sub := subscribe(t, b, queue.SubscribeOptions{Prefetch: 4})
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				d, err := sub.Receive(ctx)
				if err != nil {
					return
				}
				_ = d.Ack(ctx)
				received <- struct{}{}
			}
		}()
	}

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				_, _ = b.Publish(ctx, mainQ, queue.Message{Body: []byte("x")})
			}
		}()
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d messages", i, total)
		}
	}
	cancel()
	consumers.Wait()
}
