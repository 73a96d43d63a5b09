package queue

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// DefaultMemoryCapacity is the per-queue buffer of a MemoryBroker.
const DefaultMemoryCapacity = 5000

type memMessage struct {
	id      string
	msg     Message
	attempt int
}

type memQueue struct {
	spec Spec
	ch   chan memMessage
}

// MemoryBroker is an in-process broker with the same delivery contract as
// the Pulsar one: prefetch credits per subscription, an attempt counter that
// grows on every nack, and dead-lettering into another declared queue.
//
// Each queue is a buffered channel. Publish never blocks: when the buffer is
// full it returns domain.ErrQueueFull so the caller (an HTTP handler) can
// answer 503 instead of hanging. Messages live only as long as the process.
type MemoryBroker struct {
	capacity int
	logger   *zap.Logger

	mu     sync.RWMutex
	queues map[string]*memQueue

	closed    chan struct{}
	closeOnce sync.Once
}

func NewMemoryBroker(capacity int, logger *zap.Logger) *MemoryBroker {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryBroker{
		capacity: capacity,
		logger:   logger,
		queues:   make(map[string]*memQueue),
		closed:   make(chan struct{}),
	}
}

func (b *MemoryBroker) Declare(_ context.Context, spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: queue name is empty", domain.ErrConfiguration)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[spec.Name]; ok {
		if q.spec != spec {
			return fmt.Errorf("%w: %s declared as %+v, requested %+v",
				domain.ErrConfigurationConflict, spec.Name, q.spec, spec)
		}
		return nil
	}

	b.queues[spec.Name] = &memQueue{spec: spec, ch: make(chan memMessage, b.capacity)}
	b.logger.Info("queue declared", zap.String("queue", spec.Name), zap.Bool("durable", spec.Durable))
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, queue string, msg Message) (string, error) {
	q, err := b.queue(queue)
	if err != nil {
		return "", err
	}

	m := memMessage{id: uuid.NewString(), msg: msg, attempt: 1}
	select {
	case q.ch <- m:
		return m.id, nil
	default:
		return "", domain.ErrQueueFull
	}
}

func (b *MemoryBroker) Subscribe(_ context.Context, opts SubscribeOptions) (Subscription, error) {
	q, err := b.queue(opts.Queue)
	if err != nil {
		return nil, err
	}

	prefetch := opts.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &memSubscription{
		broker:  b,
		q:       q,
		opts:    opts,
		credits: make(chan struct{}, prefetch),
		done:    make(chan struct{}),
	}, nil
}

// Depth returns the number of messages waiting in a queue.
func (b *MemoryBroker) Depth(queue string) (int, error) {
	q, err := b.queue(queue)
	if err != nil {
		return 0, err
	}
	return len(q.ch), nil
}

// Close makes every pending and future Receive fail. Buffered messages are
// dropped.
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *MemoryBroker) queue(name string) (*memQueue, error) {
	select {
	case <-b.closed:
		return nil, fmt.Errorf("%w: broker closed", domain.ErrBrokerConnection)
	default:
	}

	b.mu.RLock()
	q, ok := b.queues[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDeclared, name)
	}
	return q, nil
}

type memSubscription struct {
	broker *MemoryBroker
	q      *memQueue
	opts   SubscribeOptions

	// credits holds one token per unsettled delivery.
	credits   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memSubscription) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case s.credits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("%w: subscription closed", domain.ErrBrokerConnection)
	case <-s.broker.closed:
		return nil, fmt.Errorf("%w: broker closed", domain.ErrBrokerConnection)
	}

	select {
	case m := <-s.q.ch:
		return NewDelivery(m.id, m.msg, m.attempt, &memSettler{sub: s, m: m}), nil
	case <-ctx.Done():
		s.release()
		return nil, ctx.Err()
	case <-s.done:
		s.release()
		return nil, fmt.Errorf("%w: subscription closed", domain.ErrBrokerConnection)
	case <-s.broker.closed:
		s.release()
		return nil, fmt.Errorf("%w: broker closed", domain.ErrBrokerConnection)
	}
}

func (s *memSubscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *memSubscription) release() {
	<-s.credits
}

func (s *memSubscription) requeue(m memMessage) {
	select {
	case s.q.ch <- m:
		return
	default:
	}
	// Buffer is full; wait for room rather than lose the message.
	go func() {
		select {
		case s.q.ch <- m:
		case <-s.broker.closed:
		}
	}()
}

func (s *memSubscription) deadLetter(m memMessage, reason string) error {
	if s.opts.DeadLetterQueue == "" {
		return fmt.Errorf("%w: subscription has no dead-letter queue", domain.ErrConfiguration)
	}
	dlq, err := s.broker.queue(s.opts.DeadLetterQueue)
	if err != nil {
		return err
	}

	props := make(map[string]string, len(m.msg.Properties)+1)
	maps.Copy(props, m.msg.Properties)
	props[PropDeadLetterReason] = reason

	dead := memMessage{
		id:      m.id,
		msg:     Message{Body: m.msg.Body, Key: m.msg.Key, Properties: props},
		attempt: 1,
	}
	select {
	case dlq.ch <- dead:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

type memSettler struct {
	sub *memSubscription
	m   memMessage
}

func (s *memSettler) Ack(context.Context) error {
	s.sub.release()
	return nil
}

func (s *memSettler) Nack(context.Context) error {
	s.sub.release()

	limit := s.sub.opts.MaxDeliveries
	if limit > 0 && s.m.attempt >= limit {
		reason := fmt.Sprintf("exceeded %d deliveries", limit)
		if err := s.sub.deadLetter(s.m, reason); err != nil {
			s.sub.broker.logger.Error("memory broker: dead-letter after max deliveries failed",
				zap.String("message_id", s.m.id), zap.Error(err))
		}
		return nil
	}

	next := s.m
	next.attempt++
	if d := s.sub.opts.NackDelay; d > 0 {
		time.AfterFunc(d, func() { s.sub.requeue(next) })
		return nil
	}
	s.sub.requeue(next)
	return nil
}

func (s *memSettler) DeadLetter(_ context.Context, reason string) error {
	if err := s.sub.deadLetter(s.m, reason); err != nil {
		return err
	}
	s.sub.release()
	return nil
}

// compile-time check
var _ Broker = (*MemoryBroker)(nil)
