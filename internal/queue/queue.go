// Package queue is the broker boundary of the notification pipeline.
//
// Producers publish raw message bodies; consumers receive Deliveries and
// settle each one exactly once with Ack, Nack or DeadLetter. Two brokers
// implement the contract: PulsarBroker for deployments and MemoryBroker for
// local runs and tests.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrAlreadySettled is returned when a delivery is acked, nacked or
// dead-lettered a second time.
var ErrAlreadySettled = errors.New("delivery already settled")

// ErrNotDeclared is returned when publishing to or subscribing on a queue
// that was never declared.
var ErrNotDeclared = errors.New("queue not declared")

// PropDeadLetterReason is set on messages routed to a dead-letter queue.
const PropDeadLetterReason = "dead_letter_reason"

// Spec describes a queue. Declaring the same Spec twice is a no-op;
// declaring an existing name with different attributes fails with
// domain.ErrConfigurationConflict.
type Spec struct {
	Name    string
	Durable bool
	// Partitions is 0 for a non-partitioned queue.
	Partitions int
}

type Message struct {
	Body       []byte
	Key        string
	Properties map[string]string
}

// SubscribeOptions configures one consumer's subscription.
type SubscribeOptions struct {
	Queue        string
	Subscription string
	// Prefetch bounds the number of unsettled deliveries held by the
	// subscription at any time.
	Prefetch int
	// MaxDeliveries is the broker-side backstop: a message nacked this many
	// times is moved to DeadLetterQueue without reaching the consumer again.
	MaxDeliveries   int
	DeadLetterQueue string
	NackDelay       time.Duration
}

type Declarer interface {
	Declare(ctx context.Context, spec Spec) error
}

type Publisher interface {
	// Publish returns the broker-assigned message id.
	Publish(ctx context.Context, queue string, msg Message) (string, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
}

// Subscription yields deliveries until it is closed. Receive errors other
// than context cancellation wrap domain.ErrBrokerConnection; the caller is
// expected to close the subscription and subscribe again.
type Subscription interface {
	Receive(ctx context.Context) (*Delivery, error)
	Close()
}

// Broker is everything a process needs from the message broker.
type Broker interface {
	Declarer
	Publisher
	Subscriber
	Close() error
}

// Settler performs the broker side of settling a delivery.
type Settler interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
	DeadLetter(ctx context.Context, reason string) error
}

// Delivery is one received message.
type Delivery struct {
	Body       []byte
	Key        string
	ID         string
	Properties map[string]string
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt int

	settler Settler
	settled atomic.Bool
}

func NewDelivery(id string, msg Message, attempt int, s Settler) *Delivery {
	return &Delivery{
		Body:       msg.Body,
		Key:        msg.Key,
		ID:         id,
		Properties: msg.Properties,
		Attempt:    attempt,
		settler:    s,
	}
}

func (d *Delivery) Ack(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.settler.Ack(ctx)
}

func (d *Delivery) Nack(ctx context.Context) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return d.settler.Nack(ctx)
}

// DeadLetter routes the delivery to the subscription's dead-letter queue
// and removes it from the main queue. If it fails the delivery is left
// unsettled so the caller can fall back to Nack.
func (d *Delivery) DeadLetter(ctx context.Context, reason string) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if err := d.settler.DeadLetter(ctx, reason); err != nil {
		d.settled.Store(false)
		return err
	}
	return nil
}

// Settled reports whether the delivery has been settled.
func (d *Delivery) Settled() bool {
	return d.settled.Load()
}

// DeclareAll declares each spec in order, stopping at the first failure.
func DeclareAll(ctx context.Context, d Declarer, specs ...Spec) error {
	for _, s := range specs {
		if err := d.Declare(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
