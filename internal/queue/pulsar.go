package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/apache/pulsar-client-go/pulsaradmin"
	"github.com/apache/pulsar-client-go/pulsaradmin/pkg/rest"
	adminutils "github.com/apache/pulsar-client-go/pulsaradmin/pkg/utils"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// PulsarConfig holds the connection settings of a PulsarBroker.
type PulsarConfig struct {
	URL              string
	AdminURL         string
	Namespace        string // tenant/namespace, defaults to public/default
	OperationTimeout time.Duration
}

type topicAdmin interface {
	CreateWithContext(ctx context.Context, topic adminutils.TopicName, partitions int) error
	GetMetadataWithContext(ctx context.Context, topic adminutils.TopicName) (adminutils.PartitionedTopicMetadata, error)
}

// PulsarBroker maps queues onto Pulsar topics: a durable queue is a
// persistent topic, a non-durable one a non-persistent topic. Subscriptions
// are Shared so several consumers can split one queue.
type PulsarBroker struct {
	client    pulsar.Client
	topics    topicAdmin
	namespace string
	logger    *zap.Logger

	mu        sync.Mutex
	durable   map[string]bool
	producers map[string]pulsar.Producer
}

func NewPulsarBroker(cfg PulsarConfig, logger *zap.Logger) (*PulsarBroker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: pulsar url is empty", domain.ErrConfiguration)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "public/default"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}

	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               cfg.URL,
		OperationTimeout:  cfg.OperationTimeout,
		ConnectionTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerConnection, err)
	}

	admin, err := pulsaradmin.NewClient(&pulsaradmin.Config{WebServiceURL: cfg.AdminURL})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: pulsar admin: %v", domain.ErrConfiguration, err)
	}

	return newPulsarBroker(client, admin.Topics(), cfg.Namespace, logger), nil
}

func newPulsarBroker(client pulsar.Client, topics topicAdmin, namespace string, logger *zap.Logger) *PulsarBroker {
	return &PulsarBroker{
		client:    client,
		topics:    topics,
		namespace: namespace,
		logger:    logger,
		durable:   make(map[string]bool),
		producers: make(map[string]pulsar.Producer),
	}
}

// Declare creates the topic backing spec. An existing topic with the same
// partition count is accepted; a different count is a configuration conflict.
func (b *PulsarBroker) Declare(ctx context.Context, spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: queue name is empty", domain.ErrConfiguration)
	}

	topic := b.topicFor(spec.Name, spec.Durable)
	tn, err := adminutils.GetTopicName(topic)
	if err != nil {
		return fmt.Errorf("%w: topic %s: %v", domain.ErrConfiguration, topic, err)
	}

	err = b.topics.CreateWithContext(ctx, *tn, spec.Partitions)
	if err != nil {
		var adminErr rest.Error
		if !errors.As(err, &adminErr) || adminErr.Code != http.StatusConflict {
			return fmt.Errorf("%w: create topic %s: %v", domain.ErrBrokerConnection, topic, err)
		}

		meta, err := b.topics.GetMetadataWithContext(ctx, *tn)
		if err != nil {
			return fmt.Errorf("%w: topic metadata %s: %v", domain.ErrBrokerConnection, topic, err)
		}
		if meta.Partitions != spec.Partitions {
			return fmt.Errorf("%w: %s has %d partitions, requested %d",
				domain.ErrConfigurationConflict, topic, meta.Partitions, spec.Partitions)
		}
	}

	b.mu.Lock()
	b.durable[spec.Name] = spec.Durable
	b.mu.Unlock()

	b.logger.Info("queue declared",
		zap.String("queue", spec.Name),
		zap.String("topic", topic),
		zap.Int("partitions", spec.Partitions),
	)
	return nil
}

func (b *PulsarBroker) Publish(ctx context.Context, queue string, msg Message) (string, error) {
	prod, err := b.producer(queue)
	if err != nil {
		return "", err
	}

	id, err := prod.Send(ctx, &pulsar.ProducerMessage{
		Payload:    msg.Body,
		Key:        msg.Key,
		Properties: msg.Properties,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: publish to %s: %v", domain.ErrBrokerConnection, queue, err)
	}
	return id.String(), nil
}

func (b *PulsarBroker) Subscribe(_ context.Context, opts SubscribeOptions) (Subscription, error) {
	prefetch := opts.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}

	co := pulsar.ConsumerOptions{
		Topic:               b.topic(opts.Queue),
		SubscriptionName:    opts.Subscription,
		Type:                pulsar.Shared,
		ReceiverQueueSize:   prefetch,
		NackRedeliveryDelay: opts.NackDelay,
	}
	if opts.DeadLetterQueue != "" && opts.MaxDeliveries > 0 {
		co.DLQ = &pulsar.DLQPolicy{
			MaxDeliveries:   uint32(opts.MaxDeliveries),
			DeadLetterTopic: b.topic(opts.DeadLetterQueue),
		}
	}

	cons, err := b.client.Subscribe(co)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s/%s: %v", domain.ErrBrokerConnection, opts.Queue, opts.Subscription, err)
	}
	return &pulsarSubscription{broker: b, consumer: cons, opts: opts}, nil
}

func (b *PulsarBroker) Close() error {
	b.mu.Lock()
	for name, p := range b.producers {
		p.Close()
		delete(b.producers, name)
	}
	b.mu.Unlock()

	b.client.Close()
	return nil
}

func (b *PulsarBroker) producer(queue string) (pulsar.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.producers[queue]; ok {
		return p, nil
	}
	p, err := b.client.CreateProducer(pulsar.ProducerOptions{Topic: b.topicLocked(queue)})
	if err != nil {
		return nil, fmt.Errorf("%w: producer for %s: %v", domain.ErrBrokerConnection, queue, err)
	}
	b.producers[queue] = p
	return p, nil
}

// topic resolves a queue name; queues that were never declared in this
// process are assumed durable.
func (b *PulsarBroker) topic(queue string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topicLocked(queue)
}

func (b *PulsarBroker) topicLocked(queue string) string {
	durable, ok := b.durable[queue]
	return b.topicFor(queue, durable || !ok)
}

func (b *PulsarBroker) topicFor(queue string, durable bool) string {
	scheme := "persistent"
	if !durable {
		scheme = "non-persistent"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, b.namespace, queue)
}

type pulsarSubscription struct {
	broker   *PulsarBroker
	consumer pulsar.Consumer
	opts     SubscribeOptions
}

func (s *pulsarSubscription) Receive(ctx context.Context) (*Delivery, error) {
	msg, err := s.consumer.Receive(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: receive: %v", domain.ErrBrokerConnection, err)
	}

	m := Message{Body: msg.Payload(), Key: msg.Key(), Properties: msg.Properties()}
	attempt := int(msg.RedeliveryCount()) + 1
	return NewDelivery(msg.ID().String(), m, attempt, &pulsarSettler{sub: s, msg: msg}), nil
}

func (s *pulsarSubscription) Close() {
	s.consumer.Close()
}

type pulsarSettler struct {
	sub *pulsarSubscription
	msg pulsar.Message
}

func (s *pulsarSettler) Ack(context.Context) error {
	if err := s.sub.consumer.Ack(s.msg); err != nil {
		return fmt.Errorf("%w: ack: %v", domain.ErrBrokerConnection, err)
	}
	return nil
}

func (s *pulsarSettler) Nack(context.Context) error {
	s.sub.consumer.Nack(s.msg)
	return nil
}

// DeadLetter publishes a copy to the dead-letter topic and acks the
// original.
func (s *pulsarSettler) DeadLetter(ctx context.Context, reason string) error {
	if s.sub.opts.DeadLetterQueue == "" {
		return fmt.Errorf("%w: subscription has no dead-letter queue", domain.ErrConfiguration)
	}

	props := make(map[string]string, len(s.msg.Properties())+2)
	maps.Copy(props, s.msg.Properties())
	props[PropDeadLetterReason] = reason
	props["origin_message_id"] = s.msg.ID().String()
	props["redelivery_count"] = strconv.FormatUint(uint64(s.msg.RedeliveryCount()), 10)

	msg := Message{Body: s.msg.Payload(), Key: s.msg.Key(), Properties: props}
	if _, err := s.sub.broker.Publish(ctx, s.sub.opts.DeadLetterQueue, msg); err != nil {
		return err
	}
	return s.Ack(ctx)
}

// compile-time check
var _ Broker = (*PulsarBroker)(nil)
