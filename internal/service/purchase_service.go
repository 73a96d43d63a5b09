package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/catalog"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/repository"
)

// MetricHooks lets the metrics package observe the service without the
// service importing prometheus.
type MetricHooks struct {
	OnSaved     func(product string)
	OnPublished func(eventType domain.EventType)
}

func (h MetricHooks) withDefaults() MetricHooks {
	if h.OnSaved == nil {
		h.OnSaved = func(string) {}
	}
	if h.OnPublished == nil {
		h.OnPublished = func(domain.EventType) {}
	}
	return h
}

// PurchaseService prices, persists and announces purchases. The queue is
// optional: with a nil publisher purchases are stored but no notification
// events are produced.
type PurchaseService struct {
	repo    repository.PurchaseRepository
	catalog *catalog.Catalog
	pub     queue.Publisher
	queue   string
	logger  *zap.Logger
	hooks   MetricHooks
	now     func() time.Time
}

func NewPurchaseService(
	repo repository.PurchaseRepository,
	cat *catalog.Catalog,
	pub queue.Publisher,
	queueName string,
	logger *zap.Logger,
	hooks MetricHooks,
) *PurchaseService {
	return &PurchaseService{
		repo:    repo,
		catalog: cat,
		pub:     pub,
		queue:   queueName,
		logger:  logger,
		hooks:   hooks.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save validates and prices req, stores the purchase and publishes its
// notification events. A publish failure does not fail the save: the
// purchase stays unnotified and the outbox relay picks it up later.
func (s *PurchaseService) Save(
	ctx context.Context,
	req domain.CreatePurchaseRequest,
	correlationID string,
) (*domain.Purchase, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amount, err := s.catalog.Price(req.Product)
	if err != nil {
		return nil, err
	}

	p := &domain.Purchase{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Product:       req.Product,
		Amount:        amount,
		Phone:         optional(req.Phone),
		Email:         optional(req.Email),
		CorrelationID: correlationID,
		CreatedAt:     s.now(),
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("persist purchase: %w", err)
	}
	s.hooks.OnSaved(p.Product)

	if err := s.announce(ctx, p); err != nil {
		s.logger.Warn("purchase saved but notification events not published",
			zap.String("purchase_id", p.ID),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
	return p, nil
}

func (s *PurchaseService) GetByID(ctx context.Context, id string) (*domain.Purchase, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// List returns a page of purchases and the total number matching filter.
func (s *PurchaseService) List(ctx context.Context, filter domain.PurchaseFilter) ([]*domain.Purchase, int, error) {
	return s.repo.List(ctx, filter)
}

// Delete removes a purchase. Ids that are not UUIDs cannot exist and are
// reported as domain.ErrNotFound.
func (s *PurchaseService) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

// Products lists the catalog the purchase form offers.
func (s *PurchaseService) Products() []catalog.Product {
	return s.catalog.Products()
}

// RelayPending republishes the events of up to limit purchases that were
// saved more than minAge ago and never marked notified. It returns how many
// purchases were relayed.
func (s *PurchaseService) RelayPending(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	if s.pub == nil {
		return 0, nil
	}

	pending, err := s.repo.FindUnnotified(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return 0, fmt.Errorf("find unnotified purchases: %w", err)
	}

	relayed := 0
	for _, p := range pending {
		if err := s.announce(ctx, p); err != nil {
			s.logger.Warn("relay of purchase events failed",
				zap.String("purchase_id", p.ID), zap.Error(err))
			// the broker is most likely down; the rest would fail the same way
			if errors.Is(err, domain.ErrBrokerConnection) {
				break
			}
			continue
		}
		relayed++
	}
	return relayed, nil
}

// Events builds the notification events announcing p: an SMS event when
// a phone number is present and an email event when an address is present.
func Events(p *domain.Purchase) []domain.Event {
	var events []domain.Event
	if p.Phone != nil {
		events = append(events, domain.SMSEvent{
			Name:          p.Name,
			Product:       p.Product,
			Phone:         *p.Phone,
			CorrelationID: p.CorrelationID,
		})
	}
	if p.Email != nil {
		events = append(events, domain.EmailEvent{
			Email:         *p.Email,
			Message:       ConfirmationMessage(p),
			CorrelationID: p.CorrelationID,
		})
	}
	return events
}

// ConfirmationMessage is the body of the purchase confirmation email.
func ConfirmationMessage(p *domain.Purchase) string {
	return fmt.Sprintf("Hi %s, thank you for your purchase of %s. Amount charged: $%.2f.",
		p.Name, p.Product, p.Amount)
}

// announce publishes every event of p keyed by the purchase id, then marks
// the purchase notified. Events already published before a failure are
// published again by the relay; consumers tolerate duplicates.
func (s *PurchaseService) announce(ctx context.Context, p *domain.Purchase) error {
	events := Events(p)
	if s.pub == nil || len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		body, err := domain.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Type(), err)
		}
		msg := queue.Message{
			Body: body,
			Key:  p.ID,
			Properties: map[string]string{
				"type":           string(ev.Type()),
				"correlation_id": p.CorrelationID,
			},
		}
		if _, err := s.pub.Publish(ctx, s.queue, msg); err != nil {
			return fmt.Errorf("publish %s event: %w", ev.Type(), err)
		}
		s.hooks.OnPublished(ev.Type())
	}

	if err := s.repo.MarkNotified(ctx, p.ID, s.now()); err != nil {
		return fmt.Errorf("mark purchase notified: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
