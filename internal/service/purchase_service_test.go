package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/catalog"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/queue"
	"github.com/notifyhub/purchase-notify/internal/repository"
	"github.com/notifyhub/purchase-notify/internal/service"
)

const testQueue = "notification_queue"

func newService(t *testing.T) (*service.PurchaseService, *repository.MockPurchaseRepository, *queue.MemoryBroker) {
	t.Helper()
	repo := repository.NewMockPurchaseRepository()
	broker := queue.NewMemoryBroker(16, zap.NewNop())
	if err := broker.Declare(context.Background(), queue.Spec{Name: testQueue, Durable: true}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	svc := service.NewPurchaseService(repo, catalog.Default(), broker, testQueue, zap.NewNop(), service.MetricHooks{})
	return svc, repo, broker
}

// failingPublisher rejects every publish with err.
type failingPublisher struct {
	err   error
	calls int
}

func (f *failingPublisher) Publish(context.Context, string, queue.Message) (string, error) {
	f.calls++
	return "", f.err
}

var validReq = domain.CreatePurchaseRequest{
	Name:    "Dana",
	Product: "Product A",
	Phone:   "+15550001111",
	Email:   "dana@example.com",
}

func drain(t *testing.T, broker *queue.MemoryBroker, n int) []*queue.Delivery {
	t.Helper()
	sub, err := broker.Subscribe(context.Background(), queue.SubscribeOptions{Queue: testQueue, Prefetch: n})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make([]*queue.Delivery, 0, n)
	for i := 0; i < n; i++ {
		d, err := sub.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		out = append(out, d)
	}
	return out
}

func TestPurchaseService_Save(t *testing.T) {
	svc, repo, broker := newService(t)
	ctx := context.Background()

	p, err := svc.Save(ctx, validReq, "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected a non-empty ID")
	}
	if p.Amount != 10.99 {
		t.Fatalf("expected amount 10.99 from the catalog, got %v", p.Amount)
	}

	stored, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("purchase not stored: %v", err)
	}
	if stored.NotifiedAt == nil {
		t.Fatal("expected purchase to be marked notified after publishing")
	}

	depth, _ := broker.Depth(testQueue)
	if depth != 2 {
		t.Fatalf("expected 2 events (sms + email), got %d", depth)
	}

	var sawSMS, sawEmail bool
	for _, d := range drain(t, broker, 2) {
		if d.Key != p.ID {
			t.Fatalf("expected message key %s, got %s", p.ID, d.Key)
		}
		ev, err := domain.Decode(d.Body)
		if err != nil {
			t.Fatalf("published event does not decode: %v", err)
		}
		if ev.Correlation() != "corr-1" {
			t.Fatalf("expected correlation id corr-1, got %q", ev.Correlation())
		}
		switch e := ev.(type) {
		case domain.SMSEvent:
			sawSMS = true
			if e.Name != "Dana" || e.Product != "Product A" || e.Phone != "+15550001111" {
				t.Fatalf("unexpected sms event %+v", e)
			}
		case domain.EmailEvent:
			sawEmail = true
			if e.Email != "dana@example.com" || !strings.Contains(e.Message, "Product A") {
				t.Fatalf("unexpected email event %+v", e)
			}
		}
	}
	if !sawSMS || !sawEmail {
		t.Fatalf("expected both events, sms=%v email=%v", sawSMS, sawEmail)
	}
}

func TestPurchaseService_Save_OnlyPresentChannels(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		email string
		want  int
	}{
		{"phone only", "+15550001111", "", 1},
		{"email only", "", "dana@example.com", 1},
		{"neither", "", "", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, broker := newService(t)
			req := validReq
			req.Phone, req.Email = tc.phone, tc.email

			if _, err := svc.Save(context.Background(), req, ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if depth, _ := broker.Depth(testQueue); depth != tc.want {
				t.Fatalf("expected %d events, got %d", tc.want, depth)
			}
		})
	}
}

func TestPurchaseService_Save_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.CreatePurchaseRequest)
		want   error
	}{
		{"unknown product", func(r *domain.CreatePurchaseRequest) { r.Product = "Product Z" }, domain.ErrInvalidProduct},
		{"empty name", func(r *domain.CreatePurchaseRequest) { r.Name = "" }, domain.ErrInvalidName},
		{"bad email", func(r *domain.CreatePurchaseRequest) { r.Email = "nope" }, domain.ErrInvalidEmail},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, broker := newService(t)
			req := validReq
			tc.mutate(&req)

			_, err := svc.Save(context.Background(), req, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if _, total, _ := repo.List(context.Background(), domain.PurchaseFilter{}); total != 0 {
				t.Fatalf("expected nothing stored, got %d purchases", total)
			}
			if depth, _ := broker.Depth(testQueue); depth != 0 {
				t.Fatalf("expected no events, got %d", depth)
			}
		})
	}
}

func TestPurchaseService_Save_RepositoryError(t *testing.T) {
	svc, repo, _ := newService(t)
	repo.CreateErr = errors.New("db down")

	if _, err := svc.Save(context.Background(), validReq, ""); err == nil {
		t.Fatal("expected an error when the repository fails")
	}
}

func TestPurchaseService_Save_PublishFailureKeepsPurchase(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	pub := &failingPublisher{err: domain.ErrQueueFull}
	svc := service.NewPurchaseService(repo, catalog.Default(), pub, testQueue, zap.NewNop(), service.MetricHooks{})

	p, err := svc.Save(context.Background(), validReq, "")
	if err != nil {
		t.Fatalf("publish failure must not fail the save, got %v", err)
	}

	stored, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("purchase not stored: %v", err)
	}
	if stored.NotifiedAt != nil {
		t.Fatal("purchase must stay unnotified when publishing failed")
	}
}

func TestPurchaseService_Save_WithoutPublisher(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	svc := service.NewPurchaseService(repo, catalog.Default(), nil, testQueue, zap.NewNop(), service.MetricHooks{})

	if _, err := svc.Save(context.Background(), validReq, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := svc.RelayPending(context.Background(), 0, 10)
	if err != nil || n != 0 {
		t.Fatalf("expected relay to be a no-op, got n=%d err=%v", n, err)
	}
}

func TestPurchaseService_Hooks(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	broker := queue.NewMemoryBroker(16, zap.NewNop())
	_ = broker.Declare(context.Background(), queue.Spec{Name: testQueue, Durable: true})

	var saved []string
	published := map[domain.EventType]int{}
	svc := service.NewPurchaseService(repo, catalog.Default(), broker, testQueue, zap.NewNop(), service.MetricHooks{
		OnSaved:     func(product string) { saved = append(saved, product) },
		OnPublished: func(et domain.EventType) { published[et]++ },
	})

	if _, err := svc.Save(context.Background(), validReq, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(saved) != 1 || saved[0] != "Product A" {
		t.Fatalf("unexpected saved hooks %v", saved)
	}
	if published[domain.EventSMS] != 1 || published[domain.EventEmail] != 1 {
		t.Fatalf("unexpected published hooks %v", published)
	}
}

func TestPurchaseService_RelayPending(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	pub := &failingPublisher{err: domain.ErrQueueFull}
	failing := service.NewPurchaseService(repo, catalog.Default(), pub, testQueue, zap.NewNop(), service.MetricHooks{})

	p, err := failing.Save(context.Background(), validReq, "corr-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broker := queue.NewMemoryBroker(16, zap.NewNop())
	_ = broker.Declare(context.Background(), queue.Spec{Name: testQueue, Durable: true})
	svc := service.NewPurchaseService(repo, catalog.Default(), broker, testQueue, zap.NewNop(), service.MetricHooks{})

	n, err := svc.RelayPending(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purchase relayed, got %d", n)
	}
	if depth, _ := broker.Depth(testQueue); depth != 2 {
		t.Fatalf("expected 2 relayed events, got %d", depth)
	}

	stored, _ := repo.GetByID(context.Background(), p.ID)
	if stored.NotifiedAt == nil {
		t.Fatal("expected relayed purchase to be marked notified")
	}

	// a second pass finds nothing left to relay
	n, _ = svc.RelayPending(context.Background(), 0, 10)
	if n != 0 {
		t.Fatalf("expected nothing left to relay, got %d", n)
	}
}

func TestPurchaseService_RelayPending_RespectsMinAge(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	pub := &failingPublisher{err: domain.ErrQueueFull}
	svc := service.NewPurchaseService(repo, catalog.Default(), pub, testQueue, zap.NewNop(), service.MetricHooks{})

	if _, err := svc.Save(context.Background(), validReq, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := pub.calls

	n, err := svc.RelayPending(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 || pub.calls != calls {
		t.Fatalf("fresh purchases must not be relayed yet, n=%d publishes=%d", n, pub.calls-calls)
	}
}

func TestPurchaseService_RelayPending_StopsOnBrokerOutage(t *testing.T) {
	repo := repository.NewMockPurchaseRepository()
	pub := &failingPublisher{err: domain.ErrBrokerConnection}
	svc := service.NewPurchaseService(repo, catalog.Default(), pub, testQueue, zap.NewNop(), service.MetricHooks{})

	for i := 0; i < 3; i++ {
		if _, err := svc.Save(context.Background(), validReq, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	pub.calls = 0

	n, err := svc.RelayPending(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing relayed, got %d", n)
	}
	if pub.calls != 1 {
		t.Fatalf("expected the relay to stop after the first broker error, got %d publishes", pub.calls)
	}
}

func TestPurchaseService_RelayPending_RepositoryError(t *testing.T) {
	svc, repo, _ := newService(t)
	repo.FindUnnotifiedErr = errors.New("db down")

	if _, err := svc.RelayPending(context.Background(), 0, 10); err == nil {
		t.Fatal("expected an error when the lookup fails")
	}
}

func TestPurchaseService_Delete(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	p, err := svc.Save(ctx, validReq, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := svc.Delete(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestPurchaseService_List(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	for _, product := range []string{"Product A", "Product B", "Product A"} {
		req := validReq
		req.Product = product
		if _, err := svc.Save(ctx, req, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, total, err := svc.List(ctx, domain.PurchaseFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("expected 3 purchases, got total=%d len=%d", total, len(all))
	}

	product := "Product B"
	filtered, total, _ := svc.List(ctx, domain.PurchaseFilter{Product: &product})
	if total != 1 || filtered[0].Amount != 19.99 {
		t.Fatalf("expected one Product B purchase priced 19.99, got %d", total)
	}
}

func TestEvents(t *testing.T) {
	phone := "+15550001111"
	p := &domain.Purchase{ID: "id", Name: "Dana", Product: "Product C", Amount: 5.99, Phone: &phone}

	events := service.Events(p)
	if len(events) != 1 || events[0].Type() != domain.EventSMS {
		t.Fatalf("expected a single sms event, got %v", events)
	}
	if got := service.ConfirmationMessage(p); !strings.Contains(got, "$5.99") {
		t.Fatalf("expected amount in confirmation, got %q", got)
	}
}
