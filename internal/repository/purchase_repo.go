package repository

import (
	"context"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// PurchaseRepository defines all persistence operations for purchases.
// The pgx implementation is in pg_purchase_repo.go.
// Tests use a hand-written mock (mock_purchase_repo.go).
type PurchaseRepository interface {
	Create(ctx context.Context, p *domain.Purchase) error
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)
	List(ctx context.Context, filter domain.PurchaseFilter) ([]*domain.Purchase, int, error)
	Delete(ctx context.Context, id string) error

	// MarkNotified records that the purchase's notification events are on
	// the queue.
	MarkNotified(ctx context.Context, id string, at time.Time) error
	// FindUnnotified returns purchases created before olderThan whose events
	// were never published, oldest first.
	FindUnnotified(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Purchase, error)
}
