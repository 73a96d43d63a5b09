package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// MockPurchaseRepository is a hand-written, in-memory implementation of
// PurchaseRepository used in unit tests and by the purchase service when no
// database is configured.
type MockPurchaseRepository struct {
	mu        sync.RWMutex
	purchases map[string]*domain.Purchase

	// Optional error overrides; set in tests to simulate failure paths.
	CreateErr         error
	ListErr           error
	MarkNotifiedErr   error
	FindUnnotifiedErr error
}

func NewMockPurchaseRepository() *MockPurchaseRepository {
	return &MockPurchaseRepository{purchases: make(map[string]*domain.Purchase)}
}

func (m *MockPurchaseRepository) Create(_ context.Context, p *domain.Purchase) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *p
	m.purchases[p.ID] = &clone
	return nil
}

func (m *MockPurchaseRepository) GetByID(_ context.Context, id string) (*domain.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *MockPurchaseRepository) List(_ context.Context, f domain.PurchaseFilter) ([]*domain.Purchase, int, error) {
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Purchase, 0, len(m.purchases))
	for _, p := range m.purchases {
		if f.Product != nil && p.Product != *f.Product {
			continue
		}
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && p.CreatedAt.After(*f.To) {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	total := len(result)
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		end := start + f.Limit
		if end > total {
			end = total
		}
		result = result[start:end]
	}
	return result, total, nil
}

func (m *MockPurchaseRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.purchases, id)
	return nil
}

func (m *MockPurchaseRepository) MarkNotified(_ context.Context, id string, at time.Time) error {
	if m.MarkNotifiedErr != nil {
		return m.MarkNotifiedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.purchases[id]; ok {
		p.NotifiedAt = &at
	}
	return nil
}

func (m *MockPurchaseRepository) FindUnnotified(_ context.Context, olderThan time.Time, limit int) ([]*domain.Purchase, error) {
	if m.FindUnnotifiedErr != nil {
		return nil, m.FindUnnotifiedErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Purchase
	for _, p := range m.purchases {
		if p.NotifiedAt != nil || (p.Phone == nil && p.Email == nil) || p.CreatedAt.After(olderThan) {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// compile-time check
var _ PurchaseRepository = (*MockPurchaseRepository)(nil)
