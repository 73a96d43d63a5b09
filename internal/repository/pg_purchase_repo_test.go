package repository

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

func TestBuildListWhere(t *testing.T) {
	product := "Product A"
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args := buildListWhere(domain.PurchaseFilter{})
	if where != "" || len(args) != 0 {
		t.Fatalf("expected no filter, got %q %v", where, args)
	}

	where, args = buildListWhere(domain.PurchaseFilter{Product: &product, From: &from})
	if where != " WHERE product = $1 AND created_at >= $2" {
		t.Fatalf("unexpected where clause %q", where)
	}
	if len(args) != 2 || args[0] != product || args[1] != from {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestMockPurchaseRepository_FindUnnotified(t *testing.T) {
	repo := NewMockPurchaseRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	phone := "+15550001111"

	purchases := []*domain.Purchase{
		{ID: "old", Phone: &phone, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "older", Phone: &phone, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "fresh", Phone: &phone, CreatedAt: now},
		{ID: "no-contact", CreatedAt: now.Add(-3 * time.Hour)},
	}
	for _, p := range purchases {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := repo.MarkNotified(ctx, "old", now); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	got, err := repo.FindUnnotified(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "older" {
		t.Fatalf("expected only the older unnotified purchase, got %v", got)
	}
}
