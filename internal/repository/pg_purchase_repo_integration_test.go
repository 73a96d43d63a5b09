//go:build integration_test

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/notifyhub/purchase-notify/internal/config"
	"github.com/notifyhub/purchase-notify/internal/db"
	"github.com/notifyhub/purchase-notify/internal/domain"
	"github.com/notifyhub/purchase-notify/internal/repository"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "purchase",
				"POSTGRES_PASSWORD": "purchase",
				"POSTGRES_DB":       "purchases",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(nat.Port("5432/tcp")),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("postgres://purchase:purchase@%s:%s/purchases?sslmode=disable", host, port.Port())
}

func TestPgPurchaseRepository(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := startPostgres(ctx, t)
	if err := db.Migrate("file://../../migrations", dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.Connect(ctx, &config.Config{DatabaseURL: dsn, DBMaxConns: 4, DBMinConns: 1})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	repo := repository.NewPgPurchaseRepository(pool)
	phone := "+15550001111"
	base := time.Now().UTC().Truncate(time.Microsecond)

	var ids []string
	for i, product := range []string{"Product A", "Product B", "Product A"} {
		p := &domain.Purchase{
			ID:            uuid.NewString(),
			Name:          "Dana",
			Product:       product,
			Amount:        10.99,
			Phone:         &phone,
			CorrelationID: "corr",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, p.ID)
	}

	got, err := repo.GetByID(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != 10.99 || got.Phone == nil || *got.Phone != phone || got.Email != nil {
		t.Fatalf("unexpected purchase %+v", got)
	}

	product := "Product A"
	list, total, err := repo.List(ctx, domain.PurchaseFilter{Product: &product, Page: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(list) != 2 || list[0].ID != ids[2] {
		t.Fatalf("expected 2 Product A purchases newest first, got total=%d", total)
	}

	page, total, err := repo.List(ctx, domain.PurchaseFilter{Page: 2, Limit: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("expected last page with the oldest purchase, got total=%d len=%d", total, len(page))
	}

	pending, err := repo.FindUnnotified(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("find unnotified: %v", err)
	}
	if len(pending) != 3 || pending[0].ID != ids[0] {
		t.Fatalf("expected 3 pending purchases oldest first, got %d", len(pending))
	}

	if err := repo.MarkNotified(ctx, ids[0], time.Now().UTC()); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	pending, _ = repo.FindUnnotified(ctx, base.Add(time.Hour), 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending purchases after marking one, got %d", len(pending))
	}

	if err := repo.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, ids[1]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := repo.GetByID(ctx, ids[1]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted purchase, got %v", err)
	}
}
