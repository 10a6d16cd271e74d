package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestAggregate_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := Aggregate(context.Background(), db, 1, domain.StatusPending); err == nil {
		t.Fatalf("expected error due to missing purchases table")
	}
}

func TestAggregate_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Purchase{})
	agg, err := Aggregate(context.Background(), db, 1, domain.StatusBought)
	if err != nil {
		t.Fatalf("Aggregate error: %v", err)
	}
	if agg.Count != 0 || agg.Sum != 0 || agg.Status != domain.StatusBought {
		t.Fatalf("expected zero aggregate, got %+v", agg)
	}
}

func TestAggregate_FiltersByOwnerAndStatus(t *testing.T) {
	db := newTestDB(t, &domain.User{}, &domain.Purchase{})
	ctx := context.Background()
	for _, u := range []domain.UserID{1, 2} {
		if err := CreateUser(ctx, db, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	now := time.Now()
	seed := []domain.Purchase{
		{UserID: 1, Name: "a", Price: 1500, DueAt: now, Status: domain.StatusBought},
		{UserID: 1, Name: "b", Price: 2500.5, DueAt: now, Status: domain.StatusBought},
		{UserID: 1, Name: "c", Price: 999, DueAt: now},
		{UserID: 2, Name: "x", Price: 100000, DueAt: now, Status: domain.StatusBought},
	}
	for i := range seed {
		if err := CreatePurchase(ctx, db, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	agg, err := Aggregate(ctx, db, 1, domain.StatusBought)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if agg.Count != 2 || agg.Sum != 4000.5 {
		t.Fatalf("bought aggregate = %+v; want count=2 sum=4000.5", agg)
	}
	agg, _ = Aggregate(ctx, db, 1, domain.StatusPending)
	if agg.Count != 1 || agg.Sum != 999 {
		t.Fatalf("pending aggregate = %+v", agg)
	}
}
