package velocity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestService(t *testing.T) (*Service, *repository.SQLRepository, *cache.LRUCache) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "velocity-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	return NewService(repo, lru, WithTTL(time.Minute)), repo, lru
}

func TestAggregates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	t.Run("EmptyHistory", func(t *testing.T) {
		agg, err := svc.Aggregates(ctx, tenantID, "acct-empty")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if agg.TxCount24h == nil || *agg.TxCount24h != 0 {
			t.Errorf("expected a present zero count, got %v", agg.TxCount24h)
		}
		if !agg.Volume24h.IsZero() {
			t.Errorf("expected zero volume, got %s", agg.Volume24h)
		}
	})

	t.Run("WithHistory", func(t *testing.T) {
		ages := []time.Duration{5 * 24 * time.Hour, 30 * time.Hour, 10 * time.Hour, 2 * time.Hour, 10 * time.Minute}
		for i, age := range ages {
			err := repo.SaveTransaction(ctx, tenantID, &domain.TransactionRecord{
				ID:        fmt.Sprintf("tx-%d", i),
				AccountID: "acct-001",
				Type:      domain.TxTypeCash,
				Amount:    decimal.RequireFromString("9200.50"),
				Currency:  "USD",
				Timestamp: now.Add(-age),
			})
			if err != nil {
				t.Fatalf("failed to save transaction: %v", err)
			}
		}

		agg, err := svc.Aggregates(ctx, tenantID, "acct-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *agg.TxCount24h != 3 {
			t.Errorf("expected 3 transactions in 24h, got %d", *agg.TxCount24h)
		}
		if !agg.Volume24h.Equal(decimal.RequireFromString("27601.50")) {
			t.Errorf("expected 24h volume 27601.50, got %s", agg.Volume24h)
		}
		if len(agg.Recent) != 5 {
			t.Fatalf("expected 5 recent entries, got %d", len(agg.Recent))
		}
		if !agg.Recent[0].Timestamp.After(agg.Recent[4].Timestamp) {
			t.Error("expected recent activity newest first")
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		if _, err := svc.Aggregates(ctx, "", "acct-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestAggregatesCached(t *testing.T) {
	svc, repo, lru := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	if _, err := svc.Aggregates(ctx, tenantID, "acct-001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A write that bypasses Record is not visible until the cache entry expires.
	_ = repo.SaveTransaction(ctx, tenantID, &domain.TransactionRecord{
		ID: "direct", AccountID: "acct-001", Type: domain.TxTypeWire,
		Amount: decimal.NewFromInt(10), Timestamp: time.Now().UTC(),
	})
	agg, _ := svc.Aggregates(ctx, tenantID, "acct-001")
	if *agg.TxCount24h != 0 {
		t.Errorf("expected cached count 0, got %d", *agg.TxCount24h)
	}
	if lru.Stats().Hits == 0 {
		t.Error("expected a cache hit")
	}

	amount := decimal.NewFromInt(25)
	p := &domain.Payload{
		Transaction: &domain.TransactionFacts{ID: "via-record", Type: domain.TxTypeCash, Amount: &amount},
		Account:     &domain.AccountFacts{ID: "acct-001", Status: domain.AccountActive},
		Customer:    &domain.CustomerFacts{ID: "cust-001"},
	}
	if err := svc.Record(ctx, tenantID, p); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	agg, _ = svc.Aggregates(ctx, tenantID, "acct-001")
	if *agg.TxCount24h != 2 {
		t.Errorf("expected Record to invalidate the cache, got count %d", *agg.TxCount24h)
	}
}

func TestEnrich(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	amount := decimal.NewFromInt(100)
	p := &domain.Payload{
		Transaction: &domain.TransactionFacts{Type: domain.TxTypeCash, Amount: &amount},
		Account:     &domain.AccountFacts{ID: "acct-001", Status: domain.AccountActive},
		Customer:    &domain.CustomerFacts{ID: "cust-001"},
	}
	if err := svc.Enrich(ctx, "tenant-001", p); err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if p.Aggregates == nil {
		t.Fatal("expected aggregates to be filled")
	}

	count := 7
	supplied := &domain.AggregateFacts{TxCount24h: &count}
	p.Aggregates = supplied
	_ = svc.Enrich(ctx, "tenant-001", p)
	if p.Aggregates != supplied {
		t.Error("expected caller-supplied aggregates to be kept")
	}

	loan := &domain.Payload{Loan: &domain.LoanFacts{}}
	_ = svc.Enrich(ctx, "tenant-001", loan)
	if loan.Aggregates != nil {
		t.Error("expected loans to be left untouched")
	}
}
