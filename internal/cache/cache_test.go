package cache

import (
	"context"
	"testing"
	"time"

	"github.com/clearsignal/kite/internal/domain"
)

func signalSet(tenantID, id string, latestDeposit float64) *domain.SignalSet {
	return &domain.SignalSet{
		ID:                               id,
		TenantID:                         tenantID,
		UserID:                           "user-001",
		AccountID:                        "acc-001",
		CountDepositsAboveFirstBenchmark: 2,
		LatestDepositMajorUnit:           latestDeposit,
		Cutoffs: domain.RuleCutoffs{
			domain.RuleLatestDeposit: 1554249600000,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestLRUCache(t *testing.T) {
	lru := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		set := signalSet(tenantID, "eval-001", 150000.0)
		if err := lru.SetSignalSet(ctx, tenantID, set, time.Minute); err != nil {
			t.Fatalf("SetSignalSet failed: %v", err)
		}

		got, err := lru.GetSignalSet(ctx, tenantID, "eval-001")
		if err != nil {
			t.Fatalf("GetSignalSet failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached signal set")
		}
		if got.LatestDepositMajorUnit != 150000.0 {
			t.Errorf("expected latest deposit 150000.0, got %.2f", got.LatestDepositMajorUnit)
		}
		if got.CountDepositsAboveFirstBenchmark != 2 {
			t.Errorf("expected count 2, got %d", got.CountDepositsAboveFirstBenchmark)
		}
		if c := got.Cutoffs.Get(domain.RuleLatestDeposit); c != 1554249600000 {
			t.Errorf("expected cutoff to survive caching, got %d", c)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		got, err := lru.GetSignalSet(ctx, tenantID, "no-such-eval")
		if err != nil {
			t.Fatalf("GetSignalSet failed: %v", err)
		}
		if got != nil {
			t.Error("expected nil on miss")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = lru.SetSignalSet(ctx, tenantID, signalSet(tenantID, "eval-ow", 100.0), time.Minute)
		_ = lru.SetSignalSet(ctx, tenantID, signalSet(tenantID, "eval-ow", 200.0), time.Minute)

		got, _ := lru.GetSignalSet(ctx, tenantID, "eval-ow")
		if got == nil || got.LatestDepositMajorUnit != 200.0 {
			t.Errorf("expected overwritten entry, got %+v", got)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = lru.SetSignalSet(ctx, tenantID, signalSet(tenantID, "eval-ttl", 1.0), 10*time.Millisecond)

		got, _ := lru.GetSignalSet(ctx, tenantID, "eval-ttl")
		if got == nil {
			t.Error("expected entry before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		got, _ = lru.GetSignalSet(ctx, tenantID, "eval-ttl")
		if got != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("Eviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.SetSignalSet(ctx, tenantID, signalSet(tenantID, "a", 1.0), time.Minute)
		_ = small.SetSignalSet(ctx, tenantID, signalSet(tenantID, "b", 2.0), time.Minute)
		_ = small.SetSignalSet(ctx, tenantID, signalSet(tenantID, "c", 3.0), time.Minute)

		// Touch 'a' so 'b' becomes the oldest
		_, _ = small.GetSignalSet(ctx, tenantID, "a")

		_ = small.SetSignalSet(ctx, tenantID, signalSet(tenantID, "d", 4.0), time.Minute)

		if got, _ := small.GetSignalSet(ctx, tenantID, "b"); got != nil {
			t.Error("expected 'b' to be evicted")
		}
		if got, _ := small.GetSignalSet(ctx, tenantID, "a"); got == nil {
			t.Error("expected 'a' to survive eviction")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = lru.SetSignalSet(ctx, "tenant-a", signalSet("tenant-a", "shared-id", 111.0), time.Minute)
		_ = lru.SetSignalSet(ctx, "tenant-b", signalSet("tenant-b", "shared-id", 222.0), time.Minute)

		gotA, _ := lru.GetSignalSet(ctx, "tenant-a", "shared-id")
		gotB, _ := lru.GetSignalSet(ctx, "tenant-b", "shared-id")

		if gotA == nil || gotA.LatestDepositMajorUnit != 111.0 {
			t.Errorf("tenant-a read the wrong entry: %+v", gotA)
		}
		if gotB == nil || gotB.LatestDepositMajorUnit != 222.0 {
			t.Errorf("tenant-b read the wrong entry: %+v", gotB)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := lru.SetSignalSet(ctx, "", signalSet("", "eval-x", 1.0), time.Minute); err == nil {
			t.Error("expected error for empty tenantID on set")
		}
		if _, err := lru.GetSignalSet(ctx, "", "eval-x"); err == nil {
			t.Error("expected error for empty tenantID on get")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.SetSignalSet(ctx, tenantID, signalSet(tenantID, "s1", 1.0), time.Minute)
		_ = statsCache.SetSignalSet(ctx, tenantID, signalSet(tenantID, "s2", 2.0), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := lru.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		closing := NewLRUCache(10)
		_ = closing.SetSignalSet(ctx, tenantID, signalSet(tenantID, "eval-close", 1.0), time.Minute)

		if err := closing.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if got, _ := closing.GetSignalSet(ctx, tenantID, "eval-close"); got != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		c, err := New(domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
