package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/clearsignal/kite/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kite-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func saveTx(t *testing.T, repo domain.Repository, tenantID, userID string, txType domain.TransactionType, amount, occurred int64) *domain.TransactionRecord {
	t.Helper()
	tx := &domain.TransactionRecord{
		ID:           fmt.Sprintf("tx-%s-%s-%d-%d", userID, txType, amount, occurred),
		UserID:       userID,
		AccountID:    "acc-" + userID,
		Type:         txType,
		Amount:       amount,
		TimeOccurred: occurred,
	}
	if err := repo.SaveTransaction(context.Background(), tenantID, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
	return tx
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	saved := saveTx(t, repo, "tenant-001", "user-001", domain.TypeDeposit, 100000, 1554249600000)

	got, err := repo.GetTransaction(ctx, "tenant-001", saved.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 100000 || got.Type != domain.TypeDeposit || got.TimeOccurred != 1554249600000 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "other-tenant", saved.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("InvalidType", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, "tenant-001", &domain.TransactionRecord{
			ID: "tx-bad", UserID: "u", AccountID: "a", Type: "TRANSFER",
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestFetchTransactionsDualBound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := int64(1554249600000)
	hour := int64(3600000)

	// Five deposits an hour apart.
	for i := int64(0); i < 5; i++ {
		saveTx(t, repo, tenantID, "user-001", domain.TypeDeposit, 1000+i, base+i*hour)
	}
	// A withdrawal must never leak into a deposit fetch.
	saveTx(t, repo, tenantID, "user-001", domain.TypeWithdrawal, 999, base+hour)

	t.Run("MinTimeInclusive", func(t *testing.T) {
		txs, err := repo.FetchTransactions(ctx, tenantID, "user-001", domain.TypeDeposit, base+2*hour, nil, domain.DefaultCutoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 3 {
			t.Errorf("expected 3 rows at/after minTime, got %d", len(txs))
		}
	})

	t.Run("CutoffExclusive", func(t *testing.T) {
		txs, err := repo.FetchTransactions(ctx, tenantID, "user-001", domain.TypeDeposit, domain.DefaultCutoff, nil, base+2*hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// Rows at base, base+1h, base+2h are already considered.
		if len(txs) != 2 {
			t.Errorf("expected 2 rows strictly after cutoff, got %d", len(txs))
		}
	})

	t.Run("BothBoundsApply", func(t *testing.T) {
		// minTime passes 4 rows, cutoff passes 2; the intersection wins.
		txs, err := repo.FetchTransactions(ctx, tenantID, "user-001", domain.TypeDeposit, base+hour, nil, base+2*hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 2 {
			t.Errorf("expected 2 rows, got %d", len(txs))
		}
	})

	t.Run("MaxTimeExclusive", func(t *testing.T) {
		maxTime := base + 2*hour
		txs, err := repo.FetchTransactions(ctx, tenantID, "user-001", domain.TypeDeposit, base, &maxTime, domain.DefaultCutoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 2 {
			t.Errorf("expected 2 rows below maxTime, got %d", len(txs))
		}
	})

	t.Run("OrderedMostRecentFirst", func(t *testing.T) {
		txs, err := repo.FetchTransactions(ctx, tenantID, "user-001", domain.TypeDeposit, domain.DefaultCutoff, nil, domain.DefaultCutoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := 1; i < len(txs); i++ {
			if txs[i].TimeOccurred > txs[i-1].TimeOccurred {
				t.Fatal("expected descending time order")
			}
		}
	})

	t.Run("UnknownUserEmpty", func(t *testing.T) {
		txs, err := repo.FetchTransactions(ctx, tenantID, "nobody", domain.TypeDeposit, domain.DefaultCutoff, nil, domain.DefaultCutoff)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 0 {
			t.Errorf("expected no rows, got %d", len(txs))
		}
	})
}

func TestFetchLatestTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := int64(1554249600000)
	saveTx(t, repo, tenantID, "user-001", domain.TypeDeposit, 100, base)
	saveTx(t, repo, tenantID, "user-001", domain.TypeDeposit, 200, base+1000)

	tx, err := repo.FetchLatestTransaction(ctx, tenantID, "user-001", domain.TypeDeposit, domain.DefaultCutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx == nil || tx.Amount != 200 {
		t.Errorf("expected latest amount 200, got %+v", tx)
	}

	t.Run("NilWhenAllBeforeCutoff", func(t *testing.T) {
		tx, err := repo.FetchLatestTransaction(ctx, tenantID, "user-001", domain.TypeDeposit, base+1000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tx != nil {
			t.Errorf("expected nil past cutoff, got %+v", tx)
		}
	})
}

func TestSignalSetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	set := &domain.SignalSet{
		ID:        "eval-001",
		UserID:    "user-001",
		AccountID: "acc-001",
		CountDepositsAboveFirstBenchmark:          2,
		CountDepositsAboveSecondBenchmarkInWindow: 1,
		LatestDepositMajorUnit:                    10.0,
		SixMonthAverageDepositMajorUnitTimesMultiplier: 100.0,
		CountRapidWithdrawals30Day:                3,
		CountRapidWithdrawals7Day:                 1,
		Cutoffs: domain.RuleCutoffs{
			domain.RuleLatestDeposit: 1554249600000,
		},
		Timestamp: time.Now().UTC(),
		Metadata: domain.EvaluationMetadata{
			RulesEvaluated: 6,
			EngineVersion:  "test",
		},
	}

	if err := repo.SaveSignalSet(ctx, "tenant-001", set); err != nil {
		t.Fatalf("failed to save signal set: %v", err)
	}

	got, err := repo.GetSignalSet(ctx, "tenant-001", "eval-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CountRapidWithdrawals30Day != 3 || got.LatestDepositMajorUnit != 10.0 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Cutoffs[domain.RuleLatestDeposit] != 1554249600000 {
		t.Errorf("cutoffs not preserved: %+v", got.Cutoffs)
	}
	if got.Metadata.RulesEvaluated != 6 {
		t.Errorf("metadata not preserved: %+v", got.Metadata)
	}

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetSignalSet(ctx, "tenant-001", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRuleCutoffs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("EmptyForNewUser", func(t *testing.T) {
		cutoffs, err := repo.GetRuleCutoffs(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cutoffs) != 0 {
			t.Errorf("expected no cutoffs, got %v", cutoffs)
		}
		// Absent labels resolve to the sentinel.
		if got := cutoffs.Get(domain.RuleLatestDeposit); got != domain.DefaultCutoff {
			t.Errorf("expected sentinel, got %d", got)
		}
	})

	t.Run("SaveAndAdvance", func(t *testing.T) {
		err := repo.SaveRuleCutoffs(ctx, tenantID, "user-001", domain.RuleCutoffs{
			domain.RuleLatestDeposit:         1000,
			domain.RuleRapidWithdrawals7Day:  2000,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Advancing one label leaves the other intact.
		err = repo.SaveRuleCutoffs(ctx, tenantID, "user-001", domain.RuleCutoffs{
			domain.RuleLatestDeposit: 5000,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cutoffs, err := repo.GetRuleCutoffs(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cutoffs[domain.RuleLatestDeposit] != 5000 {
			t.Errorf("expected advanced cutoff 5000, got %d", cutoffs[domain.RuleLatestDeposit])
		}
		if cutoffs[domain.RuleRapidWithdrawals7Day] != 2000 {
			t.Errorf("expected untouched cutoff 2000, got %d", cutoffs[domain.RuleRapidWithdrawals7Day])
		}
	})

	t.Run("NeverMovesBackwards", func(t *testing.T) {
		err := repo.SaveRuleCutoffs(ctx, tenantID, "user-001", domain.RuleCutoffs{
			domain.RuleLatestDeposit: 100, // stale caller
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cutoffs, _ := repo.GetRuleCutoffs(ctx, tenantID, "user-001")
		if cutoffs[domain.RuleLatestDeposit] != 5000 {
			t.Errorf("expected cutoff held at 5000, got %d", cutoffs[domain.RuleLatestDeposit])
		}
	})

	t.Run("ConcurrentAdvancersKeepMax", func(t *testing.T) {
		userID := "user-racing"

		var wg sync.WaitGroup
		for i := int64(1); i <= 20; i++ {
			wg.Add(1)
			go func(cutoff int64) {
				defer wg.Done()
				err := repo.SaveRuleCutoffs(ctx, tenantID, userID, domain.RuleCutoffs{
					domain.RuleLatestDeposit: cutoff * 100,
				})
				if err != nil {
					t.Errorf("concurrent save failed: %v", err)
				}
			}(i)
		}
		wg.Wait()

		cutoffs, err := repo.GetRuleCutoffs(ctx, tenantID, userID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := cutoffs[domain.RuleLatestDeposit]; got != 2000 {
			t.Errorf("expected max cutoff 2000 to survive interleaving, got %d", got)
		}
	})
}
