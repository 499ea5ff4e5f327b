package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/timeutil"
)

var tracer = otel.Tracer("kite-rules")

// Engine orchestrates the signal battery for one user at a time. It holds no
// per-invocation state: cutoffs arrive as arguments and results leave as a
// SignalSet, so the engine is safe for concurrent use.
type Engine struct {
	repo       domain.Repository
	clock      timeutil.Clock
	maxWorkers int
	version    string
}

// NewEngine creates a rule engine reading through the given repository.
// A nil clock falls back to the system clock.
func NewEngine(repo domain.Repository, clock timeutil.Clock, maxWorkers int, version string) *Engine {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if maxWorkers <= 0 {
		maxWorkers = 6
	}
	return &Engine{
		repo:       repo,
		clock:      clock,
		maxWorkers: maxWorkers,
		version:    version,
	}
}

// Evaluate runs the full battery for a user and assembles one SignalSet.
// A missing userID, accountID, or cutoffs map rejects the request outright;
// a cutoff absent for one rule label defaults to the sentinel instead. Any
// evaluator failure fails the whole battery: no partial results.
func (e *Engine) Evaluate(ctx context.Context, tenantID, userID, accountID string, cutoffs domain.RuleCutoffs) (*domain.SignalSet, error) {
	start := time.Now()

	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", domain.ErrMissingParameter)
	}
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id", domain.ErrMissingParameter)
	}
	if cutoffs == nil {
		return nil, fmt.Errorf("%w: rule_cutoffs", domain.ErrMissingParameter)
	}

	ctx, span := tracer.Start(ctx, "rules.Evaluate")
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("account.id", accountID),
	)
	defer span.End()

	set := &domain.SignalSet{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		AccountID: accountID,
		Cutoffs:   resolveCutoffs(cutoffs),
		Timestamp: e.clock.Now(),
	}

	// Each task reads through the accessor and writes one distinct field of
	// the result, so they can run concurrently without shared mutable state.
	tasks := []struct {
		label string
		run   func(ctx context.Context) error
	}{
		{domain.RuleDepositsAboveBenchmark, func(ctx context.Context) error {
			n, err := e.CountAboveBenchmark(ctx, tenantID, userID, BenchmarkCountParams{
				Type:           domain.TypeDeposit,
				BenchmarkMajor: FirstBenchmarkMajor,
				Cutoff:         cutoffs.Get(domain.RuleDepositsAboveBenchmark),
			})
			set.CountDepositsAboveFirstBenchmark = n
			return err
		}},
		{domain.RuleDepositsAboveBenchmarkWindowed, func(ctx context.Context) error {
			n, err := e.CountAboveBenchmark(ctx, tenantID, userID, BenchmarkCountParams{
				Type:           domain.TypeDeposit,
				BenchmarkMajor: SecondBenchmarkMajor,
				WindowMonths:   SecondBenchmarkWindowMonths,
				Cutoff:         cutoffs.Get(domain.RuleDepositsAboveBenchmarkWindowed),
			})
			set.CountDepositsAboveSecondBenchmarkInWindow = n
			return err
		}},
		{domain.RuleLatestDeposit, func(ctx context.Context) error {
			v, err := e.LatestTransactionAmount(ctx, tenantID, userID, LatestAmountParams{
				Type:   domain.TypeDeposit,
				Cutoff: cutoffs.Get(domain.RuleLatestDeposit),
			})
			set.LatestDepositMajorUnit = v
			return err
		}},
		{domain.RuleSixMonthAverageDeposit, func(ctx context.Context) error {
			v, err := e.AverageInWindow(ctx, tenantID, userID, WindowAverageParams{
				Type:         domain.TypeDeposit,
				WindowMonths: AverageWindowMonths,
				Cutoff:       cutoffs.Get(domain.RuleSixMonthAverageDeposit),
			})
			set.SixMonthAverageDepositMajorUnitTimesMultiplier = v * AverageMultiplier
			return err
		}},
		{domain.RuleRapidWithdrawals30Day, func(ctx context.Context) error {
			n, err := e.FlaggedRapidWithdrawals(ctx, tenantID, userID, RapidWithdrawalParams{
				WindowDays: RapidWideWindowDays,
				MaxHours:   RapidWideMaxHours,
				Cutoff:     cutoffs.Get(domain.RuleRapidWithdrawals30Day),
			})
			set.CountRapidWithdrawals30Day = n
			return err
		}},
		{domain.RuleRapidWithdrawals7Day, func(ctx context.Context) error {
			n, err := e.FlaggedRapidWithdrawals(ctx, tenantID, userID, RapidWithdrawalParams{
				WindowDays: RapidTightWindowDays,
				MaxHours:   RapidTightMaxHours,
				Cutoff:     cutoffs.Get(domain.RuleRapidWithdrawals7Day),
			})
			set.CountRapidWithdrawals7Day = n
			return err
		}},
	}

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, run func(context.Context) error) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			errs[idx] = run(ctx)
		}(i, task.run)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			slog.Error("rule evaluation failed",
				"rule", tasks[i].label,
				"tenant_id", tenantID,
				"user_id", userID,
				"account_id", accountID,
				"cutoff", cutoffs.Get(tasks[i].label),
				"error", err,
			)
			return nil, &domain.EvaluationError{Rule: tasks[i].label, UserID: userID, Err: err}
		}
	}

	set.Metadata = domain.EvaluationMetadata{
		RulesEvaluated: len(tasks),
		TotalMs:        time.Since(start).Milliseconds(),
		EngineVersion:  e.version,
	}

	return set, nil
}

// LatestTransactionTime returns the most recent transaction time (either
// type) for a user, used by callers to advance persisted cutoffs. Returns
// the sentinel when the user has no history.
func (e *Engine) LatestTransactionTime(ctx context.Context, tenantID, userID string) (int64, error) {
	latest := domain.DefaultCutoff
	for _, txType := range []domain.TransactionType{domain.TypeDeposit, domain.TypeWithdrawal} {
		tx, err := e.repo.FetchLatestTransaction(ctx, tenantID, userID, txType, domain.DefaultCutoff)
		if err != nil {
			return 0, err
		}
		if tx != nil && tx.TimeOccurred > latest {
			latest = tx.TimeOccurred
		}
	}
	return latest, nil
}

// resolveCutoffs fills every rule label with its effective cutoff so the
// result echoes exactly what the battery evaluated against.
func resolveCutoffs(cutoffs domain.RuleCutoffs) domain.RuleCutoffs {
	resolved := make(domain.RuleCutoffs, len(domain.RuleLabels))
	for _, label := range domain.RuleLabels {
		resolved[label] = cutoffs.Get(label)
	}
	return resolved
}
