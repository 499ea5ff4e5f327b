// Package rules implements the behavioral-heuristic battery: five stateless
// evaluators over a user's deposit/withdrawal history, each taking a per-rule
// cutoff time so repeated runs never recount old transactions.
package rules

import (
	"context"

	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/timeutil"
	"github.com/clearsignal/kite/internal/units"
)

// Fixed battery parameters. These must not drift: downstream consumers and
// persisted cutoffs assume them.
const (
	// ErrorToleranceFraction defines the lower edge of the withdrawal
	// matching band: [deposit*fraction, deposit].
	ErrorToleranceFraction = 0.95

	// FirstBenchmarkMajor is the single-deposit benchmark in major units.
	FirstBenchmarkMajor int64 = 100000

	// SecondBenchmarkMajor is the windowed-count benchmark in major units.
	SecondBenchmarkMajor int64 = 50000

	// SecondBenchmarkWindowMonths bounds the windowed benchmark count.
	SecondBenchmarkWindowMonths = 6

	// AverageWindowMonths is the trailing window of the average-deposit rule.
	AverageWindowMonths = 6

	// AverageMultiplier scales the six-month average deposit signal.
	AverageMultiplier = 10.0

	// Rapid-withdrawal parameterizations: a wide and a tight window.
	RapidWideWindowDays  = 30
	RapidWideMaxHours    = 48
	RapidTightWindowDays = 7
	RapidTightMaxHours   = 24
)

// LatestAmountParams configures the latest-transaction-amount evaluator.
type LatestAmountParams struct {
	Type   domain.TransactionType
	Cutoff int64
}

// WindowAverageParams configures the windowed-average evaluator.
type WindowAverageParams struct {
	Type         domain.TransactionType
	WindowMonths int
	Cutoff       int64
}

// BenchmarkCountParams configures the count-above-benchmark evaluator.
// A zero WindowMonths means no window: "ever" semantics.
type BenchmarkCountParams struct {
	Type           domain.TransactionType
	BenchmarkMajor int64
	WindowMonths   int
	Cutoff         int64
}

// RapidWithdrawalParams configures the deposit/withdrawal matching evaluator.
type RapidWithdrawalParams struct {
	WindowDays int
	MaxHours   int64
	Cutoff     int64
}

// LatestTransactionAmount returns the major-unit amount of the most recent
// transaction of the given type after the cutoff, or 0.0 when there is none.
func (e *Engine) LatestTransactionAmount(ctx context.Context, tenantID, userID string, p LatestAmountParams) (float64, error) {
	tx, err := e.repo.FetchLatestTransaction(ctx, tenantID, userID, p.Type, p.Cutoff)
	if err != nil {
		return 0, err
	}
	if tx == nil {
		return 0.0, nil
	}
	return units.ToMajorUnit(tx.Amount), nil
}

// AverageInWindow returns the arithmetic mean amount, in major units, of
// transactions of the given type in the trailing window and after the
// cutoff. The window is bounded above at now, so a future-dated row never
// contributes. An empty set yields 0.0.
func (e *Engine) AverageInWindow(ctx context.Context, tenantID, userID string, p WindowAverageParams) (float64, error) {
	minTime, err := timeutil.DateEpochMillis(timeutil.MonthsAgo(e.clock, p.WindowMonths), timeutil.StartOfDay)
	if err != nil {
		return 0, err
	}
	nowMillis := e.clock.Now().UnixMilli()

	txs, err := e.repo.FetchTransactions(ctx, tenantID, userID, p.Type, minTime, &nowMillis, p.Cutoff)
	if err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0.0, nil
	}

	var total int64
	for _, tx := range txs {
		total += tx.Amount
	}
	return units.ToMajorUnit(total) / float64(len(txs)), nil
}

// CountAboveBenchmark counts transactions of the given type with amount
// strictly greater than the benchmark, after the cutoff. With WindowMonths
// zero the count has no time upper or window bound at all.
func (e *Engine) CountAboveBenchmark(ctx context.Context, tenantID, userID string, p BenchmarkCountParams) (int64, error) {
	minTime := domain.DefaultCutoff
	if p.WindowMonths > 0 {
		var err error
		minTime, err = timeutil.DateEpochMillis(timeutil.MonthsAgo(e.clock, p.WindowMonths), timeutil.StartOfDay)
		if err != nil {
			return 0, err
		}
	}

	txs, err := e.repo.FetchTransactions(ctx, tenantID, userID, p.Type, minTime, nil, p.Cutoff)
	if err != nil {
		return 0, err
	}

	benchmarkMinor := units.ToMinorUnit(p.BenchmarkMajor, units.MajorUnit)

	var count int64
	for _, tx := range txs {
		if tx.Amount > benchmarkMinor {
			count++
		}
	}
	return count, nil
}

// FlaggedRapidWithdrawals matches withdrawals against prior deposits in the
// trailing window. A (withdrawal, deposit) pair is flagged when the
// withdrawal amount falls inside [deposit*tolerance, deposit] and the
// withdrawal occurred at or after the deposit, within MaxHours truncated
// hours. Every pair in the full cross product is evaluated independently, so
// one withdrawal matching several deposits is counted once per pair.
func (e *Engine) FlaggedRapidWithdrawals(ctx context.Context, tenantID, userID string, p RapidWithdrawalParams) (int64, error) {
	minTime, err := timeutil.DateEpochMillis(timeutil.DaysAgo(e.clock, p.WindowDays), timeutil.StartOfDay)
	if err != nil {
		return 0, err
	}

	withdrawals, err := e.repo.FetchTransactions(ctx, tenantID, userID, domain.TypeWithdrawal, minTime, nil, p.Cutoff)
	if err != nil {
		return 0, err
	}
	if len(withdrawals) == 0 {
		return 0, nil
	}

	deposits, err := e.repo.FetchTransactions(ctx, tenantID, userID, domain.TypeDeposit, minTime, nil, p.Cutoff)
	if err != nil {
		return 0, err
	}

	var flagged int64
	for _, w := range withdrawals {
		for _, d := range deposits {
			// A withdrawal never matches a deposit it precedes.
			if w.TimeOccurred < d.TimeOccurred {
				continue
			}

			lowerBound := float64(d.Amount) * ErrorToleranceFraction
			if float64(w.Amount) < lowerBound || w.Amount > d.Amount {
				continue
			}

			if timeutil.HoursBetween(w.TimeOccurred, d.TimeOccurred) <= p.MaxHours {
				flagged++
			}
		}
	}
	return flagged, nil
}
