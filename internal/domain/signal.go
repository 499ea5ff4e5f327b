package domain

import (
	"errors"
	"fmt"
	"time"
)

// DefaultCutoff is the "beginning of time" sentinel used when a rule label
// has no recorded cutoff: epoch milliseconds for 1900-01-01T00:00:00Z.
const DefaultCutoff int64 = -2208988800000

// Rule labels. Each output signal advances its own cutoff independently,
// so the rapid-withdrawal heuristic carries one label per parameterization.
const (
	RuleLatestDeposit                  = "latest_deposit"
	RuleSixMonthAverageDeposit         = "six_month_average_deposit"
	RuleDepositsAboveBenchmark         = "deposits_above_benchmark"
	RuleDepositsAboveBenchmarkWindowed = "deposits_above_benchmark_windowed"
	RuleRapidWithdrawals30Day          = "rapid_withdrawals_30day"
	RuleRapidWithdrawals7Day           = "rapid_withdrawals_7day"
)

// RuleLabels lists every rule label in evaluation order.
var RuleLabels = []string{
	RuleDepositsAboveBenchmark,
	RuleDepositsAboveBenchmarkWindowed,
	RuleLatestDeposit,
	RuleSixMonthAverageDeposit,
	RuleRapidWithdrawals30Day,
	RuleRapidWithdrawals7Day,
}

// RuleCutoffs maps a rule label to the epoch-millisecond boundary before
// which transactions have already been considered by a prior evaluation.
// An absent label means "evaluate from the beginning of time".
type RuleCutoffs map[string]int64

// Get returns the cutoff for a label, falling back to the sentinel.
func (c RuleCutoffs) Get(label string) int64 {
	if c == nil {
		return DefaultCutoff
	}
	if v, ok := c[label]; ok {
		return v
	}
	return DefaultCutoff
}

// SignalSet is the complete battery output for one user: the six behavioral
// signals consumed by the downstream fraud-decision process.
type SignalSet struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`

	CountDepositsAboveFirstBenchmark               int64   `json:"count_deposits_above_first_benchmark"`
	CountDepositsAboveSecondBenchmarkInWindow      int64   `json:"count_deposits_above_second_benchmark_in_window"`
	LatestDepositMajorUnit                         float64 `json:"latest_deposit_major_unit"`
	SixMonthAverageDepositMajorUnitTimesMultiplier float64 `json:"six_month_average_deposit_major_unit_times_multiplier"`
	CountRapidWithdrawals30Day                     int64   `json:"count_rapid_withdrawals_30day"`
	CountRapidWithdrawals7Day                      int64   `json:"count_rapid_withdrawals_7day"`

	// Cutoffs echoes the per-rule cutoffs the battery was evaluated with.
	Cutoffs RuleCutoffs `json:"cutoffs,omitempty"`

	Timestamp time.Time         `json:"timestamp"`
	Metadata  EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata carries processing information alongside a SignalSet.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// ErrMissingParameter rejects a request missing a required top-level field.
// Distinct from an absent cutoff for one rule label, which is the normal
// sentinel-default case.
var ErrMissingParameter = errors.New("missing required parameter")

// EvaluationError wraps a failure inside one rule evaluation. No partial
// results are returned: the whole battery fails with the first cause.
type EvaluationError struct {
	Rule   string
	UserID string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s failed for user %s: %v", e.Rule, e.UserID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
