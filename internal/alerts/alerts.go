// Package alerts turns a signal set into a downstream alert summary.
// The thresholds here belong to the decision layer, not the rule engine:
// the engine reports raw counts and the processor decides what is worth
// surfacing to the fraud-review pipeline.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/rules"
)

// Alert statuses.
const (
	StatusAlert   = "ALRT"
	StatusNoAlert = "NALT"
)

// Processor applies fixed thresholds to a SignalSet.
type Processor struct {
	// WindowedCountThreshold is the minimum number of above-second-benchmark
	// deposits in the trailing window before that signal triggers.
	WindowedCountThreshold int64
}

// NewProcessor creates a processor with default thresholds.
func NewProcessor() *Processor {
	return &Processor{
		WindowedCountThreshold: 3,
	}
}

// Process inspects a signal set and produces an alert summary, ready for
// publication on the alert topic.
func (p *Processor) Process(ctx context.Context, set *domain.SignalSet) *domain.Alert {
	alert := &domain.Alert{
		ID:           uuid.New().String(),
		TenantID:     set.TenantID,
		UserID:       set.UserID,
		AccountID:    set.AccountID,
		EvaluationID: set.ID,
		Status:       StatusNoAlert,
		Timestamp:    time.Now().UTC(),
	}

	if set.LatestDepositMajorUnit > float64(rules.FirstBenchmarkMajor) {
		alert.Signals = append(alert.Signals, domain.TriggeredSignal{
			Name:  "large_single_deposit",
			Value: set.LatestDepositMajorUnit,
		})
	}

	if set.CountDepositsAboveSecondBenchmarkInWindow >= p.WindowedCountThreshold {
		alert.Signals = append(alert.Signals, domain.TriggeredSignal{
			Name:  "repeated_large_deposits",
			Value: float64(set.CountDepositsAboveSecondBenchmarkInWindow),
		})
	}

	// The average signal already carries the x10 multiplier, so a latest
	// deposit above it is more than ten times the user's recent average.
	if set.SixMonthAverageDepositMajorUnitTimesMultiplier > 0 &&
		set.LatestDepositMajorUnit > set.SixMonthAverageDepositMajorUnitTimesMultiplier {
		alert.Signals = append(alert.Signals, domain.TriggeredSignal{
			Name:  "deposit_outlier",
			Value: set.LatestDepositMajorUnit,
		})
	}

	if set.CountRapidWithdrawals30Day > 0 {
		alert.Signals = append(alert.Signals, domain.TriggeredSignal{
			Name:  "rapid_cash_out_30day",
			Value: float64(set.CountRapidWithdrawals30Day),
		})
	}

	if set.CountRapidWithdrawals7Day > 0 {
		alert.Signals = append(alert.Signals, domain.TriggeredSignal{
			Name:  "rapid_cash_out_7day",
			Value: float64(set.CountRapidWithdrawals7Day),
		})
	}

	if len(alert.Signals) > 0 {
		alert.Status = StatusAlert
	}

	return alert
}

// ShouldAlert reports whether an alert summary warrants publication.
func ShouldAlert(alert *domain.Alert) bool {
	return alert != nil && alert.Status == StatusAlert
}
