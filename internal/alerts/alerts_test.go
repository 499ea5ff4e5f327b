package alerts

import (
	"context"
	"testing"

	"github.com/clearsignal/kite/internal/domain"
)

func TestProcessQuietSet(t *testing.T) {
	p := NewProcessor()

	set := &domain.SignalSet{
		ID:        "eval-001",
		UserID:    "user-001",
		AccountID: "acc-001",
	}

	alert := p.Process(context.Background(), set)

	if alert.Status != StatusNoAlert {
		t.Errorf("expected NALT for quiet set, got %s", alert.Status)
	}
	if len(alert.Signals) != 0 {
		t.Errorf("expected no triggered signals, got %v", alert.Signals)
	}
	if ShouldAlert(alert) {
		t.Error("quiet set must not alert")
	}
	if alert.EvaluationID != "eval-001" {
		t.Errorf("expected evaluation id echo, got %s", alert.EvaluationID)
	}
}

func TestProcessTriggers(t *testing.T) {
	p := NewProcessor()
	ctx := context.Background()

	tests := []struct {
		name   string
		set    domain.SignalSet
		signal string
	}{
		{
			"LargeSingleDeposit",
			domain.SignalSet{LatestDepositMajorUnit: 150000.0},
			"large_single_deposit",
		},
		{
			"RepeatedLargeDeposits",
			domain.SignalSet{CountDepositsAboveSecondBenchmarkInWindow: 3},
			"repeated_large_deposits",
		},
		{
			"DepositOutlier",
			domain.SignalSet{
				LatestDepositMajorUnit:                         500.0,
				SixMonthAverageDepositMajorUnitTimesMultiplier: 100.0,
			},
			"deposit_outlier",
		},
		{
			"RapidCashOut30Day",
			domain.SignalSet{CountRapidWithdrawals30Day: 1},
			"rapid_cash_out_30day",
		},
		{
			"RapidCashOut7Day",
			domain.SignalSet{CountRapidWithdrawals7Day: 2},
			"rapid_cash_out_7day",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := p.Process(ctx, &tt.set)
			if alert.Status != StatusAlert {
				t.Fatalf("expected ALRT, got %s", alert.Status)
			}
			found := false
			for _, s := range alert.Signals {
				if s.Name == tt.signal {
					found = true
				}
			}
			if !found {
				t.Errorf("expected signal %s, got %v", tt.signal, alert.Signals)
			}
		})
	}
}

func TestProcessThresholdEdges(t *testing.T) {
	p := NewProcessor()
	ctx := context.Background()

	t.Run("TwoWindowedDepositsNotEnough", func(t *testing.T) {
		alert := p.Process(ctx, &domain.SignalSet{CountDepositsAboveSecondBenchmarkInWindow: 2})
		if alert.Status != StatusNoAlert {
			t.Errorf("expected NALT below occurrence threshold, got %s", alert.Status)
		}
	})

	t.Run("OutlierRequiresNonZeroAverage", func(t *testing.T) {
		// A user with no deposit history has a zero average signal; the
		// outlier comparison must not fire on it.
		alert := p.Process(ctx, &domain.SignalSet{LatestDepositMajorUnit: 5.0})
		for _, s := range alert.Signals {
			if s.Name == "deposit_outlier" {
				t.Error("outlier must not trigger with zero average")
			}
		}
	})
}
