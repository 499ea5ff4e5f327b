// Package worker provides async evaluation processing for the Pro tier.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearsignal/kite/internal/alerts"
	"github.com/clearsignal/kite/internal/domain"
	"github.com/clearsignal/kite/internal/rules"
)

// Worker re-evaluates a user's signal battery whenever one of their
// transactions is ingested, advancing the persisted cutoffs as it goes.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *rules.Engine
	processor *alerts.Processor

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty subscribes across
	// all tenants via the bus wildcard.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, processor *alerts.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		engine:    engine,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to ingestion events for the configured tenants, or for
// every tenant when none are configured.
func (w *Worker) Start(cfg Config) error {
	tenantIDs := cfg.TenantIDs
	if len(tenantIDs) == 0 {
		tenantIDs = []string{domain.TenantWildcard}
		slog.Info("no tenants configured, worker subscribing across all tenants")
	}

	for _, tenantID := range tenantIDs {
		sub, err := w.bus.SubscribeIngested(w.ctx, tenantID, w.processIngested)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicTransactionIngested,
		)
	}

	return nil
}

// processIngested runs the full pipeline for one ingested transaction:
// load cutoffs, evaluate the battery, persist the result, advance cutoffs,
// and publish the outcome.
func (w *Worker) processIngested(ctx context.Context, ev *domain.TransactionIngested) error {
	start := time.Now()

	tenantID := ev.TenantID
	traceID := ev.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	slog.Debug("processing ingested transaction",
		"tx_id", ev.TxID,
		"tenant_id", tenantID,
		"user_id", ev.UserID,
		"trace_id", traceID,
	)

	// 1. Load persisted cutoffs so rows counted by a prior run stay counted once
	cutoffs, err := w.repo.GetRuleCutoffs(ctx, tenantID, ev.UserID)
	if err != nil {
		slog.Error("failed to load rule cutoffs",
			"tx_id", ev.TxID,
			"user_id", ev.UserID,
			"error", err,
		)
		return err
	}

	// 2. Evaluate the battery
	set, err := w.engine.Evaluate(ctx, tenantID, ev.UserID, ev.AccountID, cutoffs)
	if err != nil {
		slog.Error("battery evaluation failed",
			"tx_id", ev.TxID,
			"user_id", ev.UserID,
			"error", err,
		)
		return err
	}
	set.Metadata.TraceID = traceID

	// 3. Save evaluation result
	if err := w.repo.SaveSignalSet(ctx, tenantID, set); err != nil {
		slog.Error("failed to save signal set",
			"evaluation_id", set.ID,
			"error", err,
		)
		return err
	}

	// 4. Advance cutoffs to the latest transaction seen by this run
	if err := w.advanceCutoffs(ctx, tenantID, ev.UserID); err != nil {
		slog.Error("failed to advance rule cutoffs",
			"user_id", ev.UserID,
			"error", err,
		)
	}

	// 5. Apply alert thresholds
	alert := w.processor.Process(ctx, set)

	// 6. Publish result
	completed := &domain.EvaluationCompleted{
		EvaluationID: set.ID,
		TenantID:     tenantID,
		UserID:       ev.UserID,
		AccountID:    ev.AccountID,
		AlertStatus:  alert.Status,
	}
	if err := w.bus.PublishCompleted(ctx, completed); err != nil {
		slog.Error("failed to publish evaluation result",
			"evaluation_id", set.ID,
			"error", err,
		)
	}

	// 7. If alert, publish the full alert to the alert topic
	if alerts.ShouldAlert(alert) {
		if err := w.bus.PublishAlert(ctx, alert); err != nil {
			slog.Error("failed to publish alert",
				"evaluation_id", set.ID,
				"error", err,
			)
		}
	}

	slog.Info("evaluation completed",
		"evaluation_id", set.ID,
		"tenant_id", tenantID,
		"user_id", ev.UserID,
		"alert_status", alert.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// advanceCutoffs moves every rule label's cutoff up to the most recent
// transaction time. SaveRuleCutoffs never moves a cutoff backwards, so a
// stale latest time is harmless.
func (w *Worker) advanceCutoffs(ctx context.Context, tenantID, userID string) error {
	latest, err := w.engine.LatestTransactionTime(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if latest == domain.DefaultCutoff {
		return nil
	}

	advanced := make(domain.RuleCutoffs, len(domain.RuleLabels))
	for _, label := range domain.RuleLabels {
		advanced[label] = latest
	}
	return w.repo.SaveRuleCutoffs(ctx, tenantID, userID, advanced)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
