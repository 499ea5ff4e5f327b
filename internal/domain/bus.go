package domain

import (
	"context"
	"time"
)

// TenantWildcard subscribes across every tenant. The channel bus fans
// wildcard subscriptions into every tenant's stream; the NATS bus maps it
// onto a subject wildcard.
const TenantWildcard = "*"

// TransactionIngested is emitted after a deposit or withdrawal is recorded,
// and drives the async evaluation pipeline.
type TransactionIngested struct {
	TxID      string          `json:"txId"`
	TenantID  string          `json:"tenantId"`
	TraceID   string          `json:"traceId,omitempty"`
	UserID    string          `json:"userId"`
	AccountID string          `json:"accountId"`
	Type      TransactionType `json:"type"`
}

// EvaluationCompleted is emitted after a battery run has been persisted.
type EvaluationCompleted struct {
	EvaluationID string `json:"evaluationId"`
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
	AccountID    string `json:"accountId"`
	AlertStatus  string `json:"alertStatus"`
}

// TriggeredSignal names one signal that crossed its alert threshold.
type TriggeredSignal struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Alert is the decision summary published for downstream consumers when a
// signal set crosses the alerting thresholds.
type Alert struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenantId"`
	UserID       string            `json:"user_id"`
	AccountID    string            `json:"account_id"`
	EvaluationID string            `json:"evaluationId"`
	Status       string            `json:"status"`
	Signals      []TriggeredSignal `json:"signals,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Handlers for each pipeline event.
type (
	IngestedHandler  func(ctx context.Context, ev *TransactionIngested) error
	CompletedHandler func(ctx context.Context, ev *EvaluationCompleted) error
	AlertHandler     func(ctx context.Context, alert *Alert) error
)

// EventBus carries the evaluation pipeline's events between components.
// Implemented over Go channels (Community) or NATS (Pro). Publishing routes
// by the event's own TenantID; subscribing with TenantWildcard receives
// every tenant's events.
type EventBus interface {
	PublishIngested(ctx context.Context, ev *TransactionIngested) error
	SubscribeIngested(ctx context.Context, tenantID string, h IngestedHandler) (Subscription, error)

	PublishCompleted(ctx context.Context, ev *EvaluationCompleted) error
	SubscribeCompleted(ctx context.Context, tenantID string, h CompletedHandler) (Subscription, error)

	PublishAlert(ctx context.Context, alert *Alert) error
	SubscribeAlerts(ctx context.Context, tenantID string, h AlertHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving events.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topic names for the evaluation pipeline.
const (
	TopicTransactionIngested = "transaction.ingested"
	TopicEvaluationCompleted = "evaluation.completed"
	TopicAlert               = "alert"
)
