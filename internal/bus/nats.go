package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/clearsignal/kite/internal/domain"
)

// NATSBus is the Pro tier bus. Events are marshaled straight onto tenant
// scoped subjects (kite.<tenant>.<topic>); a wildcard subscription maps onto
// the NATS subject wildcard, so one subscriber can drain every tenant.
type NATSBus struct {
	mu   sync.Mutex
	conn *nats.Conn
	subs []*natsSub
}

type natsSub struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS with reconnect resilience and retries the
// initial connection before giving up.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	conn, err := connectWithRetry(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSBus{conn: conn}, nil
}

func connectWithRetry(cfg domain.EventBusConfig) (*nats.Conn, error) {
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err, "subject", sub.Subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for i := 0; i < cfg.NATSMaxReconnects; i++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", i+1,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
}

// PublishIngested routes a transaction-ingested event by its TenantID.
func (b *NATSBus) PublishIngested(ctx context.Context, ev *domain.TransactionIngested) error {
	return b.publish(ev.TenantID, domain.TopicTransactionIngested, ev)
}

// SubscribeIngested delivers transaction-ingested events for one tenant, or
// for all tenants with domain.TenantWildcard.
func (b *NATSBus) SubscribeIngested(ctx context.Context, tenantID string, h domain.IngestedHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, data []byte) error {
		var ev domain.TransactionIngested
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		return h(ctx, &ev)
	})
}

// PublishCompleted routes an evaluation-completed event by its TenantID.
func (b *NATSBus) PublishCompleted(ctx context.Context, ev *domain.EvaluationCompleted) error {
	return b.publish(ev.TenantID, domain.TopicEvaluationCompleted, ev)
}

// SubscribeCompleted delivers evaluation-completed events for one tenant, or
// for all tenants with domain.TenantWildcard.
func (b *NATSBus) SubscribeCompleted(ctx context.Context, tenantID string, h domain.CompletedHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicEvaluationCompleted, func(ctx context.Context, data []byte) error {
		var ev domain.EvaluationCompleted
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		return h(ctx, &ev)
	})
}

// PublishAlert routes an alert by its TenantID.
func (b *NATSBus) PublishAlert(ctx context.Context, alert *domain.Alert) error {
	return b.publish(alert.TenantID, domain.TopicAlert, alert)
}

// SubscribeAlerts delivers alerts for one tenant, or for all tenants with
// domain.TenantWildcard.
func (b *NATSBus) SubscribeAlerts(ctx context.Context, tenantID string, h domain.AlertHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, data []byte) error {
		var alert domain.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return err
		}
		return h(ctx, &alert)
	})
}

func (b *NATSBus) publish(tenantID, topic string, event any) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

func (b *NATSBus) subscribe(ctx context.Context, tenantID, topic string, fn func(context.Context, []byte) error) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subj := subject(tenantID, topic)
	natsSubscription, err := b.conn.Subscribe(subj, func(m *nats.Msg) {
		if err := fn(ctx, m.Data); err != nil {
			slog.Error("event handler error", "subject", m.Subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subj, err)
	}

	sub := &natsSub{topic: topic, sub: natsSubscription}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// subject maps a tenant and topic onto a NATS subject. TenantWildcard
// becomes the single-token subject wildcard, matching every tenant.
func subject(tenantID, topic string) string {
	return fmt.Sprintf("kite.%s.%s", tenantID, topic)
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
	}
	b.subs = nil

	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe removes the subscription.
func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSub) Topic() string {
	return s.topic
}
