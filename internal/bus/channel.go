// Package bus carries the evaluation pipeline's events between components.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/clearsignal/kite/internal/domain"
)

// delivery is one event in flight, tagged with the publisher's tenant so
// wildcard subscribers can still see where it came from.
type delivery struct {
	tenantID string
	event    any
}

// ChannelBus is the in-process Community tier bus. Each subscription owns a
// buffered channel drained by its own goroutine; publishing never blocks,
// and a subscriber that falls more than bufferSize events behind drops the
// overflow.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	subs       map[string][]*channelSub // keyed tenantID+"/"+topic
	closed     bool
}

type channelSub struct {
	topic  string
	in     chan delivery
	cancel context.CancelFunc
	bus    *ChannelBus
	key    string
}

// NewChannelBus creates an in-process bus with the given per-subscriber
// buffer size.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		subs:       make(map[string][]*channelSub),
	}
}

// PublishIngested routes a transaction-ingested event by its TenantID.
func (b *ChannelBus) PublishIngested(ctx context.Context, ev *domain.TransactionIngested) error {
	return b.publish(ev.TenantID, domain.TopicTransactionIngested, ev)
}

// SubscribeIngested delivers transaction-ingested events for one tenant, or
// for all tenants with domain.TenantWildcard.
func (b *ChannelBus) SubscribeIngested(ctx context.Context, tenantID string, h domain.IngestedHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, d delivery) error {
		ev, ok := d.event.(*domain.TransactionIngested)
		if !ok {
			return fmt.Errorf("unexpected event type on %s", domain.TopicTransactionIngested)
		}
		return h(ctx, ev)
	})
}

// PublishCompleted routes an evaluation-completed event by its TenantID.
func (b *ChannelBus) PublishCompleted(ctx context.Context, ev *domain.EvaluationCompleted) error {
	return b.publish(ev.TenantID, domain.TopicEvaluationCompleted, ev)
}

// SubscribeCompleted delivers evaluation-completed events for one tenant, or
// for all tenants with domain.TenantWildcard.
func (b *ChannelBus) SubscribeCompleted(ctx context.Context, tenantID string, h domain.CompletedHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicEvaluationCompleted, func(ctx context.Context, d delivery) error {
		ev, ok := d.event.(*domain.EvaluationCompleted)
		if !ok {
			return fmt.Errorf("unexpected event type on %s", domain.TopicEvaluationCompleted)
		}
		return h(ctx, ev)
	})
}

// PublishAlert routes an alert by its TenantID.
func (b *ChannelBus) PublishAlert(ctx context.Context, alert *domain.Alert) error {
	return b.publish(alert.TenantID, domain.TopicAlert, alert)
}

// SubscribeAlerts delivers alerts for one tenant, or for all tenants with
// domain.TenantWildcard.
func (b *ChannelBus) SubscribeAlerts(ctx context.Context, tenantID string, h domain.AlertHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, d delivery) error {
		alert, ok := d.event.(*domain.Alert)
		if !ok {
			return fmt.Errorf("unexpected event type on %s", domain.TopicAlert)
		}
		return h(ctx, alert)
	})
}

// publish fans an event out to the tenant's subscribers and to wildcard
// subscribers, without blocking on slow consumers.
func (b *ChannelBus) publish(tenantID, topic string, event any) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := make([]*channelSub, 0,
		len(b.subs[subKey(tenantID, topic)])+len(b.subs[subKey(domain.TenantWildcard, topic)]))
	targets = append(targets, b.subs[subKey(tenantID, topic)]...)
	targets = append(targets, b.subs[subKey(domain.TenantWildcard, topic)]...)
	b.mu.RUnlock()

	d := delivery{tenantID: tenantID, event: event}
	for _, sub := range targets {
		select {
		case sub.in <- d:
		default:
			// subscriber buffer full, drop for this subscriber
		}
	}
	return nil
}

func (b *ChannelBus) subscribe(ctx context.Context, tenantID, topic string, fn func(context.Context, delivery) error) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	key := subKey(tenantID, topic)
	sub := &channelSub{
		topic:  topic,
		in:     make(chan delivery, b.bufferSize),
		cancel: cancel,
		bus:    b,
		key:    key,
	}
	b.subs[key] = append(b.subs[key], sub)

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case d := <-sub.in:
				if d.event != nil {
					_ = fn(subCtx, d)
				}
			}
		}
	}()

	return sub, nil
}

// Ping reports whether the bus is still open.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subs = make(map[string][]*channelSub)
	return nil
}

func subKey(tenantID, topic string) string {
	return tenantID + "/" + topic
}

// Unsubscribe detaches this subscriber from the bus.
func (s *channelSub) Unsubscribe() error {
	s.cancel()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	kept := s.bus.subs[s.key][:0]
	for _, sub := range s.bus.subs[s.key] {
		if sub != s {
			kept = append(kept, sub)
		}
	}
	s.bus.subs[s.key] = kept
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSub) Topic() string {
	return s.topic
}
