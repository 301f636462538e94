package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// deliveryBuffer is the per-subscription queue depth. Lifecycle events are
// low-rate; a full buffer means the handler has stalled, and the event is
// dropped with a log line rather than blocking publishers.
const deliveryBuffer = 256

// MemoryEventBus delivers events inside one process. Each subscription gets
// its own worker goroutine, so one subscriber sees events in publish order
// and a slow handler never delays the others.
type MemoryEventBus struct {
	logger *logger.Logger

	mu     sync.RWMutex
	subs   []*memorySubscription
	queues map[string]*queueGroup
	closed bool
}

type memorySubscription struct {
	bus     *MemoryEventBus
	pattern []string
	handler EventHandler
	// queueKey is set for queue-group members; empty for plain subscriptions
	queueKey string

	events chan *Event
	// closed under the bus write lock, which excludes in-flight publishes
	done bool
}

// queueGroup round-robins matching events over its members. Membership is
// guarded by the bus lock; next only needs the group's own mutex.
type queueGroup struct {
	pattern []string
	members []*memorySubscription

	mu   sync.Mutex
	next int
}

// pick returns the next live member, or nil when none remain.
func (g *queueGroup) pick() *memorySubscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	for range g.members {
		sub := g.members[g.next%len(g.members)]
		g.next++
		if !sub.done {
			return sub
		}
	}
	return nil
}

// NewMemoryEventBus creates an empty in-process bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log}
}

// Publish hands the event to every subscription whose pattern matches the
// subject. Delivery is asynchronous; Publish never waits on handlers.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errBusClosed
	}

	tokens := strings.Split(subject, ".")
	matched := 0
	for _, sub := range b.subs {
		if sub.done || !subjectMatches(sub.pattern, tokens) {
			continue
		}
		matched++
		b.deliver(sub, subject, event)
	}
	for _, group := range b.queues {
		if !subjectMatches(group.pattern, tokens) {
			continue
		}
		if sub := group.pick(); sub != nil {
			matched++
			b.deliver(sub, subject, event)
		}
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_type", event.Type),
		zap.Int("subscribers", matched))
	return nil
}

// deliver queues the event without blocking; a full queue means the handler
// has stalled, and the event is dropped with a log line.
func (b *MemoryEventBus) deliver(sub *memorySubscription, subject string, event *Event) {
	select {
	case sub.events <- event:
	default:
		b.logger.Warn("dropping event for stalled subscriber",
			zap.String("subject", subject),
			zap.String("pattern", strings.Join(sub.pattern, ".")))
	}
}

// Subscribe registers a handler for a subject pattern and starts its
// delivery worker.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: strings.Split(subject, "."),
		handler: handler,
		events:  make(chan *Event, deliveryBuffer),
	}
	b.subs = append(b.subs, sub)
	go sub.run()

	b.logger.Debug("subscribed", zap.String("subject", subject))
	return sub, nil
}

// QueueSubscribe adds a handler to the queue group for the subject. Each
// matching event reaches exactly one member, round-robin.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBusClosed
	}

	key := queue + ":" + subject
	sub := &memorySubscription{
		bus:      b,
		pattern:  strings.Split(subject, "."),
		handler:  handler,
		queueKey: key,
		events:   make(chan *Event, deliveryBuffer),
	}
	if b.queues == nil {
		b.queues = make(map[string]*queueGroup)
	}
	group := b.queues[key]
	if group == nil {
		group = &queueGroup{pattern: sub.pattern}
		b.queues[key] = group
	}
	group.members = append(group.members, sub)
	go sub.run()

	b.logger.Debug("queue subscribed",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Request publishes the event with a fresh reply subject under
// ReplySubjectKey and waits for a responder to publish there.
func (b *MemoryEventBus) Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error) {
	replySubject := "_INBOX." + event.ID
	responses := make(chan *Event, 1)

	sub, err := b.Subscribe(replySubject, func(_ context.Context, e *Event) error {
		select {
		case responses <- e:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating reply subscription: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if event.Data == nil {
		event.Data = make(map[string]interface{}, 1)
	}
	event.Data[ReplySubjectKey] = replySubject

	if err := b.Publish(ctx, subject, event); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-responses:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("request to %s timed out after %v", subject, timeout)
	}
}

// Close detaches every subscription and rejects further publishes.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.done = true
		close(sub.events)
	}
	b.subs = nil
	for _, group := range b.queues {
		for _, sub := range group.members {
			sub.done = true
			close(sub.events)
		}
	}
	b.queues = nil
	b.logger.Info("memory event bus closed")
}

// IsConnected reports whether the bus still accepts events.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// run drains the subscription's queue until it is unsubscribed or the bus
// closes. Handler errors are logged and delivery continues.
func (s *memorySubscription) run() {
	for event := range s.events {
		if err := s.handler(context.Background(), event); err != nil {
			s.bus.logger.Error("event handler failed",
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
}

// Unsubscribe removes the subscription from the bus and stops its worker
// once the queued events are drained.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true
	close(s.events)

	if s.queueKey != "" {
		if group := s.bus.queues[s.queueKey]; group != nil {
			for i, sub := range group.members {
				if sub == s {
					group.members = append(group.members[:i], group.members[i+1:]...)
					break
				}
			}
			if len(group.members) == 0 {
				delete(s.bus.queues, s.queueKey)
			}
		}
		return nil
	}
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid reports whether the subscription still receives events.
func (s *memorySubscription) IsValid() bool {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return !s.done
}

// subjectMatches applies NATS wildcard semantics token by token: "*" covers
// exactly one token, a trailing ">" covers one or more.
func subjectMatches(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(subject) > i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
