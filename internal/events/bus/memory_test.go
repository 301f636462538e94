package bus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.New("debug", "console", "stdout")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestNewEventPopulatesFields(t *testing.T) {
	event := NewEvent("agent.created", "engine", map[string]interface{}{"id": "a1"})

	if event.ID == "" {
		t.Error("Expected generated event ID")
	}
	if event.Type != "agent.created" {
		t.Errorf("Expected type agent.created, got %s", event.Type)
	}
	if event.Source != "engine" {
		t.Errorf("Expected source engine, got %s", event.Source)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if event.Data["id"] != "a1" {
		t.Errorf("Expected data id a1, got %v", event.Data["id"])
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("agent.created", "engine", map[string]interface{}{"id": "a1"})
	if err := bus.Publish(ctx, "agent.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
		if e.Type != event.Type {
			t.Errorf("Expected event type %s, got %s", event.Type, e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	for i := 0; i < 3; i++ {
		sub, err := bus.Subscribe("agent.updated", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	event := NewEvent("agent.updated", "engine", nil)
	if err := bus.Publish(ctx, "agent.updated", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // Allow workers to drain

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("Expected 3 handlers to be called, got %d", count)
	}
}

func TestMemoryEventBus_DeliveryOrderPerSubscription(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan string, 10)

	sub, err := bus.Subscribe("agent.>", func(ctx context.Context, event *Event) error {
		received <- event.Type
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	subjects := []string{"agent.created", "agent.updated", "agent.updated", "agent.deleted"}
	for _, subject := range subjects {
		if err := bus.Publish(ctx, subject, NewEvent(subject, "engine", nil)); err != nil {
			t.Fatalf("Publish to %s failed: %v", subject, err)
		}
	}

	for i, want := range subjects {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("Delivery %d: expected %s, got %s", i, want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for delivery %d", i)
		}
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("agent.deleted", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !sub.IsValid() {
		t.Error("Expected subscription to be valid before unsubscribe")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Second unsubscribe failed: %v", err)
	}

	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	event := NewEvent("agent.deleted", "engine", nil)
	if err := bus.Publish(ctx, "agent.deleted", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected no handler calls after unsubscribe, got %d", count)
	}
}

func TestMemoryEventBus_SingleTokenWildcard(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan string, 4)

	sub, err := bus.Subscribe("agent.*", func(ctx context.Context, event *Event) error {
		received <- event.Type
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	// Matches: single trailing token
	if err := bus.Publish(ctx, "agent.created", NewEvent("agent.created", "engine", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Does not match: two trailing tokens
	if err := bus.Publish(ctx, "agent.message.stream", NewEvent("agent.message.stream", "engine", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "agent.created" {
			t.Errorf("Expected agent.created, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for wildcard match")
	}

	select {
	case got := <-received:
		t.Errorf("Unexpected delivery for %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBus_MultiTokenWildcard(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("agent.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	subjects := []string{"agent.created", "agent.updated", "agent.message.stream"}
	for _, subject := range subjects {
		if err := bus.Publish(ctx, subject, NewEvent(subject, "engine", nil)); err != nil {
			t.Fatalf("Publish to %s failed: %v", subject, err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) != int32(len(subjects)) {
		t.Errorf("Expected %d deliveries, got %d", len(subjects), count)
	}
}

func TestMemoryEventBus_QueueSubscribeRoundRobin(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	counts := make([]int32, 3)

	for i := 0; i < 3; i++ {
		i := i
		sub, err := bus.QueueSubscribe("agent.updated", "workers", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&counts[i], 1)
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe %d failed: %v", i, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	const published = 9
	for i := 0; i < published; i++ {
		if err := bus.Publish(ctx, "agent.updated", NewEvent("agent.updated", "engine", nil)); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	var total int32
	for i := range counts {
		n := atomic.LoadInt32(&counts[i])
		if n != published/3 {
			t.Errorf("Member %d: expected %d deliveries, got %d", i, published/3, n)
		}
		total += n
	}
	if total != published {
		t.Errorf("Expected %d total deliveries across the group, got %d", published, total)
	}
}

func TestMemoryEventBus_QueueSubscribeSkipsUnsubscribedMember(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var gone, alive int32

	goneSub, err := bus.QueueSubscribe("agent.created", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&gone, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	aliveSub, err := bus.QueueSubscribe("agent.created", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&alive, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() {
		_ = aliveSub.Unsubscribe()
	}()

	if err := goneSub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := bus.Publish(ctx, "agent.created", NewEvent("agent.created", "engine", nil)); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&gone) != 0 {
		t.Errorf("Expected no deliveries to unsubscribed member, got %d", gone)
	}
	if atomic.LoadInt32(&alive) != 4 {
		t.Errorf("Expected remaining member to receive all 4 events, got %d", alive)
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()

	sub, err := bus.Subscribe("agent.status", func(ctx context.Context, event *Event) error {
		replySubject, ok := event.Data[ReplySubjectKey].(string)
		if !ok {
			t.Errorf("Expected reply subject under %q, got %v", ReplySubjectKey, event.Data)
			return nil
		}
		response := NewEvent("agent.status.response", "engine", map[string]interface{}{
			"status": "RUNNING",
		})
		return bus.Publish(ctx, replySubject, response)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	request := NewEvent("agent.status", "gateway", map[string]interface{}{"agentId": "a1"})
	response, err := bus.Request(ctx, "agent.status", request, time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if response.Type != "agent.status.response" {
		t.Errorf("Expected response type agent.status.response, got %s", response.Type)
	}
	if response.Data["status"] != "RUNNING" {
		t.Errorf("Expected status RUNNING, got %v", response.Data["status"])
	}
}

func TestMemoryEventBus_RequestTimeout(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	request := NewEvent("agent.status", "gateway", nil)
	if _, err := bus.Request(context.Background(), "agent.status", request, 50*time.Millisecond); err == nil {
		t.Fatal("Expected timeout error when no responder exists")
	}
}

func TestMemoryEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return errors.New("handler exploded")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, "agent.created", NewEvent("agent.created", "engine", nil)); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&count) != 3 {
		t.Errorf("Expected 3 deliveries despite handler errors, got %d", count)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	ctx := context.Background()
	var count int32

	if _, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Close()
	bus.Close() // idempotent

	if bus.IsConnected() {
		t.Error("Expected bus to report disconnected after close")
	}

	if err := bus.Publish(ctx, "agent.created", NewEvent("agent.created", "engine", nil)); err == nil {
		t.Error("Expected publish to fail after close")
	}

	if _, err := bus.Subscribe("agent.created", func(ctx context.Context, event *Event) error {
		return nil
	}); err == nil {
		t.Error("Expected subscribe to fail after close")
	}

	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected no deliveries after close, got %d", count)
	}
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"agent.created", "agent.created", true},
		{"agent.created", "agent.updated", false},
		{"agent.created", "agent", false},
		{"agent.*", "agent.created", true},
		{"agent.*", "agent.message.stream", false},
		{"agent.*", "agent", false},
		{"agent.>", "agent.created", true},
		{"agent.>", "agent.message.stream", true},
		{"agent.>", "agent", false},
		{"*.created", "agent.created", true},
		{"*.created", "task.created", true},
		{"*.created", "agent.deleted", false},
	}

	for _, tt := range tests {
		got := subjectMatches(strings.Split(tt.pattern, "."), strings.Split(tt.subject, "."))
		if got != tt.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}
