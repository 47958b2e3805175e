package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/12Particles/pivosync/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
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

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var received *Event

	sub, err := bus.Subscribe("execution.started", func(ctx context.Context, event *Event) error {
		received = event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("execution.started", "test-source", map[string]interface{}{"attempt_id": "a1"})
	if err := bus.Publish(ctx, "execution.started", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is synchronous when publishing outside a handler
	if received == nil {
		t.Fatal("Expected event to be delivered")
	}
	if received.ID != event.ID {
		t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
	}
	if received.Type != event.Type {
		t.Errorf("Expected event type %s, got %s", event.Type, received.Type)
	}
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	for i := 0; i < 3; i++ {
		sub, err := bus.Subscribe("test.multi", func(ctx context.Context, event *Event) error {
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

	event := NewEvent("test.type", "test-source", nil)
	if err := bus.Publish(ctx, "test.multi", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected 3 handlers to be called, got %d", got)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("test.unsub", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, "test.unsub", NewEvent("test.type", "src", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	// Second unsubscribe must be a no-op
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Repeated unsubscribe failed: %v", err)
	}
	if err := bus.Publish(ctx, "test.unsub", NewEvent("test.type", "src", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected 1 delivery before unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_ReentrantPublish(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var order []string
	var mu sync.Mutex

	// The handler for "first" publishes "second" from inside the handler.
	// The nested publish must be deferred until the outer handler returns.
	subFirst, err := bus.Subscribe("chain.first", func(ctx context.Context, event *Event) error {
		mu.Lock()
		order = append(order, "first-begin")
		mu.Unlock()

		if err := bus.Publish(ctx, "chain.second", NewEvent("chain.second", "src", nil)); err != nil {
			return err
		}

		mu.Lock()
		order = append(order, "first-end")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = subFirst.Unsubscribe() }()

	subSecond, err := bus.Subscribe("chain.second", func(ctx context.Context, event *Event) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = subSecond.Unsubscribe() }()

	if err := bus.Publish(ctx, "chain.first", NewEvent("chain.first", "src", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	want := []string{"first-begin", "first-end", "second"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("Expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, order)
		}
	}
}

func TestMemoryEventBus_OrderingPerSubject(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var got []string

	sub, err := bus.Subscribe("ordered.subject", func(ctx context.Context, event *Event) error {
		got = append(got, event.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	var want []string
	for i := 0; i < 10; i++ {
		event := NewEvent("ordered", "src", nil)
		want = append(want, event.ID)
		if err := bus.Publish(ctx, "ordered.subject", event); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Event %d out of order: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestMemoryEventBus_QueueSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var a, b int32

	subA, err := bus.QueueSubscribe("test.queue", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&a, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() { _ = subA.Unsubscribe() }()

	subB, err := bus.QueueSubscribe("test.queue", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&b, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("QueueSubscribe failed: %v", err)
	}
	defer func() { _ = subB.Unsubscribe() }()

	for i := 0; i < 4; i++ {
		if err := bus.Publish(ctx, "test.queue", NewEvent("test.type", "src", nil)); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	// Each event goes to exactly one group member, round-robin
	total := atomic.LoadInt32(&a) + atomic.LoadInt32(&b)
	if total != 4 {
		t.Errorf("Expected 4 total deliveries, got %d", total)
	}
	if atomic.LoadInt32(&a) != 2 || atomic.LoadInt32(&b) != 2 {
		t.Errorf("Expected 2/2 split, got %d/%d", a, b)
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var single, multi int32

	subSingle, err := bus.Subscribe("execution.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&single, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = subSingle.Unsubscribe() }()

	subMulti, err := bus.Subscribe("execution.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&multi, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = subMulti.Unsubscribe() }()

	if err := bus.Publish(ctx, "execution.started", NewEvent("t", "src", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, "execution.message.nested", NewEvent("t", "src", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&single); got != 1 {
		t.Errorf("Expected * to match 1 subject, got %d", got)
	}
	if got := atomic.LoadInt32(&multi); got != 2 {
		t.Errorf("Expected > to match 2 subjects, got %d", got)
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()

	sub, err := bus.Subscribe("svc.echo", func(ctx context.Context, event *Event) error {
		reply, _ := event.Data["_reply"].(string)
		if reply == "" {
			t.Error("Expected _reply subject in request data")
			return nil
		}
		return bus.Publish(ctx, reply, NewEvent("svc.echo.reply", "svc", event.Data))
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	req := NewEvent("svc.echo", "test", map[string]interface{}{"value": "ping"})
	resp, err := bus.Request(ctx, "svc.echo", req, time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.Data["value"] != "ping" {
		t.Errorf("Expected echoed value, got %v", resp.Data["value"])
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	ctx := context.Background()
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}
	if err := bus.Publish(ctx, "test.closed", NewEvent("t", "src", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe("test.closed", func(ctx context.Context, e *Event) error { return nil }); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}
