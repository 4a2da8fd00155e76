package ws

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewEventBus(discardLogger())
	defer bus.Close(context.Background())

	release := make(chan struct{})
	var (
		mu       sync.Mutex
		received int
	)
	bus.Subscribe(Handlers{Error: func(ErrorEvent) {
		<-release
		mu.Lock()
		received++
		mu.Unlock()
	}})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(ErrorEvent{Kind: KindTransportRead})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 1000
	})
}

func TestSubscriberReceivesInPublishOrder(t *testing.T) {
	bus := NewEventBus(discardLogger())

	var (
		mu  sync.Mutex
		got []string
	)
	bus.Subscribe(Handlers{Message: func(e MessageEvent) {
		mu.Lock()
		got = append(got, e.Message)
		mu.Unlock()
	}})

	for i := 0; i < 100; i++ {
		bus.Publish(MessageEvent{Message: string(rune('a' + i%26))})
	}

	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("expected Close to drain 100 events, got %d", len(got))
	}
	for i, msg := range got {
		if want := string(rune('a' + i%26)); msg != want {
			t.Fatalf("event %d = %s, want %s", i, msg, want)
		}
	}
}

func TestSubscriberOnlyGetsHandledKinds(t *testing.T) {
	bus := NewEventBus(discardLogger())

	var (
		mu          sync.Mutex
		connections int
	)
	bus.Subscribe(Handlers{Connection: func(ConnectionEvent) {
		mu.Lock()
		connections++
		mu.Unlock()
	}})

	bus.Publish(MessageEvent{})
	bus.Publish(ErrorEvent{})
	bus.Publish(ConnectionEvent{Type: Connected})
	bus.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if connections != 1 {
		t.Errorf("expected 1 connection event, got %d", connections)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(discardLogger())
	defer bus.Close(context.Background())

	var (
		mu    sync.Mutex
		count int
	)
	unsubscribe := bus.Subscribe(Handlers{Error: func(ErrorEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	}})

	bus.Publish(ErrorEvent{})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsubscribe()
	unsubscribe()
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}

	bus.Publish(ErrorEvent{})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := NewEventBus(discardLogger())
	defer bus.Close(context.Background())

	var (
		mu    sync.Mutex
		count int
	)
	bus.Subscribe(Handlers{Message: func(e MessageEvent) {
		if e.Message == "panic" {
			panic("handler failure")
		}
		mu.Lock()
		count++
		mu.Unlock()
	}})

	bus.Publish(MessageEvent{Message: "panic"})
	bus.Publish(MessageEvent{Message: "ok"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus(discardLogger())
	bus.Close(context.Background())

	bus.Publish(ErrorEvent{})
	unsubscribe := bus.Subscribe(Handlers{Error: func(ErrorEvent) {}})
	unsubscribe()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected closed bus to refuse subscribers, got %d", bus.SubscriberCount())
	}
}
