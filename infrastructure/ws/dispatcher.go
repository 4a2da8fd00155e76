package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Handlers groups the callbacks of one subscriber. Nil callbacks are skipped.
// All callbacks of a subscriber run on the same goroutine, in publish order.
type Handlers struct {
	Connection func(ConnectionEvent)
	Message    func(MessageEvent)
	Error      func(ErrorEvent)
}

func (h Handlers) accepts(event any) bool {
	switch event.(type) {
	case ConnectionEvent:
		return h.Connection != nil
	case MessageEvent:
		return h.Message != nil
	case ErrorEvent:
		return h.Error != nil
	default:
		return false
	}
}

// EventBus fans events out to subscribers. Each subscriber has its own
// unbounded FIFO queue and goroutine, so Publish never waits on a handler.
type EventBus struct {
	mu        sync.RWMutex
	listeners map[uint64]*listener
	nextId    uint64
	closed    bool

	logger *slog.Logger
}

type listener struct {
	handlers Handlers

	mu     sync.Mutex
	queue  *queue.Queue
	notify chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		listeners: make(map[uint64]*listener),
		logger:    logger,
	}
}

// Subscribe registers h and returns a func that removes it. Events already
// queued for the subscriber are still delivered after unsubscribing.
func (b *EventBus) Subscribe(h Handlers) (unsubscribe func()) {
	l := &listener{
		handlers: h,
		queue:    queue.New(),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   b.logger,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextId++
	id := b.nextId
	b.listeners[id] = l
	b.mu.Unlock()

	go l.run()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
		l.close()
	}
}

// Publish enqueues event for every interested subscriber.
func (b *EventBus) Publish(event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, l := range b.listeners {
		if l.handlers.accepts(event) {
			l.push(event)
		}
	}
}

func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close stops accepting events and waits until every subscriber has drained
// its queue, or ctx is done.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	listeners := make([]*listener, 0, len(b.listeners))
	for id, l := range b.listeners {
		listeners = append(listeners, l)
		delete(b.listeners, id)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l.close()
	}
	for _, l := range listeners {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *listener) push(event any) {
	l.mu.Lock()
	l.queue.Add(event)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *listener) pop() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.queue.Length() == 0 {
		return nil, false
	}
	return l.queue.Remove(), true
}

func (l *listener) close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *listener) run() {
	defer close(l.done)

	for {
		l.drain()

		select {
		case <-l.notify:
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *listener) drain() {
	for {
		event, ok := l.pop()
		if !ok {
			return
		}
		l.deliver(event)
	}
}

func (l *listener) deliver(event any) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("event handler panic", "panic", rec)
		}
	}()

	switch e := event.(type) {
	case ConnectionEvent:
		l.handlers.Connection(e)
	case MessageEvent:
		l.handlers.Message(e)
	case ErrorEvent:
		l.handlers.Error(e)
	}
}
