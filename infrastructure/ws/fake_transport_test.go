package ws

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

type frame struct {
	messageType int
	data        []byte
	err         error
}

// fakeTransport implements Transport for testing. Inbound frames are queued
// with Push; Close unblocks a pending ReadMessage.
type fakeTransport struct {
	mu          sync.Mutex
	inbound     chan frame
	written     []frame
	controls    []frame
	writeErr    error
	readLimit   int64
	pongHandler func(string) error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan frame, 1024),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.inbound:
		if fr.err != nil {
			return 0, nil, fr.err
		}
		return fr.messageType, fr.data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if f.IsClosed() {
		return net.ErrClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, frame{messageType: messageType, data: data})
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	if f.IsClosed() {
		return net.ErrClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, frame{messageType: messageType, data: data})
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) Push(messageType int, data []byte) {
	f.inbound <- frame{messageType: messageType, data: data}
}

func (f *fakeTransport) PushError(err error) {
	f.inbound <- frame{err: err}
}

func (f *fakeTransport) SetWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) Written() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]frame, len(f.written))
	copy(result, f.written)
	return result
}

func (f *fakeTransport) Controls() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]frame, len(f.controls))
	copy(result, f.controls)
	return result
}

// eventRecorder collects every event kind on a single subscriber queue.
type eventRecorder struct {
	mu          sync.Mutex
	connections []ConnectionEvent
	messages    []MessageEvent
	errors      []ErrorEvent
}

func recordEvents(s *Server) *eventRecorder {
	rec := &eventRecorder{}
	s.Events().Subscribe(Handlers{
		Connection: func(e ConnectionEvent) {
			rec.mu.Lock()
			rec.connections = append(rec.connections, e)
			rec.mu.Unlock()
		},
		Message: func(e MessageEvent) {
			rec.mu.Lock()
			rec.messages = append(rec.messages, e)
			rec.mu.Unlock()
		},
		Error: func(e ErrorEvent) {
			rec.mu.Lock()
			rec.errors = append(rec.errors, e)
			rec.mu.Unlock()
		},
	})
	return rec
}

func (r *eventRecorder) Connections() []ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionEvent(nil), r.connections...)
}

func (r *eventRecorder) Messages() []MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MessageEvent(nil), r.messages...)
}

func (r *eventRecorder) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

func (r *eventRecorder) ReceivedFrom(conn *Connection) []string {
	var out []string
	for _, e := range r.Messages() {
		if e.Type == MessageReceived && e.Connection == conn {
			out = append(out, e.Message)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer returns a server without pings or read deadlines.
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	base := []Option{
		WithLogger(discardLogger()),
		WithConfig(Config{WriteWait: time.Second}),
	}
	s := NewServer(append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func acceptTest(t *testing.T, s *Server, opts ...ConnectionOption) (*Connection, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	conn, err := s.Accept(context.Background(), transport, opts...)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	return conn, transport
}
