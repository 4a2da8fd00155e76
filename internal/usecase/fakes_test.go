package usecase

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
	"wssimple/infrastructure/ws"
	"wssimple/internal/entity"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type written struct {
	messageType int
	data        []byte
}

// fakeTransport satisfies ws.Transport. Reads block until Close.
type fakeTransport struct {
	mu       sync.Mutex
	writes   []written
	writeErr error
	closed   chan struct{}
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, written{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeTransport) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeTransport) SetReadLimit(int64)                        {}
func (f *fakeTransport) SetPongHandler(func(string) error)         {}
func (f *fakeTransport) RemoteAddr() net.Addr                      { return fakeAddr("10.0.0.1:5000") }

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) Written() []written {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]written(nil), f.writes...)
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

type fakeRelay struct {
	mu        sync.Mutex
	serverId  string
	presence  map[string]string
	locateErr error
}

func newFakeRelay(serverId string) *fakeRelay {
	return &fakeRelay{serverId: serverId, presence: map[string]string{}}
}

func (r *fakeRelay) ServerId() string { return r.serverId }

func (r *fakeRelay) Publish(context.Context, ws.RelayMessage) error { return nil }

func (r *fakeRelay) Subscribe(context.Context, func(ws.RelayMessage)) error { return nil }

func (r *fakeRelay) Announce(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[id] = r.serverId
	return nil
}

func (r *fakeRelay) Forget(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, id)
	return nil
}

func (r *fakeRelay) Locate(_ context.Context, id string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locateErr != nil {
		return "", false, r.locateErr
	}
	serverId, ok := r.presence[id]
	return serverId, ok, nil
}

func (r *fakeRelay) Close() error { return nil }

type fakeMessageRepository struct {
	mu       sync.Mutex
	created  []entity.Message
	filters  []entity.MessageIndexFilter
	createFn func(entity.Message) error
	deleted  []string
}

func (r *fakeMessageRepository) Index(_ context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, filter)
	return []entity.Message{}, nil
}

func (r *fakeMessageRepository) Create(_ context.Context, message entity.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createFn != nil {
		if err := r.createFn(message); err != nil {
			return "", err
		}
	}
	message.Id = "generated"
	r.created = append(r.created, message)
	return message.Id, nil
}

func (r *fakeMessageRepository) GetByConnectionId(ctx context.Context, connectionId string, limit, offset int) ([]entity.Message, error) {
	return r.Index(ctx, entity.MessageIndexFilter{ConnectionId: connectionId, Limit: limit, Offset: offset})
}

func (r *fakeMessageRepository) DeleteByConnectionId(_ context.Context, connectionId string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if connectionId == "broken" {
		return 0, errors.New("delete failed")
	}
	r.deleted = append(r.deleted, connectionId)

	kept := r.created[:0]
	var n int64
	for _, m := range r.created {
		if m.ConnectionId == connectionId {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.created = kept
	return n, nil
}

func (r *fakeMessageRepository) EnsureIndexes(context.Context) error { return nil }
