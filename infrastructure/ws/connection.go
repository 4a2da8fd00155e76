package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// Connection is one accepted WebSocket session. Writes are serialized by the
// connection itself so Send may be called from any goroutine, concurrently
// with the receive loop.
type Connection struct {
	id          string
	userId      string
	remoteAddr  string
	connectedAt time.Time

	transport Transport
	writeWait time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	receiving atomic.Bool
}

type ConnectionOption func(*Connection)

// WithConnectionId overrides the generated UUID.
func WithConnectionId(id string) ConnectionOption {
	return func(c *Connection) {
		c.id = id
	}
}

// WithUserId attaches the authenticated user to the connection.
func WithUserId(userId string) ConnectionOption {
	return func(c *Connection) {
		c.userId = userId
	}
}

func WithRemoteAddr(addr string) ConnectionOption {
	return func(c *Connection) {
		c.remoteAddr = addr
	}
}

func WithWriteWait(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.writeWait = d
	}
}

func NewConnection(transport Transport, opts ...ConnectionOption) *Connection {
	c := &Connection{
		id:          uuid.New().String(),
		connectedAt: time.Now(),
		transport:   transport,
		writeWait:   defaultWriteWait,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.remoteAddr == "" && transport != nil {
		if addr := transport.RemoteAddr(); addr != nil {
			c.remoteAddr = addr.String()
		}
	}
	return c
}

func (c *Connection) Id() string {
	return c.id
}

func (c *Connection) UserId() string {
	return c.userId
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send writes one message of the given websocket message type.
func (c *Connection) Send(messageType int, data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeWait > 0 {
		if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	return c.transport.WriteMessage(messageType, data)
}

// Close sends a normal close frame and closes the transport. It is safe to
// call more than once.
func (c *Connection) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Connection) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		// The peer is not waited on: the transport is closed right after the
		// close frame so a pending ReadMessage returns immediately.
		_ = c.transport.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), c.controlDeadline())
		err = c.transport.Close()
	})
	return err
}

func (c *Connection) ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.transport.WriteControl(websocket.PingMessage, nil, c.controlDeadline())
}

func (c *Connection) controlDeadline() time.Time {
	if c.writeWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeWait)
}
