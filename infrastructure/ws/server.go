package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "wssimple/infrastructure/ws"
	presenceTimeout = 5 * time.Second
)

// Config holds the per-connection timing and size limits.
type Config struct {
	// WriteWait bounds every write, including the close frame.
	WriteWait time.Duration

	// PongWait is how long the receive loop waits for any frame before the
	// connection is considered dead. Zero disables the read deadline.
	PongWait time.Duration

	// PingInterval is how often ping control frames are sent. Zero disables pings.
	// It must be shorter than PongWait.
	PingInterval time.Duration

	// ReadLimit is the largest inbound message accepted, in bytes. Zero means no limit.
	ReadLimit int64
}

func DefaultConfig() Config {
	return Config{
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 54 * time.Second,
		ReadLimit:    1 << 20,
	}
}

type Option func(*Server)

func WithConfig(config Config) Option {
	return func(s *Server) {
		s.config = config
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRelay fans broadcasts out to other server nodes.
func WithRelay(relay Relay) Option {
	return func(s *Server) {
		s.relay = relay
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// Server is the public surface over the connection registry: it accepts
// transports, runs one receive loop per connection, sends and broadcasts,
// disconnects, and raises connection, message and error events.
type Server struct {
	manager *ConnectionManager
	events  *EventBus
	relay   Relay
	config  Config

	mu     sync.Mutex // guards closed and wg.Add
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
	tracer trace.Tracer
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		manager: NewConnectionManager(),
		config:  DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = s.logger.With("component", "ws_server")
	s.events = NewEventBus(s.logger)
	return s
}

// Start subscribes to the relay, if one is configured.
func (s *Server) Start(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Subscribe(ctx, s.handleRelayMessage)
}

// Accept wraps transport in a Connection, registers it and raises a
// Connected event.
func (s *Server) Accept(ctx context.Context, transport Transport, opts ...ConnectionOption) (*Connection, error) {
	if transport == nil {
		return nil, ErrNilConnection
	}

	conn := NewConnection(transport, append([]ConnectionOption{WithWriteWait(s.config.WriteWait)}, opts...)...)

	// Close snapshots the registry after setting closed, so registering under
	// the same lock guarantees it sees this connection.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}
	err := s.manager.Register(conn)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.relay != nil {
		if err := s.relay.Announce(ctx, conn.Id()); err != nil {
			s.raise(conn, newConnectionError(conn.Id(), "announce", KindRelay, err))
		}
	}

	s.logger.Info("connection registered",
		"connection_id", conn.Id(),
		"user_id", conn.UserId(),
		"remote_addr", conn.RemoteAddr(),
		"active_connections", s.manager.Count())

	s.events.Publish(ConnectionEvent{
		Connection: conn,
		Type:       Connected,
		Timestamp:  time.Now(),
	})
	return conn, nil
}

// SendToConnection encodes packet and writes it as a text message. It returns
// false, with an error event raised, when conn is no longer registered or the
// write fails. A non-nil error means the call itself was invalid.
func (s *Server) SendToConnection(ctx context.Context, packet IPacket, conn *Connection) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	if packet == nil {
		return false, ErrNilPacket
	}

	data, err := packet.Encode()
	if err != nil {
		return false, fmt.Errorf("ws: encode packet: %w", err)
	}
	return s.send(ctx, "send", conn, websocket.TextMessage, data), nil
}

// SendMessageToConnection wraps message in a Packet stamped with the current time.
func (s *Server) SendMessageToConnection(ctx context.Context, message string, conn *Connection) (bool, error) {
	return s.SendToConnection(ctx, NewPacket(message), conn)
}

// SendToConnectionRaw writes message verbatim as a text message.
func (s *Server) SendToConnectionRaw(ctx context.Context, message string, conn *Connection) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	return s.send(ctx, "send_raw", conn, websocket.TextMessage, []byte(message)), nil
}

// SendBytesToConnection writes data verbatim as a binary message.
func (s *Server) SendBytesToConnection(ctx context.Context, data []byte, conn *Connection) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	return s.send(ctx, "send_bytes", conn, websocket.BinaryMessage, data), nil
}

// Broadcast sends packet to every registered connection and to the relay.
// It returns the number of local connections the write succeeded on.
func (s *Server) Broadcast(ctx context.Context, packet IPacket) (int, error) {
	if packet == nil {
		return 0, ErrNilPacket
	}

	data, err := packet.Encode()
	if err != nil {
		return 0, fmt.Errorf("ws: encode packet: %w", err)
	}
	return s.broadcast(ctx, websocket.TextMessage, data), nil
}

func (s *Server) BroadcastRaw(ctx context.Context, message string) int {
	return s.broadcast(ctx, websocket.TextMessage, []byte(message))
}

// DisconnectConnection removes conn from the registry and closes it. The
// connection is unregistered by the time it returns, whether or not the peer
// answers the close frame. Calling it on a closed connection is a no-op.
func (s *Server) DisconnectConnection(ctx context.Context, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	_, span := s.tracer.Start(ctx, "ws.disconnect", trace.WithAttributes(
		attribute.String("ws.connection_id", conn.Id()),
	))
	defer span.End()

	s.disconnect(conn, websocket.CloseNormalClosure, "", nil)
	return nil
}

// StartReceiving runs the receive loop of conn and returns when it ends: on
// peer close, read or protocol error, DisconnectConnection, or ctx
// cancellation. The connection is always disconnected afterwards. It may be
// called once per connection.
func (s *Server) StartReceiving(ctx context.Context, conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !conn.receiving.CompareAndSwap(false, true) {
		return ErrAlreadyReceiving
	}
	if !s.manager.contains(conn) {
		return ErrConnectionNotFound
	}

	transport := conn.transport
	if s.config.ReadLimit > 0 {
		transport.SetReadLimit(s.config.ReadLimit)
	}
	if s.config.PongWait > 0 {
		pongWait := s.config.PongWait
		_ = transport.SetReadDeadline(time.Now().Add(pongWait))
		transport.SetPongHandler(func(string) error {
			return transport.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	stop := make(chan struct{})
	defer close(stop)

	if s.config.PingInterval > 0 {
		go s.pingLoop(conn, stop)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.disconnect(conn, websocket.CloseGoingAway, "", nil)
		case <-stop:
		}
	}()

	s.logger.Debug("receive loop started", "connection_id", conn.Id())

	for {
		messageType, data, err := transport.ReadMessage()
		if err != nil {
			cause := s.classifyReadError(conn, err)
			s.disconnect(conn, closeCodeFor(cause), "", cause)
			break
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			s.events.Publish(newMessageEvent(conn, MessageReceived, messageType, data))
		}
	}

	s.logger.Debug("receive loop finished", "connection_id", conn.Id())
	return nil
}

func (s *Server) Connections() []*Connection {
	return s.manager.All()
}

func (s *Server) ConnectionManager() *ConnectionManager {
	return s.manager
}

// Events exposes the bus for subscribers that need one queue across all event kinds.
func (s *Server) Events() *EventBus {
	return s.events
}

func (s *Server) OnConnection(fn func(ConnectionEvent)) (unsubscribe func()) {
	return s.events.Subscribe(Handlers{Connection: fn})
}

func (s *Server) OnMessage(fn func(MessageEvent)) (unsubscribe func()) {
	return s.events.Subscribe(Handlers{Message: fn})
}

func (s *Server) OnError(fn func(ErrorEvent)) (unsubscribe func()) {
	return s.events.Subscribe(Handlers{Error: fn})
}

// Close disconnects every connection, waits for the receive loops and drains
// the event subscribers.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, conn := range s.manager.All() {
		s.disconnect(conn, websocket.CloseGoingAway, "server shutdown", nil)
	}

	var errs []error
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	loopsDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := s.events.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("server closed")
	return errors.Join(errs...)
}

func (s *Server) send(ctx context.Context, op string, conn *Connection, messageType int, data []byte) bool {
	_, span := s.tracer.Start(ctx, "ws."+op, trace.WithAttributes(
		attribute.String("ws.connection_id", conn.Id()),
		attribute.Int("ws.message_bytes", len(data)),
	))
	defer span.End()

	if !s.manager.contains(conn) {
		span.SetStatus(codes.Error, ErrConnectionNotFound.Error())
		s.raise(conn, newConnectionError(conn.Id(), op, KindConnectionNotFound, ErrConnectionNotFound))
		return false
	}

	if err := conn.Send(messageType, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrConnectionClosed) {
			// Lost a race with a concurrent disconnect; the transport did not fail.
			s.disconnect(conn, websocket.CloseNormalClosure, "", newConnectionError(conn.Id(), op, KindConnectionNotFound, err))
			return false
		}
		s.disconnect(conn, websocket.CloseInternalServerErr, "", newConnectionError(conn.Id(), op, KindTransportWrite, err))
		return false
	}

	s.events.Publish(newMessageEvent(conn, MessageSent, messageType, data))
	return true
}

func (s *Server) broadcast(ctx context.Context, messageType int, data []byte) int {
	ctx, span := s.tracer.Start(ctx, "ws.broadcast", trace.WithAttributes(
		attribute.Int("ws.message_bytes", len(data)),
	))
	defer span.End()

	sent := s.broadcastLocal(ctx, messageType, data)
	span.SetAttributes(attribute.Int("ws.delivered", sent))

	if s.relay != nil {
		err := s.relay.Publish(ctx, RelayMessage{MessageType: messageType, Payload: data})
		if err != nil {
			span.RecordError(err)
			s.raise(nil, newConnectionError("", "relay_publish", KindRelay, err))
		}
	}
	return sent
}

func (s *Server) broadcastLocal(ctx context.Context, messageType int, data []byte) int {
	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	for _, conn := range s.manager.All() {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			if s.send(ctx, "broadcast", conn, messageType, data) {
				sent.Add(1)
			}
		}(conn)
	}
	wg.Wait()
	return int(sent.Load())
}

func (s *Server) handleRelayMessage(msg RelayMessage) {
	sent := s.broadcastLocal(context.Background(), msg.MessageType, msg.Payload)
	s.logger.Debug("relayed broadcast delivered", "from_server_id", msg.FromServerId, "delivered", sent)
}

// disconnect unregisters conn, closes it and raises the resulting events.
// Removal always happens before the error event is published, so error
// subscribers never see the connection as live.
func (s *Server) disconnect(conn *Connection, code int, reason string, cause *ConnectionError) {
	removed := s.manager.unregisterExact(conn)

	if err := conn.closeWith(code, reason); err != nil {
		s.logger.Debug("close transport", "connection_id", conn.Id(), "error", err)
	}

	if removed {
		if s.relay != nil {
			if err := s.relay.Forget(context.Background(), conn.Id()); err != nil {
				s.logger.Warn("forget connection presence", "connection_id", conn.Id(), "error", err)
			}
		}
		s.logger.Info("connection unregistered",
			"connection_id", conn.Id(),
			"user_id", conn.UserId(),
			"active_connections", s.manager.Count())
	}

	if cause != nil {
		s.raise(conn, cause)
	}

	if removed {
		s.events.Publish(ConnectionEvent{
			Connection: conn,
			Type:       Disconnected,
			Timestamp:  time.Now(),
		})
	}
}

func (s *Server) raise(conn *Connection, err *ConnectionError) {
	s.logger.Warn("connection error",
		"connection_id", err.ConnectionId,
		"kind", err.Kind.String(),
		"error", err.Err)
	s.events.Publish(newErrorEvent(conn, err))
}

func (s *Server) pingLoop(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				if !conn.IsClosed() {
					s.disconnect(conn, websocket.CloseInternalServerErr, "", newConnectionError(conn.Id(), "ping", KindTransportWrite, err))
				}
				return
			}
			s.refreshPresence(conn)
		case <-stop:
			return
		case <-conn.Done():
			return
		}
	}
}

// refreshPresence re-arms the relay presence key so it only lapses when the
// node stops pinging, e.g. after a crash.
func (s *Server) refreshPresence(conn *Connection) {
	if s.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.relay.Announce(ctx, conn.Id()); err != nil {
		s.logger.Warn("refresh connection presence", "connection_id", conn.Id(), "error", err)
	}
}

// classifyReadError maps a ReadMessage failure to an error event cause. It
// returns nil for closes initiated by the server and for clean closes by the peer.
func (s *Server) classifyReadError(conn *Connection, err error) *ConnectionError {
	if conn.IsClosed() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return nil
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return newConnectionError(conn.Id(), "receive", KindProtocolViolation, err)
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseProtocolError,
			websocket.CloseUnsupportedData,
			websocket.CloseInvalidFramePayloadData,
			websocket.ClosePolicyViolation,
			websocket.CloseMessageTooBig:
			return newConnectionError(conn.Id(), "receive", KindProtocolViolation, err)
		}
	}
	return newConnectionError(conn.Id(), "receive", KindTransportRead, err)
}

func closeCodeFor(cause *ConnectionError) int {
	if cause == nil {
		return websocket.CloseNormalClosure
	}
	switch {
	case errors.Is(cause, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig
	case cause.Kind == KindProtocolViolation:
		return websocket.CloseProtocolError
	default:
		return websocket.CloseInternalServerErr
	}
}
