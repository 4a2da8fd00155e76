package ws

import (
	"context"
	"net"
	"time"
)

// Transport is the accepted duplex stream a Connection runs on.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

type IServer interface {
	Accept(ctx context.Context, transport Transport, opts ...ConnectionOption) (*Connection, error)
	StartReceiving(ctx context.Context, conn *Connection) error
	SendToConnection(ctx context.Context, packet IPacket, conn *Connection) (bool, error)
	SendMessageToConnection(ctx context.Context, message string, conn *Connection) (bool, error)
	SendToConnectionRaw(ctx context.Context, message string, conn *Connection) (bool, error)
	SendBytesToConnection(ctx context.Context, data []byte, conn *Connection) (bool, error)
	Broadcast(ctx context.Context, packet IPacket) (int, error)
	BroadcastRaw(ctx context.Context, message string) int
	DisconnectConnection(ctx context.Context, conn *Connection) error
	Connections() []*Connection
	ConnectionManager() *ConnectionManager
	OnConnection(fn func(ConnectionEvent)) (unsubscribe func())
	OnMessage(fn func(MessageEvent)) (unsubscribe func())
	OnError(fn func(ErrorEvent)) (unsubscribe func())
	Close(ctx context.Context) error
}
