package ws

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateConnection = errors.New("ws: duplicate connection")
	ErrConnectionNotFound  = errors.New("ws: connection not found")
	ErrNilConnection       = errors.New("ws: nil connection")
	ErrNilPacket           = errors.New("ws: nil packet")
	ErrConnectionClosed    = errors.New("ws: connection closed")
	ErrAlreadyReceiving    = errors.New("ws: connection is already receiving")
	ErrServerClosed        = errors.New("ws: server closed")
)

// ErrorKind classifies the failures reported through error events.
type ErrorKind int8

const (
	KindDuplicateConnection ErrorKind = iota + 1
	KindConnectionNotFound
	KindTransportWrite
	KindTransportRead
	KindProtocolViolation
	KindRelay
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateConnection:
		return "duplicate_connection"
	case KindConnectionNotFound:
		return "connection_not_found"
	case KindTransportWrite:
		return "transport_write"
	case KindTransportRead:
		return "transport_read"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// ConnectionError wraps a failure with the connection and operation it happened on.
type ConnectionError struct {
	ConnectionId string
	Op           string
	Kind         ErrorKind
	Err          error
}

func (e *ConnectionError) Error() string {
	if e.ConnectionId == "" {
		return fmt.Sprintf("ws: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ws: connection %s: %s: %v", e.ConnectionId, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func newConnectionError(connectionId, op string, kind ErrorKind, err error) *ConnectionError {
	return &ConnectionError{
		ConnectionId: connectionId,
		Op:           op,
		Kind:         kind,
		Err:          err,
	}
}
