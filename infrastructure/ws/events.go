package ws

import "time"

type ConnectionEventType int8

const (
	Connected ConnectionEventType = iota + 1
	Disconnected
)

func (t ConnectionEventType) String() string {
	switch t {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type MessageEventType int8

const (
	MessageReceived MessageEventType = iota + 1
	MessageSent
)

func (t MessageEventType) String() string {
	switch t {
	case MessageReceived:
		return "received"
	case MessageSent:
		return "sent"
	default:
		return "unknown"
	}
}

type ConnectionEvent struct {
	Connection *Connection
	Type       ConnectionEventType
	Timestamp  time.Time
}

// MessageEvent is raised for every complete inbound message and for every
// successful send. Packet is set when the payload decodes as a Packet.
type MessageEvent struct {
	Connection  *Connection
	Type        MessageEventType
	MessageType int
	Data        []byte
	Message     string
	Packet      *Packet
	Timestamp   time.Time
}

// ErrorEvent reports a send, receive or lifecycle failure. Connection is nil
// when the failure is not tied to a connection.
type ErrorEvent struct {
	Connection *Connection
	Kind       ErrorKind
	Message    string
	Err        error
	Timestamp  time.Time
}

func newMessageEvent(conn *Connection, eventType MessageEventType, messageType int, data []byte) MessageEvent {
	event := MessageEvent{
		Connection:  conn,
		Type:        eventType,
		MessageType: messageType,
		Data:        data,
		Message:     string(data),
		Timestamp:   time.Now(),
	}
	if packet, ok := DecodePacket(data); ok {
		event.Packet = &packet
	}
	return event
}

func newErrorEvent(conn *Connection, err *ConnectionError) ErrorEvent {
	return ErrorEvent{
		Connection: conn,
		Kind:       err.Kind,
		Message:    err.Error(),
		Err:        err,
		Timestamp:  time.Now(),
	}
}
