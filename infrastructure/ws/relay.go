package ws

import "context"

// RelayMessage is a broadcast forwarded between server nodes.
type RelayMessage struct {
	FromServerId string `json:"fromServerId"`
	MessageType  int    `json:"messageType"`
	Payload      []byte `json:"payload"`
}

// Relay connects server nodes so a broadcast on one node reaches the
// connections held by the others, and records which node holds a connection.
type Relay interface {
	ServerId() string
	Publish(ctx context.Context, msg RelayMessage) error
	// Subscribe starts delivering messages published by other nodes to handler.
	Subscribe(ctx context.Context, handler func(RelayMessage)) error
	Announce(ctx context.Context, connectionId string) error
	Forget(ctx context.Context, connectionId string) error
	// Locate returns the id of the node holding connectionId.
	Locate(ctx context.Context, connectionId string) (string, bool, error)
	Close() error
}
