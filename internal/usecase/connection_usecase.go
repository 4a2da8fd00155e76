package usecase

import (
	"context"
	"errors"
	"fmt"
	"wssimple/infrastructure/ws"
	"wssimple/internal/entity"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionRemote   = errors.New("connection is held by another server")
	ErrSendFailed         = errors.New("message could not be delivered")
	ErrEmptyMessage       = errors.New("message is required")
)

type ConnectionUsecase interface {
	List(ctx context.Context) []entity.Connection
	Get(ctx context.Context, id string) (entity.Connection, error)
	ListByUser(ctx context.Context, userId string) []entity.Connection
	Send(ctx context.Context, id string, req entity.SendRequest) error
	Broadcast(ctx context.Context, req entity.SendRequest) (int, error)
	Disconnect(ctx context.Context, id string) error
}

type connectionUsecase struct {
	server ws.IServer
	// relay is nil on a single-node deployment.
	relay ws.Relay
}

func NewConnectionUsecase(server ws.IServer, relay ws.Relay) ConnectionUsecase {
	return &connectionUsecase{
		server: server,
		relay:  relay,
	}
}

func (u *connectionUsecase) List(ctx context.Context) []entity.Connection {
	return u.toEntities(u.server.Connections())
}

// Get returns a local connection, or, with a relay configured, the node a
// remote connection lives on.
func (u *connectionUsecase) Get(ctx context.Context, id string) (entity.Connection, error) {
	if conn, ok := u.server.ConnectionManager().Lookup(id); ok {
		return u.toEntity(conn), nil
	}
	if u.relay == nil {
		return entity.Connection{}, ErrConnectionNotFound
	}

	serverId, found, err := u.relay.Locate(ctx, id)
	if err != nil {
		return entity.Connection{}, fmt.Errorf("locate connection: %w", err)
	}
	if !found {
		return entity.Connection{}, ErrConnectionNotFound
	}
	return entity.Connection{
		Id:       id,
		ServerId: serverId,
		Local:    false,
	}, nil
}

func (u *connectionUsecase) ListByUser(ctx context.Context, userId string) []entity.Connection {
	return u.toEntities(u.server.ConnectionManager().ByUser(userId))
}

func (u *connectionUsecase) Send(ctx context.Context, id string, req entity.SendRequest) error {
	if req.Message == "" {
		return ErrEmptyMessage
	}
	conn, err := u.local(ctx, id)
	if err != nil {
		return err
	}

	var ok bool
	if req.Raw {
		ok, err = u.server.SendToConnectionRaw(ctx, req.Message, conn)
	} else {
		ok, err = u.server.SendMessageToConnection(ctx, req.Message, conn)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrSendFailed
	}
	return nil
}

func (u *connectionUsecase) Broadcast(ctx context.Context, req entity.SendRequest) (int, error) {
	if req.Message == "" {
		return 0, ErrEmptyMessage
	}
	if req.Raw {
		return u.server.BroadcastRaw(ctx, req.Message), nil
	}
	return u.server.Broadcast(ctx, ws.NewPacket(req.Message))
}

func (u *connectionUsecase) Disconnect(ctx context.Context, id string) error {
	conn, err := u.local(ctx, id)
	if err != nil {
		return err
	}
	return u.server.DisconnectConnection(ctx, conn)
}

func (u *connectionUsecase) local(ctx context.Context, id string) (*ws.Connection, error) {
	if conn, ok := u.server.ConnectionManager().Lookup(id); ok {
		return conn, nil
	}
	if u.relay != nil {
		if _, found, err := u.relay.Locate(ctx, id); err == nil && found {
			return nil, ErrConnectionRemote
		}
	}
	return nil, ErrConnectionNotFound
}

func (u *connectionUsecase) toEntities(conns []*ws.Connection) []entity.Connection {
	result := make([]entity.Connection, 0, len(conns))
	for _, conn := range conns {
		result = append(result, u.toEntity(conn))
	}
	return result
}

func (u *connectionUsecase) toEntity(conn *ws.Connection) entity.Connection {
	c := entity.Connection{
		Id:          conn.Id(),
		UserId:      conn.UserId(),
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: conn.ConnectedAt(),
		Local:       true,
	}
	if u.relay != nil {
		c.ServerId = u.relay.ServerId()
	}
	return c
}
