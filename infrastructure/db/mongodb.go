package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultMongoURI = "mongodb://localhost:27017"

var ErrDatabaseNameRequired = errors.New("db: database name required")

type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

type MongoStore struct {
	Client *mongo.Client
	DB     *mongo.Database
}

func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = defaultMongoURI
	}
	if cfg.Database == "" {
		return nil, ErrDatabaseNameRequired
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 100
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	clientOpts := options.Client().ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, err
	}

	return &MongoStore{
		Client: client,
		DB:     client.Database(cfg.Database),
	}, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.Client.Disconnect(disconnectCtx)
}

func (m *MongoStore) Ping(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return errors.New("db: mongo client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.Client.Ping(pingCtx, nil)
}
