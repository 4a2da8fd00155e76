package repository

import (
	"context"
	"wssimple/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollection = "messages"

type MessageRepository interface {
	Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	Create(ctx context.Context, message entity.Message) (string, error)
	GetByConnectionId(ctx context.Context, connectionId string, limit, offset int) ([]entity.Message, error)
	DeleteByConnectionId(ctx context.Context, connectionId string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type messageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	bsonFilter := bson.M{}
	if filter.ConnectionId != "" {
		bsonFilter["connectionId"] = filter.ConnectionId
	}
	if filter.UserId != "" {
		bsonFilter["userId"] = filter.UserId
	}
	if filter.Direction != "" {
		bsonFilter["direction"] = filter.Direction
	}

	return r.find(ctx, bsonFilter, filter.Limit, filter.Offset)
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (string, error) {
	collection := r.db.Collection(messageCollection)
	message.Id = uuid.New().String()

	_, err := collection.InsertOne(ctx, message)
	if err != nil {
		return "", err
	}

	return message.Id, nil
}

func (r *messageRepository) GetByConnectionId(ctx context.Context, connectionId string, limit, offset int) ([]entity.Message, error) {
	return r.find(ctx, bson.M{"connectionId": connectionId}, limit, offset)
}

func (r *messageRepository) DeleteByConnectionId(ctx context.Context, connectionId string) (int64, error) {
	collection := r.db.Collection(messageCollection)
	result, err := collection.DeleteMany(ctx, bson.M{"connectionId": connectionId})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *messageRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(messageCollection)
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "connectionId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	return err
}

func (r *messageRepository) find(ctx context.Context, filter bson.M, limit, offset int) ([]entity.Message, error) {
	collection := r.db.Collection(messageCollection)

	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	opts.SetSort(bson.D{{Key: "timestamp", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	messages := make([]entity.Message, 0)
	err = cursor.All(ctx, &messages)
	if err != nil {
		return nil, err
	}

	return messages, nil
}
