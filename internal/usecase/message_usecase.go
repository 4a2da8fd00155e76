package usecase

import (
	"context"
	"errors"
	"time"
	"wssimple/internal/entity"
	"wssimple/internal/repository"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

var ErrMissingConnectionId = errors.New("connection id is required")

type MessageUsecase interface {
	Record(ctx context.Context, message entity.Message) (string, error)
	History(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	Purge(ctx context.Context, connectionId string) (int64, error)
}

type messageUsecase struct {
	MessageRepo repository.MessageRepository
}

func NewMessageUseCase(messageRepository repository.MessageRepository) MessageUsecase {
	return &messageUsecase{
		MessageRepo: messageRepository,
	}
}

func (m *messageUsecase) Record(ctx context.Context, message entity.Message) (string, error) {
	if message.ConnectionId == "" {
		return "", ErrMissingConnectionId
	}
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	return m.MessageRepo.Create(ctx, message)
}

// History lists logged messages newest first.
func (m *messageUsecase) History(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return m.MessageRepo.Index(ctx, filter)
}

// Purge deletes the logged messages of one connection and reports how many
// were removed.
func (m *messageUsecase) Purge(ctx context.Context, connectionId string) (int64, error) {
	if connectionId == "" {
		return 0, ErrMissingConnectionId
	}
	return m.MessageRepo.DeleteByConnectionId(ctx, connectionId)
}
