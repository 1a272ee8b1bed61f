package store

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatty/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AIMessageStore holds the per-user AI tutor thread.
type AIMessageStore interface {
	SaveAIMessage(ctx context.Context, msg model.AIMessage) error
	// ListAIMessages returns the user's latest turns, newest first.
	ListAIMessages(ctx context.Context, userID string, limit int) ([]model.AIMessage, error)
}

type aiMessageStore struct {
	col *mongo.Collection
}

// NewAIMessageStore creates the MongoDB-backed AI thread store.
func NewAIMessageStore(db *mongo.Database) AIMessageStore {
	return &aiMessageStore{col: db.Collection(aiMessagesCollection)}
}

func (s *aiMessageStore) SaveAIMessage(ctx context.Context, msg model.AIMessage) error {
	if _, err := s.col.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert ai message: %w", err)
	}
	return nil
}

func (s *aiMessageStore) ListAIMessages(ctx context.Context, userID string, limit int) ([]model.AIMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sentAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find ai messages: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var msgs []model.AIMessage
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode ai messages: %w", err)
	}
	return msgs, nil
}
