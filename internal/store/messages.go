package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatty/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MessageStore is the append-only message gateway: one best-effort
// write, plus the two grouped history queries the sync protocol needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg model.Message) error
	// RecentsGrouped is the cold-start bulk load: the most recent
	// conversations of a user, grouped by counterpart, each capped at
	// perPeer messages newest-first.
	RecentsGrouped(ctx context.Context, userID string, perPeer, maxConversations int) ([]model.ConversationBatch, error)
	// GroupedAfter is the catch-up query: same shape, restricted to
	// messages sent strictly after the cursor.
	GroupedAfter(ctx context.Context, userID string, after time.Time, perPeer int) ([]model.ConversationBatch, error)
}

type messageStore struct {
	col   *mongo.Collection
	users *mongo.Collection
}

// NewMessageStore creates the MongoDB-backed message gateway.
func NewMessageStore(db *mongo.Database) MessageStore {
	return &messageStore{
		col:   db.Collection(messagesCollection),
		users: db.Collection(usersCollection),
	}
}

func (s *messageStore) SaveMessage(ctx context.Context, msg model.Message) error {
	if _, err := s.col.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *messageStore) RecentsGrouped(ctx context.Context, userID string, perPeer, maxConversations int) ([]model.ConversationBatch, error) {
	return s.grouped(ctx, userID, nil, perPeer, maxConversations)
}

func (s *messageStore) GroupedAfter(ctx context.Context, userID string, after time.Time, perPeer int) ([]model.ConversationBatch, error) {
	return s.grouped(ctx, userID, bson.M{"$gt": after}, perPeer, 0)
}

// groupedRow is the aggregation output shape before counterpart
// details are backfilled.
type groupedRow struct {
	OtherUserID string            `bson:"otherUserId"`
	Counterpart model.UserDetails `bson:"counterpart"`
	Messages    []model.Message   `bson:"messages"`
}

// grouped runs the conversation aggregation: every message touching
// the user, newest first, grouped by the other party, joined with that
// party's display details. sentAtFilter narrows to a catch-up window;
// maxConversations > 0 caps the number of groups (bulk load only).
func (s *messageStore) grouped(ctx context.Context, userID string, sentAtFilter bson.M, perPeer, maxConversations int) ([]model.ConversationBatch, error) {
	match := bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"recipientId": userID},
	}}
	if sentAtFilter != nil {
		match["sentAt"] = sentAtFilter
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "sentAt", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.M{
				"if":   bson.M{"$eq": bson.A{"$senderId", userID}},
				"then": "$recipientId",
				"else": "$senderId",
			}},
			"messages": bson.M{"$push": "$$ROOT"},
		}}},
		{{Key: "$project", Value: bson.M{
			"_id":         0,
			"otherUserId": "$_id",
			"messages":    bson.M{"$slice": bson.A{"$messages", perPeer}},
		}}},
		{{Key: "$addFields", Value: bson.M{
			"latestAt": bson.M{"$first": "$messages.sentAt"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "latestAt", Value: -1}}}},
	}
	if maxConversations > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: maxConversations}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         usersCollection,
			"localField":   "otherUserId",
			"foreignField": "_id",
			"as":           "counterpart",
		}}},
		bson.D{{Key: "$addFields", Value: bson.M{
			"counterpart": bson.M{"$first": "$counterpart"},
		}}},
	)

	cursor, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var rows []groupedRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	out := make([]model.ConversationBatch, 0, len(rows))
	for _, row := range rows {
		counterpart := row.Counterpart
		if counterpart.ID == "" {
			// Counterpart account is gone; keep the id so the
			// timeline still has a stable key.
			counterpart.ID = row.OtherUserID
		}
		out = append(out, model.ConversationBatch{
			Counterpart: counterpart,
			Messages:    row.Messages,
		})
	}
	return out, nil
}
