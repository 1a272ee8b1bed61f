package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrUserNotFound is returned for lookups of unknown user ids.
var ErrUserNotFound = errors.New("user not found")

// UserStore holds user identities. It satisfies auth.UserDirectory.
type UserStore interface {
	CreateUser(ctx context.Context, user model.UserDetails) error
	FindByID(ctx context.Context, id string) (model.UserDetails, error)
	// Search matches username or display name case-insensitively, or
	// the exact id, excluding the calling user.
	Search(ctx context.Context, query, excludeID string) ([]model.UserDetails, error)
}

type userStore struct {
	col *mongo.Collection
}

// NewUserStore creates the MongoDB-backed user directory.
func NewUserStore(db *mongo.Database) UserStore {
	return &userStore{col: db.Collection(usersCollection)}
}

func (s *userStore) CreateUser(ctx context.Context, user model.UserDetails) error {
	_, err := s.col.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return auth.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *userStore) FindByID(ctx context.Context, id string) (model.UserDetails, error) {
	var user model.UserDetails
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.UserDetails{}, ErrUserNotFound
	}
	if err != nil {
		return model.UserDetails{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *userStore) Search(ctx context.Context, query, excludeID string) ([]model.UserDetails, error) {
	pattern := primitive.Regex{Pattern: query, Options: "i"}
	filter := bson.M{
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"username": pattern},
				bson.M{"displayName": pattern},
				bson.M{"_id": query},
			}},
			bson.M{"_id": bson.M{"$ne": excludeID}},
		},
	}

	cursor, err := s.col.Find(ctx, filter, options.Find().SetLimit(20))
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var users []model.UserDetails
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}
