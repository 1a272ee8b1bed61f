package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatty/internal/model"
	"go.uber.org/zap"
)

// ErrUsernameTaken is returned by a UserDirectory when the unique
// username index rejects a create.
var ErrUsernameTaken = errors.New("username already taken")

// UserDirectory is the slice of the user store the bootstrap needs.
type UserDirectory interface {
	CreateUser(ctx context.Context, user model.UserDetails) error
	FindByID(ctx context.Context, id string) (model.UserDetails, error)
}

// Bootstrap implements the anonymous login flow: a valid presented
// token keeps its identity; anything else gets a fresh generated
// account and a new token.
type Bootstrap struct {
	users  UserDirectory
	tokens *TokenService
	logger *zap.Logger

	// rand is not safe for concurrent use; logins may race.
	randMu sync.Mutex
	rand   *rand.Rand
}

// NewBootstrap creates the anonymous login service.
func NewBootstrap(users UserDirectory, tokens *TokenService, logger *zap.Logger) *Bootstrap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrap{
		users:  users,
		tokens: tokens,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// Login resolves the presented token to an identity, creating an
// anonymous account when the token is missing or invalid. Returns the
// identity and a token for it (the presented one if still valid).
func (b *Bootstrap) Login(ctx context.Context, presented string) (model.UserDetails, string, error) {
	if presented != "" {
		if claims, err := b.tokens.Verify(presented); err == nil {
			user, err := b.users.FindByID(ctx, claims.UserID)
			if err == nil {
				return user, presented, nil
			}
			// Token outlived the account; fall through to a new one.
			b.logger.Warn("token references unknown user", zap.String("user_id", claims.UserID))
		}
	}

	user, err := b.createAnonymous(ctx)
	if err != nil {
		return model.UserDetails{}, "", err
	}

	token, err := b.tokens.Issue(user)
	if err != nil {
		return model.UserDetails{}, "", err
	}
	b.logger.Info("anonymous account created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, token, nil
}

func (b *Bootstrap) createAnonymous(ctx context.Context) (model.UserDetails, error) {
	// The unique username index arbitrates collisions.
	for attempt := 0; attempt < 5; attempt++ {
		b.randMu.Lock()
		username := GenerateUsername(b.rand)
		b.randMu.Unlock()
		user := model.UserDetails{
			ID:          uuid.NewString(),
			Username:    username,
			DisplayName: DisplayNameFor(username),
		}
		err := b.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUsernameTaken) {
			return model.UserDetails{}, fmt.Errorf("create anonymous user: %w", err)
		}
	}
	return model.UserDetails{}, errors.New("could not find a free username")
}
