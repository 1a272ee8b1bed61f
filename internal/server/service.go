package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/registry"
	"github.com/matheus3301/chatty/internal/store"
	"go.uber.org/zap"
)

// History and thread caps. A client that needs more scrolls back
// through a dedicated pagination endpoint, not the sync fetches.
const (
	perPeerLimit     = 100
	conversationsCap = 100
	aiThreadLimit    = 100
)

var (
	ErrEmptyBody         = errors.New("message body is empty")
	ErrSelfMessage       = errors.New("cannot message yourself")
	ErrRecipientNotFound = errors.New("recipient not found")
)

// ChatService persists messages and pushes them onto open channels.
type ChatService struct {
	messages store.MessageStore
	users    store.UserStore
	registry *registry.Registry
	logger   *zap.Logger
}

func NewChatService(messages store.MessageStore, users store.UserStore, reg *registry.Registry, logger *zap.Logger) *ChatService {
	return &ChatService{messages: messages, users: users, registry: reg, logger: logger}
}

// Send stores a message and delivers push envelopes: a "receive" copy
// to every connection of the recipient and a "send" echo to every
// connection of the sender, so the sender's other devices stay in
// step. Offline parties get nothing; they catch up on reconnect.
func (s *ChatService) Send(ctx context.Context, senderID, recipientID, body string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Message{}, ErrEmptyBody
	}
	if recipientID == senderID {
		return model.Message{}, ErrSelfMessage
	}

	sender, err := s.users.FindByID(ctx, senderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("resolve sender: %w", err)
	}
	recipient, err := s.users.FindByID(ctx, recipientID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return model.Message{}, ErrRecipientNotFound
		}
		return model.Message{}, fmt.Errorf("resolve recipient: %w", err)
	}

	msg := model.Message{
		ID:          uuid.NewString(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Body:        body,
		SentAt:      time.Now().UTC(),
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return model.Message{}, fmt.Errorf("store message: %w", err)
	}

	env := model.Envelope{
		ID:                   msg.ID,
		Body:                 msg.Body,
		SenderID:             sender.ID,
		SenderDisplayName:    sender.DisplayName,
		SenderUsername:       sender.Username,
		RecipientID:          recipient.ID,
		RecipientDisplayName: recipient.DisplayName,
		RecipientUsername:    recipient.Username,
		SentAt:               msg.SentAt,
	}

	toRecipient := env
	toRecipient.Direction = model.DirectionReceive
	echo := env
	echo.Direction = model.DirectionSend

	reached := s.registry.Deliver(recipient.ID, toRecipient)
	s.registry.Deliver(sender.ID, echo)
	s.logger.Debug("message delivered",
		zap.String("msg_id", msg.ID),
		zap.String("recipient", recipient.ID),
		zap.Int("connections_reached", reached))

	return msg, nil
}

// Recents is the cold-start bulk load for the given user.
func (s *ChatService) Recents(ctx context.Context, userID string) ([]model.ConversationBatch, error) {
	return s.messages.RecentsGrouped(ctx, userID, perPeerLimit, conversationsCap)
}

// After is the catch-up fetch for messages sent strictly after the
// client's cursor.
func (s *ChatService) After(ctx context.Context, userID string, after time.Time) ([]model.ConversationBatch, error) {
	return s.messages.GroupedAfter(ctx, userID, after, perPeerLimit)
}
