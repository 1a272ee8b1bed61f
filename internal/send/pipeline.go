package send

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/model"
	syncengine "github.com/matheus3301/chatty/internal/sync"
	"go.uber.org/zap"
)

var (
	// ErrEmptyBody rejects a send whose body is empty after trimming,
	// before any network call.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBadRecipient rejects a send to oneself or to a blank target.
	ErrBadRecipient = errors.New("invalid recipient")
	// ErrUnknownSend is returned by Retry/Discard for an id the
	// pipeline is not tracking.
	ErrUnknownSend = errors.New("unknown client message id")
)

// Writer persists a message through the REST surface. The server-side
// write also triggers delivery to the recipient's channel if online.
type Writer interface {
	SendMessage(ctx context.Context, recipientID, body string) (model.Message, error)
}

// Tutor relays a prompt to the AI tutor, streaming chunks as they
// arrive and returning the stored reply.
type Tutor interface {
	Ask(ctx context.Context, prompt string, onChunk func(string)) (model.AIMessage, error)
}

type pendingSend struct {
	recipient model.UserDetails
	body      string
}

// Pipeline is the optimistic send flow: validate, project locally,
// persist, then reconcile the projection with the server echo. A
// failed write stays visible as failed until retried or discarded,
// never a silent permanent optimistic entry.
type Pipeline struct {
	engine *syncengine.Engine
	writer Writer
	tutor  Tutor
	bus    *bus.Bus
	logger *zap.Logger
	self   model.UserDetails

	mu      sync.Mutex
	pending map[string]pendingSend
}

// NewPipeline creates a pipeline sending on behalf of self.
func NewPipeline(engine *syncengine.Engine, writer Writer, tutor Tutor, b *bus.Bus, self model.UserDetails, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:  engine,
		writer:  writer,
		tutor:   tutor,
		bus:     b,
		logger:  logger,
		self:    self,
		pending: make(map[string]pendingSend),
	}
}

// Send validates and sends a message to a peer. It returns the client
// message id of the optimistic entry; on error the entry is flagged
// failed (validation errors produce no entry at all).
func (p *Pipeline) Send(ctx context.Context, recipient model.UserDetails, body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if recipient.ID == "" || recipient.ID == p.self.ID {
		return "", ErrBadRecipient
	}
	if recipient.ID == model.AITarget {
		return p.sendTutor(ctx, body)
	}

	clientID := uuid.NewString()
	p.mu.Lock()
	p.pending[clientID] = pendingSend{recipient: recipient, body: body}
	p.mu.Unlock()

	p.engine.ProjectLocal(recipient, model.Message{
		ID:          clientID,
		SenderID:    p.self.ID,
		RecipientID: recipient.ID,
		Body:        body,
		SentAt:      time.Now(),
		Status:      model.StatusSending,
	})

	return clientID, p.write(ctx, clientID, recipient, body)
}

// Retry re-attempts a failed send, reusing its optimistic entry.
func (p *Pipeline) Retry(ctx context.Context, clientID string) error {
	p.mu.Lock()
	entry, ok := p.pending[clientID]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownSend
	}
	p.engine.MarkSending(entry.recipient.ID, clientID)
	return p.write(ctx, clientID, entry.recipient, entry.body)
}

// Discard rolls a failed optimistic entry back.
func (p *Pipeline) Discard(clientID string) error {
	p.mu.Lock()
	entry, ok := p.pending[clientID]
	delete(p.pending, clientID)
	p.mu.Unlock()
	if !ok {
		return ErrUnknownSend
	}
	p.engine.DiscardSend(entry.recipient.ID, clientID)
	return nil
}

func (p *Pipeline) write(ctx context.Context, clientID string, recipient model.UserDetails, body string) error {
	echo, err := p.writer.SendMessage(ctx, recipient.ID, body)
	if err != nil {
		p.logger.Error("send failed", zap.Error(err), zap.String("client_msg_id", clientID))
		p.engine.MarkSendFailed(recipient.ID, clientID)
		p.publish("send.failed", clientID)
		return fmt.Errorf("persist message: %w", err)
	}

	p.mu.Lock()
	delete(p.pending, clientID)
	p.mu.Unlock()

	p.engine.ConfirmSend(recipient.ID, clientID, echo)
	p.publish("send.ack", clientID)
	return nil
}

// sendTutor appends the user turn optimistically, relays the prompt,
// and appends the model reply. A failed relay rolls the user turn back.
func (p *Pipeline) sendTutor(ctx context.Context, prompt string) (string, error) {
	if p.tutor == nil {
		return "", ErrBadRecipient
	}

	clientID := uuid.NewString()
	p.engine.AppendAI(model.AIMessage{
		ID:     clientID,
		Body:   prompt,
		SentAt: time.Now(),
	})

	reply, err := p.tutor.Ask(ctx, prompt, func(chunk string) {
		p.publish("send.ai_chunk", chunk)
	})
	if err != nil {
		p.engine.RemoveAI(clientID)
		p.publish("send.failed", clientID)
		return clientID, fmt.Errorf("tutor relay: %w", err)
	}

	p.engine.AppendAI(reply)
	p.publish("send.ack", clientID)
	return clientID, nil
}

func (p *Pipeline) publish(kind string, payload any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
