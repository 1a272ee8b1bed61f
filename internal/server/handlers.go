package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/store"
	"github.com/matheus3301/chatty/internal/tutor"
	"go.uber.org/zap"
)

// Handlers holds the HTTP surface's dependencies.
type Handlers struct {
	bootstrap *auth.Bootstrap
	chat      *ChatService
	users     store.UserStore
	aiStore   store.AIMessageStore
	tutor     tutor.Completer
	modelName string
	logger    *zap.Logger
}

func NewHandlers(bootstrap *auth.Bootstrap, chat *ChatService, users store.UserStore, aiStore store.AIMessageStore, t tutor.Completer, modelName string, logger *zap.Logger) *Handlers {
	return &Handlers{
		bootstrap: bootstrap,
		chat:      chat,
		users:     users,
		aiStore:   aiStore,
		tutor:     t,
		modelName: modelName,
		logger:    logger,
	}
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Token string            `json:"token"`
	User  model.UserDetails `json:"user"`
}

// login mints or renews an anonymous identity. A valid presented token
// keeps its account; anything else gets a fresh generated user.
func (h *Handlers) login(c *gin.Context) {
	var req loginRequest
	// An empty body means a first visit; only reject malformed JSON.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	user, token, err := h.bootstrap.Login(c.Request.Context(), req.Token)
	if err != nil {
		h.logger.Error("anonymous login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, User: user})
}

// recents answers the cold-start bulk load.
func (h *Handlers) recents(c *gin.Context) {
	claims := claimsFrom(c)
	batches, err := h.chat.Recents(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("recents query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if batches == nil {
		batches = []model.ConversationBatch{}
	}
	c.JSON(http.StatusOK, batches)
}

// offline answers the catch-up fetch for a reconnecting client.
func (h *Handlers) offline(c *gin.Context) {
	claims := claimsFrom(c)
	raw := c.Query("timestamp")
	after, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad timestamp"})
		return
	}
	batches, err := h.chat.After(c.Request.Context(), claims.UserID, after)
	if err != nil {
		h.logger.Error("offline query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if batches == nil {
		batches = []model.ConversationBatch{}
	}
	c.JSON(http.StatusOK, batches)
}

type sendRequest struct {
	RecipientID string `json:"recipientId"`
	Body        string `json:"body"`
}

// send persists one message and pushes it to both parties' channels.
func (h *Handlers) send(c *gin.Context) {
	claims := claimsFrom(c)
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), claims.UserID, req.RecipientID, req.Body)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, msg)
	case errors.Is(err, ErrEmptyBody), errors.Is(err, ErrSelfMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrRecipientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send failed"})
	}
}

// searchUsers finds peers to start a conversation with.
func (h *Handlers) searchUsers(c *gin.Context) {
	claims := claimsFrom(c)
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusOK, []model.UserDetails{})
		return
	}
	users, err := h.users.Search(c.Request.Context(), query, claims.UserID)
	if err != nil {
		h.logger.Error("user search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if users == nil {
		users = []model.UserDetails{}
	}
	c.JSON(http.StatusOK, users)
}

// aiThread lists the user's tutor thread, newest-first.
func (h *Handlers) aiThread(c *gin.Context) {
	claims := claimsFrom(c)
	thread, err := h.aiStore.ListAIMessages(c.Request.Context(), claims.UserID, aiThreadLimit)
	if err != nil {
		h.logger.Error("ai thread query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "thread unavailable"})
		return
	}
	if thread == nil {
		thread = []model.AIMessage{}
	}
	c.JSON(http.StatusOK, thread)
}

type askRequest struct {
	Message string `json:"message"`
}

// ask relays a prompt to the tutor model, streaming the reply as
// server-sent events. Both the prompt and the reply are persisted so
// the thread survives reconnects.
func (h *Handlers) ask(c *gin.Context) {
	claims := claimsFrom(c)
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	prompt := strings.TrimSpace(req.Message)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	ctx := c.Request.Context()
	userTurn := model.AIMessage{
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		Body:   prompt,
		SentAt: time.Now().UTC(),
	}
	if err := h.aiStore.SaveAIMessage(ctx, userTurn); err != nil {
		h.logger.Error("storing prompt failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tutor unavailable"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	reply, err := h.tutor.Complete(ctx, prompt, func(chunk string) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		h.logger.Error("tutor completion failed", zap.Error(err))
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", "tutor unavailable")
		return
	}

	modelTurn := model.AIMessage{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		Body:      reply,
		ModelName: &h.modelName,
		SentAt:    time.Now().UTC(),
	}
	if err := h.aiStore.SaveAIMessage(ctx, modelTurn); err != nil {
		h.logger.Error("storing reply failed", zap.Error(err))
		fmt.Fprintf(w, "event: error\ndata: %q\n\n", "tutor unavailable")
		return
	}

	done, err := json.Marshal(modelTurn)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", done)
	if flusher != nil {
		flusher.Flush()
	}
}
