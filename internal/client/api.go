package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/chatty/internal/model"
)

// Credentials is the identity returned by the anonymous login endpoint.
type Credentials struct {
	Token string            `json:"token"`
	User  model.UserDetails `json:"user"`
}

// API is the REST client for the chat server. It backs the sync
// engine's history fetches and the send pipeline's writes.
type API struct {
	http  *resty.Client
	token string
}

// NewAPI creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewAPI(baseURL string) *API {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &API{http: c}
}

// SetToken installs the bearer token used on every subsequent request.
func (a *API) SetToken(token string) {
	a.token = token
	a.http.SetAuthToken(token)
}

// Token returns the currently installed bearer token.
func (a *API) Token() string {
	return a.token
}

// Login exchanges an optional previous token for a working identity.
// With no token, or an expired one, the server mints a fresh anonymous
// user.
func (a *API) Login(ctx context.Context, previousToken string) (Credentials, error) {
	var creds Credentials
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"token": previousToken}).
		SetResult(&creds).
		Post("/api/anonymous-login")
	if err != nil {
		return Credentials{}, fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		return Credentials{}, fmt.Errorf("login: server returned %s", resp.Status())
	}
	a.SetToken(creds.Token)
	return creds, nil
}

// RecentConversations is the cold-start bulk load.
func (a *API) RecentConversations(ctx context.Context) ([]model.ConversationBatch, error) {
	var batches []model.ConversationBatch
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&batches).
		Get("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch conversations: server returned %s", resp.Status())
	}
	return batches, nil
}

// ConversationsAfter fetches messages sent strictly after the cursor.
func (a *API) ConversationsAfter(ctx context.Context, after time.Time) ([]model.ConversationBatch, error) {
	var batches []model.ConversationBatch
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("timestamp", after.Format(time.RFC3339Nano)).
		SetResult(&batches).
		Get("/api/chat/offline")
	if err != nil {
		return nil, fmt.Errorf("fetch offline messages: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch offline messages: server returned %s", resp.Status())
	}
	return batches, nil
}

// AIThread lists the AI tutor thread, newest-first.
func (a *API) AIThread(ctx context.Context) ([]model.AIMessage, error) {
	var thread []model.AIMessage
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&thread).
		Get("/api/chat/ai")
	if err != nil {
		return nil, fmt.Errorf("fetch ai thread: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch ai thread: server returned %s", resp.Status())
	}
	return thread, nil
}

// SendMessage posts a message to a peer and returns the stored record.
func (a *API) SendMessage(ctx context.Context, recipientID, body string) (model.Message, error) {
	var msg model.Message
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"recipientId": recipientID, "body": body}).
		SetResult(&msg).
		Post("/api/chat")
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return model.Message{}, fmt.Errorf("send message: server returned %s", resp.Status())
	}
	return msg, nil
}

// SearchUsers finds peers by username or display name.
func (a *API) SearchUsers(ctx context.Context, query string) ([]model.UserDetails, error) {
	var users []model.UserDetails
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&users).
		Get("/api/users")
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search users: server returned %s", resp.Status())
	}
	return users, nil
}

// Ask relays a prompt to the AI tutor. Reply chunks stream through
// onChunk as the model produces them; the returned message is the
// stored reply.
func (a *API) Ask(ctx context.Context, prompt string, onChunk func(string)) (model.AIMessage, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"message": prompt}).
		SetDoNotParseResponse(true).
		Post("/api/chat/ai")
	if err != nil {
		return model.AIMessage{}, fmt.Errorf("ask tutor: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()
	if resp.StatusCode() != http.StatusOK {
		return model.AIMessage{}, fmt.Errorf("ask tutor: server returned %s", resp.Status())
	}

	reply, err := readTutorStream(raw, onChunk)
	if err != nil {
		return model.AIMessage{}, fmt.Errorf("ask tutor: %w", err)
	}
	return reply, nil
}

// readTutorStream consumes the server-sent event stream of the tutor
// endpoint. Unnamed events carry a JSON-encoded text chunk; the final
// "done" event carries the stored reply record. An "error" event ends
// the stream with the server's message, never reaching onChunk.
func readTutorStream(r io.Reader, onChunk func(string)) (model.AIMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "done":
				var reply model.AIMessage
				if err := json.Unmarshal([]byte(data), &reply); err != nil {
					return model.AIMessage{}, fmt.Errorf("decode reply: %w", err)
				}
				return reply, nil
			case "error":
				var msg string
				if err := json.Unmarshal([]byte(data), &msg); err != nil {
					msg = data
				}
				return model.AIMessage{}, fmt.Errorf("server reported: %s", msg)
			default:
				var chunk string
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					return model.AIMessage{}, fmt.Errorf("decode chunk: %w", err)
				}
				if onChunk != nil {
					onChunk(chunk)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return model.AIMessage{}, err
	}
	return model.AIMessage{}, fmt.Errorf("stream ended without a stored reply")
}
