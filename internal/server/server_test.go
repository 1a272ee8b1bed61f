package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatty/internal/auth"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/registry"
	"github.com/matheus3301/chatty/internal/store"
	"go.uber.org/zap"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]model.UserDetails
}

func newMemUserStore(users ...model.UserDetails) *memUserStore {
	s := &memUserStore{users: make(map[string]model.UserDetails)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) CreateUser(_ context.Context, user model.UserDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return auth.ErrUsernameTaken
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *memUserStore) FindByID(_ context.Context, id string) (model.UserDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.UserDetails{}, store.ErrUserNotFound
	}
	return u, nil
}

func (s *memUserStore) Search(_ context.Context, query, excludeID string) ([]model.UserDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UserDetails
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(u.Username, query) || strings.Contains(u.DisplayName, query) {
			out = append(out, u)
		}
	}
	return out, nil
}

type memMessageStore struct {
	mu       sync.Mutex
	messages []model.Message
}

func (s *memMessageStore) SaveMessage(_ context.Context, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memMessageStore) RecentsGrouped(_ context.Context, userID string, perPeer, maxConversations int) ([]model.ConversationBatch, error) {
	return s.grouped(userID, time.Time{}), nil
}

func (s *memMessageStore) GroupedAfter(_ context.Context, userID string, after time.Time, perPeer int) ([]model.ConversationBatch, error) {
	return s.grouped(userID, after), nil
}

func (s *memMessageStore) grouped(userID string, after time.Time) []model.ConversationBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPeer := make(map[string][]model.Message)
	for _, m := range s.messages {
		if m.SenderID != userID && m.RecipientID != userID {
			continue
		}
		if !after.IsZero() && !m.SentAt.After(after) {
			continue
		}
		peer := m.SenderID
		if peer == userID {
			peer = m.RecipientID
		}
		byPeer[peer] = append(byPeer[peer], m)
	}
	var out []model.ConversationBatch
	for peer, msgs := range byPeer {
		out = append(out, model.ConversationBatch{
			Counterpart: model.UserDetails{ID: peer},
			Messages:    msgs,
		})
	}
	return out
}

type memAIStore struct {
	mu       sync.Mutex
	messages []model.AIMessage
}

func (s *memAIStore) SaveAIMessage(_ context.Context, msg model.AIMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memAIStore) ListAIMessages(_ context.Context, userID string, limit int) ([]model.AIMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AIMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].UserID == userID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

type fakeCompleter struct {
	chunks []string
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, onChunk func(string) error) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return "", err
		}
		full.WriteString(c)
	}
	return full.String(), nil
}

type queueHandle struct {
	mu   sync.Mutex
	envs []model.Envelope
}

func (h *queueHandle) Enqueue(env model.Envelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envs = append(h.envs, env)
	return true
}

func (h *queueHandle) all() []model.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.Envelope(nil), h.envs...)
}

type fixture struct {
	srv      *httptest.Server
	users    *memUserStore
	messages *memMessageStore
	ai       *memAIStore
	registry *registry.Registry
	tokens   *auth.TokenService
}

var (
	alice = model.UserDetails{ID: "u-alice", Username: "calm_owl", DisplayName: "Calm Owl"}
	bob   = model.UserDetails{ID: "u-bob", Username: "brave_fox", DisplayName: "Brave Fox"}
)

func newFixture(t *testing.T, completer *fakeCompleter) *fixture {
	t.Helper()
	logger := zap.NewNop()
	users := newMemUserStore(alice, bob)
	messages := &memMessageStore{}
	ai := &memAIStore{}
	reg := registry.New(logger)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	bootstrap := auth.NewBootstrap(users, tokens, logger)
	chat := NewChatService(messages, users, reg, logger)
	if completer == nil {
		completer = &fakeCompleter{chunks: []string{"ok"}}
	}
	handlers := NewHandlers(bootstrap, chat, users, ai, completer, "phi-4", logger)
	srv := NewServer(":0", handlers, tokens, reg, logger)

	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, users: users, messages: messages, ai: ai, registry: reg, tokens: tokens}
}

func (f *fixture) tokenFor(t *testing.T, u model.UserDetails) string {
	t.Helper()
	tok, err := f.tokens.Issue(u)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLoginMintsAnonymousIdentity(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/anonymous-login", "", map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User.Username == "" || !strings.Contains(out.User.Username, "_") {
		t.Errorf("generated username = %q", out.User.Username)
	}
	claims, err := f.tokens.Verify(out.Token)
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if claims.UserID != out.User.ID {
		t.Errorf("claims.UserID = %q, want %q", claims.UserID, out.User.ID)
	}
}

func TestLoginKeepsValidIdentity(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.tokenFor(t, alice)

	resp := f.request(t, http.MethodPost, "/api/anonymous-login", "", map[string]string{"token": tok})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.User.ID != alice.ID {
		t.Errorf("user = %q, want existing account %q", out.User.ID, alice.ID)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)

	for _, token := range []string{"", "not-a-token"} {
		resp := f.request(t, http.MethodGet, "/api/chat", token, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}

	// The websocket handshake carries the token as a query parameter.
	resp := f.request(t, http.MethodGet, "/api/chat?token="+f.tokenFor(t, alice), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", resp.StatusCode)
	}
}

func TestSendStoresAndDelivers(t *testing.T) {
	f := newFixture(t, nil)

	recipientConn := &queueHandle{}
	senderConn := &queueHandle{}
	f.registry.Register(bob.ID, recipientConn)
	f.registry.Register(alice.ID, senderConn)

	resp := f.request(t, http.MethodPost, "/api/chat", f.tokenFor(t, alice),
		map[string]string{"recipientId": bob.ID, "body": "hello bob"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msg model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" || msg.SenderID != alice.ID || msg.RecipientID != bob.ID {
		t.Errorf("stored message = %+v", msg)
	}

	got := recipientConn.all()
	if len(got) != 1 || got[0].Direction != model.DirectionReceive {
		t.Fatalf("recipient envelopes = %+v", got)
	}
	if got[0].SenderUsername != alice.Username || got[0].RecipientUsername != bob.Username {
		t.Errorf("envelope names = %+v", got[0])
	}

	echo := senderConn.all()
	if len(echo) != 1 || echo[0].Direction != model.DirectionSend {
		t.Fatalf("sender echo envelopes = %+v", echo)
	}
	if echo[0].ID != got[0].ID {
		t.Errorf("echo id %q != recipient id %q", echo[0].ID, got[0].ID)
	}
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.tokenFor(t, alice)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty body", map[string]string{"recipientId": bob.ID, "body": "   "}, http.StatusBadRequest},
		{"self message", map[string]string{"recipientId": alice.ID, "body": "hi"}, http.StatusBadRequest},
		{"unknown recipient", map[string]string{"recipientId": "ghost", "body": "hi"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp := f.request(t, http.MethodPost, "/api/chat", tok, tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
	if len(f.messages.messages) != 0 {
		t.Errorf("rejected sends were stored: %+v", f.messages.messages)
	}
}

func TestOfflineRequiresTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.tokenFor(t, alice)

	resp := f.request(t, http.MethodGet, "/api/chat/offline?timestamp=yesterday", tok, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	cursor := time.Now().UTC().Format(time.RFC3339Nano)
	resp = f.request(t, http.MethodGet, "/api/chat/offline?timestamp="+cursor, tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAskStreamsAndPersists(t *testing.T) {
	f := newFixture(t, &fakeCompleter{chunks: []string{"two plus ", "two is four"}})
	tok := f.tokenFor(t, alice)

	resp := f.request(t, http.MethodPost, "/api/chat/ai", tok, map[string]string{"message": "what is 2+2?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	var (
		chunks []string
		done   model.AIMessage
		event  string
	)
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "done" {
				if err := json.Unmarshal([]byte(data), &done); err != nil {
					t.Fatalf("decode done: %v", err)
				}
				continue
			}
			var c string
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				t.Fatalf("decode chunk: %v", err)
			}
			chunks = append(chunks, c)
		}
	}
	if strings.Join(chunks, "") != "two plus two is four" {
		t.Errorf("chunks = %q", chunks)
	}
	if done.Body != "two plus two is four" || done.ModelName == nil || *done.ModelName != "phi-4" {
		t.Errorf("done = %+v", done)
	}

	thread, _ := f.ai.ListAIMessages(context.Background(), alice.ID, 10)
	if len(thread) != 2 {
		t.Fatalf("stored turns = %d, want 2", len(thread))
	}
	// Newest first: the reply, then the prompt.
	if thread[0].ModelName == nil || thread[1].ModelName != nil {
		t.Errorf("turn order wrong: %+v", thread)
	}
}

func TestWebsocketChannel(t *testing.T) {
	f := newFixture(t, nil)
	tok := f.tokenFor(t, alice)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is synchronous within the handler before the read
	// loop; give the goroutine a moment to get there.
	deadline := time.Now().Add(2 * time.Second)
	for !f.registry.Online(alice.ID) {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env := model.Envelope{
		Direction:   model.DirectionReceive,
		ID:          "m1",
		Body:        "hi",
		SenderID:    bob.ID,
		RecipientID: alice.ID,
		SentAt:      time.Now().UTC(),
	}
	if reached := f.registry.Deliver(alice.ID, env); reached != 1 {
		t.Fatalf("reached = %d, want 1", reached)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != "m1" || got.Direction != model.DirectionReceive {
		t.Errorf("envelope = %+v", got)
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	f := newFixture(t, nil)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v", resp)
	}
}
