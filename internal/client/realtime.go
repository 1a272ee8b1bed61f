package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/status"
	"go.uber.org/zap"
)

// Realtime maintains the private push channel. Each Run call performs
// one connection attempt and, on success, reads envelopes until the
// connection drops or the context is cancelled. Reconnection policy
// belongs to the caller.
type Realtime struct {
	baseURL string
	api     *API
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

func NewRealtime(baseURL string, api *API, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Realtime {
	return &Realtime{
		baseURL: baseURL,
		api:     api,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// wsURL derives the websocket endpoint from the server base URL,
// carrying the token as a query parameter for the handshake.
func (r *Realtime) wsURL() (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", r.api.Token())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run performs one connect-read-disconnect cycle. It returns nil when
// the context ended the session and an error when the connection was
// rejected or dropped.
func (r *Realtime) Run(ctx context.Context) error {
	if err := r.machine.Transition(status.Connecting); err != nil {
		return err
	}

	endpoint, err := r.wsURL()
	if err != nil {
		_ = r.machine.Fail(err.Error())
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.api.Token())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			_ = r.machine.Fail("channel authorization rejected")
			return fmt.Errorf("connect: %s", resp.Status)
		}
		_ = r.machine.Transition(status.Disconnected)
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := r.machine.Transition(status.Online); err != nil {
		return err
	}
	r.logger.Info("realtime channel established")

	// Kill the read loop when the context goes away. Closing the
	// connection is the only way to unblock ReadJSON.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			_ = r.machine.Transition(status.Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("channel closed: %w", err)
		}
		if err := env.Validate(); err != nil {
			r.logger.Warn("dropping malformed push envelope", zap.Error(err))
			continue
		}
		r.bus.Publish(bus.Event{
			Kind:      "push.message",
			Timestamp: time.Now(),
			Payload:   env,
		})
	}
}
