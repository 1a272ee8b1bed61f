package sync

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/bus"
	"github.com/matheus3301/chatty/internal/model"
	"github.com/matheus3301/chatty/internal/status"
	"go.uber.org/zap"
)

// Loader answers the two history queries and the AI thread reload. The
// realtime client implements it against the REST surface; tests supply
// a fake.
type Loader interface {
	// RecentConversations is the cold-start bulk load: the most recent
	// conversations with a bounded number of messages per counterpart,
	// newest-first within each counterpart.
	RecentConversations(ctx context.Context) ([]model.ConversationBatch, error)
	// ConversationsAfter is the catch-up fetch for messages sent
	// strictly after the cursor.
	ConversationsAfter(ctx context.Context, after time.Time) ([]model.ConversationBatch, error)
	// AIThread lists the AI tutor thread, newest-first.
	AIThread(ctx context.Context) ([]model.AIMessage, error)
}

// Engine merges pushed envelopes and fetched history into per-peer
// timelines and the recency index. It owns that state exclusively:
// every mutation goes through the engine, and a single consumer
// goroutine plus an internal lock keep merges serialized.
type Engine struct {
	mu        sync.Mutex
	timelines map[string]*timeline
	recents   map[string]RecencyEntry
	ai        []model.AIMessage

	loader Loader
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	// episode counts reconnects. A fetch started for an older episode
	// still merges (merging is idempotent), but no longer drives the
	// loading indicator.
	episode int
	loading bool
}

// NewEngine creates an engine with empty state.
func NewEngine(loader Loader, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		timelines: make(map[string]*timeline),
		recents:   make(map[string]RecencyEntry),
		loader:    loader,
		bus:       b,
		logger:    logger,
	}
}

// Start subscribes to connection and push events on the bus and
// processes them strictly in arrival order.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(256, "conn.", "push.")

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine. State is kept: the last known projection
// stays renderable while disconnected.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "conn.status_changed":
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		if change.To == status.Online {
			e.beginEpisode(ctx)
		}
	case "push.message":
		env, ok := evt.Payload.(model.Envelope)
		if !ok {
			return
		}
		if err := env.Validate(); err != nil {
			e.logger.Warn("dropping malformed push envelope", zap.Error(err))
			return
		}
		e.ApplyEnvelope(env)
	}
}

// beginEpisode starts the single fetch for a fresh connection: a bulk
// load when no state exists, otherwise a catch-up bounded below by the
// sync cursor. The AI thread has no gap logic and is reloaded whole.
func (e *Engine) beginEpisode(ctx context.Context) {
	e.mu.Lock()
	e.episode++
	ep := e.episode
	cursor, haveCursor := e.cursorLocked()
	e.loading = true
	e.mu.Unlock()

	e.publish("sync.loading", true)

	go func() {
		var batches []model.ConversationBatch
		var err error
		if haveCursor {
			batches, err = e.loader.ConversationsAfter(ctx, cursor)
		} else {
			batches, err = e.loader.RecentConversations(ctx)
		}

		var thread []model.AIMessage
		var aiErr error
		if err == nil {
			thread, aiErr = e.loader.AIThread(ctx)
		}

		e.finishEpisode(ep, batches, thread, err, aiErr)
	}()
}

func (e *Engine) finishEpisode(ep int, batches []model.ConversationBatch, thread []model.AIMessage, err, aiErr error) {
	// Merge even when the episode is stale: idempotence makes a late
	// response harmless, and the data is still real.
	if err == nil {
		e.MergeBatches(batches)
		if aiErr == nil {
			e.SetAIThread(thread)
		}
	}

	e.mu.Lock()
	current := ep == e.episode
	if current {
		e.loading = false
	}
	e.mu.Unlock()

	if !current {
		return
	}
	e.publish("sync.loading", false)
	if err != nil {
		e.logger.Error("history fetch failed", zap.Error(err), zap.Int("episode", ep))
		e.publish("sync.load_failed", err.Error())
	} else if aiErr != nil {
		e.logger.Error("ai thread reload failed", zap.Error(aiErr), zap.Int("episode", ep))
	}
}

// Loading reports whether a fetch for the current episode is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Cursor returns the catch-up lower bound: the max sentAt across the
// recency index. ok is false when no state exists (true cold start).
func (e *Engine) Cursor() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursorLocked()
}

func (e *Engine) cursorLocked() (time.Time, bool) {
	var max time.Time
	found := false
	for _, entry := range e.recents {
		if !found || entry.Message.SentAt.After(max) {
			max = entry.Message.SentAt
			found = true
		}
	}
	return max, found
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
