package sync

import (
	"sort"

	"github.com/matheus3301/chatty/internal/model"
)

// The AI tutor thread has exactly one counterpart and no offline-gap
// problem: every connect replaces it wholesale.

// SetAIThread replaces the thread with a freshly fetched copy. Input is
// newest-first from the store; held ascending like peer timelines.
func (e *Engine) SetAIThread(msgs []model.AIMessage) {
	thread := make([]model.AIMessage, len(msgs))
	copy(thread, msgs)
	sort.SliceStable(thread, func(i, j int) bool {
		return thread[i].SentAt.Before(thread[j].SentAt)
	})

	e.mu.Lock()
	e.ai = thread
	e.mu.Unlock()
	e.publish("sync.ai_thread", len(thread))
}

// AppendAI adds one turn to the thread, skipping duplicate ids.
func (e *Engine) AppendAI(msg model.AIMessage) {
	e.mu.Lock()
	for _, m := range e.ai {
		if m.ID == msg.ID {
			e.mu.Unlock()
			return
		}
	}
	e.ai = append(e.ai, msg)
	sort.SliceStable(e.ai, func(i, j int) bool {
		return e.ai[i].SentAt.Before(e.ai[j].SentAt)
	})
	e.mu.Unlock()
	e.publish("sync.ai_thread", 1)
}

// RemoveAI rolls back an optimistic AI turn by id.
func (e *Engine) RemoveAI(id string) {
	e.mu.Lock()
	for i := range e.ai {
		if e.ai[i].ID == id {
			e.ai = append(e.ai[:i], e.ai[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	e.publish("sync.ai_thread", -1)
}

// AIThread returns a copy of the thread, ascending by sentAt.
func (e *Engine) AIThread() []model.AIMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.AIMessage, len(e.ai))
	copy(out, e.ai)
	return out
}
