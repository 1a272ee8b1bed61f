package sync

import (
	"sort"

	"github.com/matheus3301/chatty/internal/model"
)

// RecencyEntry is one row of the conversation list: a counterpart and
// their single most recent message.
type RecencyEntry struct {
	Counterpart model.UserDetails
	Message     model.Message
}

// timeline is the engine-owned per-counterpart message sequence,
// ascending by sentAt, with an id set for duplicate suppression.
type timeline struct {
	counterpart model.UserDetails
	messages    []model.Message
	seen        map[string]struct{}
}

// MergeBatches folds a grouped fetch response into the timelines.
// Messages within each batch arrive newest-first and are reversed into
// ascending order first, so ties keep their source order under the
// stable sort.
func (e *Engine) MergeBatches(batches []model.ConversationBatch) {
	for _, batch := range batches {
		msgs := make([]model.Message, len(batch.Messages))
		for i, m := range batch.Messages {
			msgs[len(msgs)-1-i] = m
		}
		e.mu.Lock()
		e.mergeLocked(batch.Counterpart, msgs)
		e.mu.Unlock()
	}
}

// ApplyEnvelope folds a single pushed message into its counterpart's
// timeline. A duplicate of a message already merged (optimistic send,
// or the catch-up/push race at the reconnect boundary) is a no-op.
func (e *Engine) ApplyEnvelope(env model.Envelope) {
	e.mu.Lock()
	e.mergeLocked(env.Counterpart(), []model.Message{env.Message()})
	e.mu.Unlock()
}

// ProjectLocal applies an optimistic local send to the timeline before
// any server echo, using the same merge path as inbound messages.
func (e *Engine) ProjectLocal(counterpart model.UserDetails, msg model.Message) {
	e.mu.Lock()
	e.mergeLocked(counterpart, []model.Message{msg})
	e.mu.Unlock()
}

// ConfirmSend replaces an optimistic entry with the stored message the
// server echoed back. Safe if the echo already arrived as a push or a
// catch-up result.
func (e *Engine) ConfirmSend(counterpartID, clientID string, echo model.Message) {
	e.mu.Lock()
	if tl, ok := e.timelines[counterpartID]; ok {
		tl.remove(clientID)
		e.mergeLocked(tl.counterpart, []model.Message{echo})
	}
	e.mu.Unlock()
}

// MarkSendFailed flags an optimistic entry whose persistence write
// failed. The entry stays visible, distinctly from a pending one,
// until the caller retries or discards it.
func (e *Engine) MarkSendFailed(counterpartID, clientID string) {
	e.setStatus(counterpartID, clientID, model.StatusFailed)
}

// MarkSending returns a failed entry to the pending state for a retry.
func (e *Engine) MarkSending(counterpartID, clientID string) {
	e.setStatus(counterpartID, clientID, model.StatusSending)
}

// DiscardSend rolls an optimistic entry back entirely.
func (e *Engine) DiscardSend(counterpartID, clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tl, ok := e.timelines[counterpartID]
	if !ok || !tl.remove(clientID) {
		return
	}
	if len(tl.messages) == 0 {
		// Keep the timeline and recency key sets identical.
		delete(e.timelines, counterpartID)
		delete(e.recents, counterpartID)
	} else {
		e.recents[counterpartID] = RecencyEntry{
			Counterpart: tl.counterpart,
			Message:     tl.messages[len(tl.messages)-1],
		}
	}
	e.publish("sync.updated", counterpartID)
}

// mergeLocked is the single write path for timeline state: group input
// is already per-counterpart, ascending. Skips duplicate ids, keeps
// the timeline sorted by sentAt (stable, so equal timestamps keep
// insertion order), then recomputes the recency entry from the tail.
func (e *Engine) mergeLocked(counterpart model.UserDetails, msgs []model.Message) {
	tl, ok := e.timelines[counterpart.ID]
	if !ok {
		tl = &timeline{
			counterpart: counterpart,
			seen:        make(map[string]struct{}),
		}
		e.timelines[counterpart.ID] = tl
	} else if counterpart.Username != "" {
		// Display fields are only as fresh as the last message that
		// touched this counterpart.
		tl.counterpart = counterpart
	}

	changed := false
	for _, m := range msgs {
		if _, dup := tl.seen[m.ID]; dup {
			continue
		}
		tl.seen[m.ID] = struct{}{}
		tl.messages = append(tl.messages, m)
		changed = true
	}
	if !changed {
		return
	}

	sort.SliceStable(tl.messages, func(i, j int) bool {
		return tl.messages[i].SentAt.Before(tl.messages[j].SentAt)
	})

	e.recents[counterpart.ID] = RecencyEntry{
		Counterpart: tl.counterpart,
		Message:     tl.messages[len(tl.messages)-1],
	}
	e.publish("sync.updated", counterpart.ID)
}

func (e *Engine) setStatus(counterpartID, id, s string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tl, ok := e.timelines[counterpartID]
	if !ok {
		return
	}
	for i := range tl.messages {
		if tl.messages[i].ID == id {
			tl.messages[i].Status = s
			if i == len(tl.messages)-1 {
				e.recents[counterpartID] = RecencyEntry{
					Counterpart: tl.counterpart,
					Message:     tl.messages[i],
				}
			}
			e.publish("sync.updated", counterpartID)
			return
		}
	}
}

// remove deletes a message by id, reporting whether it was present.
func (tl *timeline) remove(id string) bool {
	if _, ok := tl.seen[id]; !ok {
		return false
	}
	delete(tl.seen, id)
	for i := range tl.messages {
		if tl.messages[i].ID == id {
			tl.messages = append(tl.messages[:i], tl.messages[i+1:]...)
			break
		}
	}
	return true
}

// Timeline returns a copy of one counterpart's ordered messages.
func (e *Engine) Timeline(counterpartID string) (model.UserDetails, []model.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tl, ok := e.timelines[counterpartID]
	if !ok {
		return model.UserDetails{}, nil, false
	}
	out := make([]model.Message, len(tl.messages))
	copy(out, tl.messages)
	return tl.counterpart, out, true
}

// Recents returns the conversation list, most recent counterpart first.
func (e *Engine) Recents() []RecencyEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RecencyEntry, 0, len(e.recents))
	for _, entry := range e.recents {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Message.SentAt.After(out[j].Message.SentAt)
	})
	return out
}
