package model

import (
	"errors"
	"fmt"
	"time"
)

// Direction tags a push envelope relative to the channel owner: "send"
// means the owner authored the message (echo to their other devices),
// "receive" means a peer sent it to them.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

var errEnvelopeIncomplete = errors.New("envelope missing required fields")

// Envelope is the realtime push payload delivered over the private
// channel. It is denormalized so the client can render both parties
// without a profile lookup.
type Envelope struct {
	Direction            Direction `json:"direction"`
	ID                   string    `json:"id"`
	Body                 string    `json:"body"`
	SenderID             string    `json:"senderId"`
	SenderDisplayName    string    `json:"senderDisplayName"`
	SenderUsername       string    `json:"senderUsername"`
	RecipientID          string    `json:"recipientId"`
	RecipientDisplayName string    `json:"recipientDisplayName"`
	RecipientUsername    string    `json:"recipientUsername"`
	SentAt               time.Time `json:"sentAt"`
}

// Validate rejects loosely-shaped payloads at the boundary before they
// can reach the sync engine.
func (e Envelope) Validate() error {
	switch e.Direction {
	case DirectionSend, DirectionReceive:
	default:
		return fmt.Errorf("unknown envelope direction %q", e.Direction)
	}
	if e.ID == "" || e.SenderID == "" || e.RecipientID == "" || e.SentAt.IsZero() {
		return errEnvelopeIncomplete
	}
	return nil
}

// Counterpart returns the other party's details as seen by the channel
// owner. For a "send" echo that is the recipient; for a "receive" push
// it is the sender. The owner's own name must never end up here.
func (e Envelope) Counterpart() UserDetails {
	if e.Direction == DirectionSend {
		return UserDetails{
			ID:          e.RecipientID,
			Username:    e.RecipientUsername,
			DisplayName: e.RecipientDisplayName,
		}
	}
	return UserDetails{
		ID:          e.SenderID,
		Username:    e.SenderUsername,
		DisplayName: e.SenderDisplayName,
	}
}

// Message converts the envelope into the canonical message record.
func (e Envelope) Message() Message {
	return Message{
		ID:          e.ID,
		SenderID:    e.SenderID,
		RecipientID: e.RecipientID,
		Body:        e.Body,
		SentAt:      e.SentAt,
	}
}
