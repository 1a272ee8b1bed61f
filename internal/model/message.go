package model

import "time"

// Delivery status values for locally projected messages. A message that
// came from the server (push or fetch) has an empty status.
const (
	StatusSending = "sending"
	StatusFailed  = "failed"
)

// AITarget is the reserved recipient id addressing the AI tutor thread
// instead of a peer conversation.
const AITarget = "ai"

// Message is a single chat message. Immutable once the server has
// assigned its id and timestamp.
type Message struct {
	ID          string    `json:"id" bson:"_id"`
	SenderID    string    `json:"senderId" bson:"senderId"`
	RecipientID string    `json:"recipientId" bson:"recipientId"`
	Body        string    `json:"body" bson:"body"`
	SentAt      time.Time `json:"sentAt" bson:"sentAt"`

	// Status tracks client-side delivery state of an optimistic send.
	// Never serialized: the server has no notion of it.
	Status string `json:"-" bson:"-"`
}

// UserDetails is the display identity of a user.
type UserDetails struct {
	ID          string `json:"id" bson:"_id"`
	Username    string `json:"username" bson:"username"`
	DisplayName string `json:"displayName" bson:"displayName"`
}

// ConversationBatch is one counterpart's slice of a grouped history
// response. Messages arrive newest-first from the store and are
// reversed into ascending order before merging.
type ConversationBatch struct {
	Counterpart UserDetails `json:"counterpart" bson:"counterpart"`
	Messages    []Message   `json:"messages" bson:"messages"`
}

// AIMessage is one turn of the AI tutor thread. A nil ModelName marks a
// user turn; otherwise it names the model that produced the reply.
type AIMessage struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"-" bson:"userId"`
	Body      string    `json:"message" bson:"message"`
	ModelName *string   `json:"modelName" bson:"modelName"`
	SentAt    time.Time `json:"sentAt" bson:"sentAt"`
}
