package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks ids minted locally for optimistic messages.
// Durable ids are UUIDs assigned by the store and never carry it.
const PlaceholderPrefix = "local-"

const (
	AttachmentTypeImage = "image"
)

type Message struct {
	ID             string     `json:"id"`
	JobID          *uuid.UUID `json:"job_id,omitempty"`
	SenderID       uuid.UUID  `json:"sender_id"`
	ReceiverID     *uuid.UUID `json:"receiver_id,omitempty"`
	Content        string     `json:"content"`
	AttachmentURL  *string    `json:"attachment_url,omitempty"`
	AttachmentType *string    `json:"attachment_type,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`

	// Sender display identity, attached by the realtime router for incoming rows.
	Sender *Identity `json:"sender,omitempty"`
}

// NewMessage is the record handed to the store; id and created_at are assigned there.
type NewMessage struct {
	JobID          *uuid.UUID `json:"job_id,omitempty"`
	SenderID       uuid.UUID  `json:"sender_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	Content        string     `json:"content"`
	AttachmentURL  *string    `json:"attachment_url,omitempty"`
	AttachmentType *string    `json:"attachment_type,omitempty"`
}

func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

func (m Message) IsPlaceholder() bool {
	return IsPlaceholderID(m.ID)
}

func (m Message) Scope() ThreadScope {
	return ScopeOf(m.JobID)
}

// IsTo reports whether the message is addressed to userID.
func (m Message) IsTo(userID uuid.UUID) bool {
	return m.ReceiverID != nil && *m.ReceiverID == userID
}

// Touches reports whether userID is the sender or the receiver.
func (m Message) Touches(userID uuid.UUID) bool {
	return m.SenderID == userID || m.IsTo(userID)
}
