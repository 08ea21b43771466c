package domain

import (
	"time"

	"github.com/google/uuid"
)

// ThreadScope is the job id of a thread, or DirectScope when the thread has no job.
type ThreadScope string

const DirectScope ThreadScope = "direct"

func ScopeOf(jobID *uuid.UUID) ThreadScope {
	if jobID == nil || *jobID == uuid.Nil {
		return DirectScope
	}
	return ThreadScope(jobID.String())
}

// JobID returns the job behind the scope, or nil for direct messages.
func (s ThreadScope) JobID() *uuid.UUID {
	if s == DirectScope || s == "" {
		return nil
	}
	id, err := uuid.Parse(string(s))
	if err != nil {
		return nil
	}
	return &id
}

func (s ThreadScope) IsDirect() bool {
	return s.JobID() == nil
}

type ConversationKey struct {
	Scope        ThreadScope `json:"scope"`
	OtherPartyID uuid.UUID   `json:"other_party_id"`
}

func (k ConversationKey) String() string {
	return string(k.Scope) + ":" + k.OtherPartyID.String()
}

// Conversation is derived from the message log and never stored.
type Conversation struct {
	Key           ConversationKey `json:"key"`
	JobID         *uuid.UUID      `json:"job_id,omitempty"`
	Counterpart   Identity        `json:"counterpart"`
	LastMessage   string          `json:"last_message"`
	LastMessageAt time.Time       `json:"last_message_at"`
	LastMessageID string          `json:"last_message_id"`
	HasUnread     bool            `json:"has_unread"`
	IsOwner       bool            `json:"is_owner"`
}
