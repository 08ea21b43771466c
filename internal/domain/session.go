package domain

import "time"

type SendState string

const (
	SendStateIdle    SendState = "idle"
	SendStateSending SendState = "sending"
	SendStateFailed  SendState = "failed"
)

// ChatSnapshot is the read model a presentation layer renders for one chat.
type ChatSnapshot struct {
	Key                       ConversationKey `json:"key"`
	Messages                  []Message       `json:"messages"`
	SendState                 SendState       `json:"send_state"`
	Notice                    string          `json:"notice,omitempty"`
	Draft                     string          `json:"draft"`
	Attachment                *StagedPreview  `json:"attachment,omitempty"`
	RateLimitSecondsRemaining int             `json:"rate_limit_seconds_remaining"`
	Degraded                  bool            `json:"degraded"`
	UnreadCount               int             `json:"unread_count"`
	TakenAt                   time.Time       `json:"taken_at"`
}

type StagedPreview struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	PreviewURL  string `json:"preview_url"`
}

type InboxSnapshot struct {
	Conversations             []Conversation   `json:"conversations"`
	Active                    *ConversationKey `json:"active,omitempty"`
	RateLimitSecondsRemaining int              `json:"rate_limit_seconds_remaining"`
	Degraded                  bool             `json:"degraded"`
	UnreadCount               int              `json:"unread_count"`
}
