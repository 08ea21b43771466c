package service

import (
	"context"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
)

// MessageStore is the hosted message table.
type MessageStore interface {
	// FetchForUser returns every message touching userID, newest first.
	FetchForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error)
	// FetchThread returns the messages between userID and otherID in scope, oldest first.
	FetchThread(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope, limit int) ([]domain.Message, error)
	Insert(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	// MarkThreadRead marks everything otherID sent to userID in scope as read and returns how many rows changed.
	MarkThreadRead(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope) (int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type FileStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

type IdentityResolver interface {
	LookupIdentities(ctx context.Context, ids []uuid.UUID) ([]domain.Identity, error)
}

type JobDirectory interface {
	LookupJobs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error)
}

// InsertFeed opens a fresh push channel of inserted rows touching userID.
type InsertFeed interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error)
}

type Subscription interface {
	// Events is closed when the subscription ends for any reason.
	Events() <-chan domain.Message
	Close() error
}

// PreviewRegistry holds revocable local previews of staged files.
type PreviewRegistry interface {
	Create(data []byte, contentType string) string
	Revoke(url string)
}
