package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// Counterpart returns the other party of m as seen by currentUser.
// Legacy rows without a receiver are attributed to the job owner only when currentUser
// sent the row and the job belongs to someone else; anything else is ambiguous.
func Counterpart(m domain.Message, currentUser uuid.UUID, jobs map[uuid.UUID]domain.Job) (uuid.UUID, error) {
	var other uuid.UUID
	switch {
	case m.ReceiverID != nil && m.SenderID == currentUser:
		other = *m.ReceiverID
	case m.ReceiverID != nil && *m.ReceiverID == currentUser:
		other = m.SenderID
	case m.ReceiverID != nil:
		return uuid.Nil, fmt.Errorf("message %s does not involve user %s", m.ID, currentUser)
	case m.SenderID != currentUser:
		return uuid.Nil, apperrors.AmbiguousCounterpart("fold", fmt.Errorf("legacy message %s: %w", m.ID, apperrors.ErrAmbiguousCounterpart))
	default:
		job, ok := lookupJob(m.JobID, jobs)
		if !ok || job.OwnerID == currentUser {
			return uuid.Nil, apperrors.AmbiguousCounterpart("fold", fmt.Errorf("legacy message %s: %w", m.ID, apperrors.ErrAmbiguousCounterpart))
		}
		other = job.OwnerID
	}

	if other == uuid.Nil || other == currentUser {
		return uuid.Nil, fmt.Errorf("message %s has no counterpart", m.ID)
	}
	return other, nil
}

// Fold derives one conversation per (scope, counterpart) from messages. Output follows the
// order in which keys first appear in messages, so a newest-first log yields a newest-first
// inbox. Each conversation shows its chronologically latest message regardless of input order.
func Fold(messages []domain.Message, currentUser uuid.UUID, jobs map[uuid.UUID]domain.Job, identities map[uuid.UUID]domain.Identity) []domain.Conversation {
	index := make(map[domain.ConversationKey]int)
	out := make([]domain.Conversation, 0)

	for _, m := range messages {
		other, err := Counterpart(m, currentUser, jobs)
		if err != nil {
			continue
		}
		key := domain.ConversationKey{Scope: m.Scope(), OtherPartyID: other}
		unread := m.IsTo(currentUser) && !m.Read

		i, seen := index[key]
		if !seen {
			ident, ok := identities[other]
			if !ok {
				ident = domain.UnknownIdentity(other)
			}
			conv := domain.Conversation{
				Key:         key,
				JobID:       m.JobID,
				Counterpart: ident,
			}
			if job, ok := lookupJob(m.JobID, jobs); ok {
				conv.IsOwner = job.OwnerID == currentUser
			}
			out = append(out, conv)
			i = len(out) - 1
			index[key] = i
		}

		conv := &out[i]
		if conv.LastMessageID == "" || m.CreatedAt.After(conv.LastMessageAt) {
			conv.LastMessage = m.Content
			conv.LastMessageAt = m.CreatedAt
			conv.LastMessageID = m.ID
		}
		conv.HasUnread = conv.HasUnread || unread
	}
	return out
}

func lookupJob(jobID *uuid.UUID, jobs map[uuid.UUID]domain.Job) (domain.Job, bool) {
	if jobID == nil {
		return domain.Job{}, false
	}
	job, ok := jobs[*jobID]
	return job, ok
}

// ConversationAggregator builds the inbox from the store with one job lookup and one identity
// lookup per rebuild.
type ConversationAggregator struct {
	messages   MessageStore
	identities IdentityResolver
	jobs       JobDirectory
	limit      int
	log        logger.Logger
}

func NewConversationAggregator(messages MessageStore, identities IdentityResolver, jobs JobDirectory, limit int, log logger.Logger) *ConversationAggregator {
	return &ConversationAggregator{
		messages:   messages,
		identities: identities,
		jobs:       jobs,
		limit:      limit,
		log:        log,
	}
}

// Load fetches the user's log (newest first) and folds it.
func (a *ConversationAggregator) Load(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, []domain.Message, error) {
	log, err := a.messages.FetchForUser(ctx, userID, a.limit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch messages: %w", err)
	}
	convs, err := a.Build(ctx, userID, log)
	if err != nil {
		return nil, nil, err
	}
	return convs, log, nil
}

// Build resolves jobs and identities for log and folds it.
func (a *ConversationAggregator) Build(ctx context.Context, userID uuid.UUID, log []domain.Message) ([]domain.Conversation, error) {
	jobs, err := a.resolveJobs(ctx, log)
	if err != nil {
		return nil, err
	}

	var others []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	dropped := 0
	for _, m := range log {
		other, err := Counterpart(m, userID, jobs)
		if err != nil {
			dropped++
			continue
		}
		if !seen[other] {
			seen[other] = true
			others = append(others, other)
		}
	}
	if dropped > 0 {
		a.log.Debug("Messages without a determinable counterpart skipped", "user_id", userID, "count", dropped)
	}

	identities := make(map[uuid.UUID]domain.Identity, len(others))
	if len(others) > 0 {
		found, err := a.identities.LookupIdentities(ctx, others)
		if err != nil {
			// names are cosmetic; fall back to placeholders
			a.log.Warn("Failed to resolve counterpart identities", "error", err, "user_id", userID)
		}
		for _, ident := range found {
			identities[ident.ID] = ident
		}
	}

	return Fold(log, userID, jobs, identities), nil
}

func (a *ConversationAggregator) resolveJobs(ctx context.Context, log []domain.Message) (map[uuid.UUID]domain.Job, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range log {
		if m.JobID != nil && !seen[*m.JobID] {
			seen[*m.JobID] = true
			ids = append(ids, *m.JobID)
		}
	}

	jobs := make(map[uuid.UUID]domain.Job, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	found, err := a.jobs.LookupJobs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup jobs: %w", err)
	}
	for _, job := range found {
		jobs[job.ID] = job
	}
	return jobs, nil
}
