package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/metrics"
	"gig_marketplace/pkg/logger"
)

// ChatView is the (user, thread) pair an open chat is bound to.
type ChatView struct {
	UserID uuid.UUID
	Key    domain.ConversationKey
}

// IsRelevant reports whether a pushed row belongs in this chat. Rows with no receiver
// are accepted in either direction as long as the thread and sender match.
func (v ChatView) IsRelevant(m domain.Message) bool {
	if m.Scope() != v.Key.Scope {
		return false
	}
	counterpart := v.Key.OtherPartyID
	if m.SenderID == counterpart {
		return m.ReceiverID == nil || *m.ReceiverID == v.UserID
	}
	if m.SenderID == v.UserID {
		return m.ReceiverID == nil || *m.ReceiverID == counterpart
	}
	return false
}

// messageSink is the message list a router merges into.
type messageSink interface {
	mergeDurable(m domain.Message, placeholderID string) MergeOutcome
}

// RealtimeRouter filters pushed rows for one chat and merges the relevant ones.
type RealtimeRouter struct {
	view       ChatView
	messages   MessageStore
	identities IdentityResolver
	unread     *UnreadCounter
	sink       messageSink
	log        logger.Logger

	mu          sync.Mutex
	counterpart *domain.Identity
}

func NewRealtimeRouter(view ChatView, messages MessageStore, identities IdentityResolver, unread *UnreadCounter, sink messageSink, log logger.Logger) *RealtimeRouter {
	return &RealtimeRouter{
		view:       view,
		messages:   messages,
		identities: identities,
		unread:     unread,
		sink:       sink,
		log:        log,
	}
}

// Run drains events until ctx is done or the channel closes. It returns true when the
// feed ended on its own.
func (r *RealtimeRouter) Run(ctx context.Context, events <-chan domain.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-events:
			if !ok {
				return true
			}
			r.OnInsert(ctx, m)
		}
	}
}

// OnInsert handles one pushed row and reports whether it was relevant.
func (r *RealtimeRouter) OnInsert(ctx context.Context, m domain.Message) bool {
	if !r.view.IsRelevant(m) {
		// the unread count covers every thread, not just this one
		if m.IsTo(r.view.UserID) && r.unread != nil {
			_, _ = r.unread.Refresh(ctx)
		}
		metrics.RealtimeDropped.Inc()
		r.log.Debug("Dropped realtime message", "message_id", m.ID, "user_id", r.view.UserID)
		return false
	}

	if m.SenderID == r.view.Key.OtherPartyID {
		if err := r.messages.MarkRead(ctx, m.ID); err != nil {
			r.log.Warn("Failed to mark pushed message read", "error", err, "message_id", m.ID)
		} else {
			m.Read = true
		}
		if r.unread != nil {
			_, _ = r.unread.Refresh(ctx)
		}
		m.Sender = r.resolveCounterpart(ctx)
	}

	outcome := r.sink.mergeDurable(m, "")
	metrics.MergeOutcomes.WithLabelValues("realtime", outcome.String()).Inc()
	return true
}

func (r *RealtimeRouter) resolveCounterpart(ctx context.Context) *domain.Identity {
	r.mu.Lock()
	cached := r.counterpart
	r.mu.Unlock()
	if cached != nil {
		return cached
	}

	id := r.view.Key.OtherPartyID
	found, err := r.identities.LookupIdentities(ctx, []uuid.UUID{id})
	if err != nil || len(found) == 0 {
		if err != nil {
			r.log.Warn("Failed to resolve sender identity", "error", err, "sender_id", id)
		}
		fallback := domain.UnknownIdentity(id)
		return &fallback
	}

	ident := found[0]
	r.mu.Lock()
	r.counterpart = &ident
	r.mu.Unlock()
	return &ident
}
