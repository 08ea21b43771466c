package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// InboxSession is the full inbox of one user: conversations derived from the message log,
// plus at most one active chat that receives pushes through the inbox's own feed.
type InboxSession struct {
	userID     uuid.UUID
	deps       ChatDeps
	opts       ChatOptions
	aggregator *ConversationAggregator
	log        logger.Logger

	mu            sync.Mutex
	messages      []domain.Message
	conversations []domain.Conversation
	active        *ChatSession
	degraded      bool
	closed        bool
	feed          *feedLoop

	signal     *changeSignal
	stopUnread func()
}

func NewInboxSession(userID uuid.UUID, deps ChatDeps, opts ChatOptions, aggregator *ConversationAggregator) *InboxSession {
	s := &InboxSession{
		userID:     userID,
		deps:       deps,
		opts:       opts,
		aggregator: aggregator,
		log:        deps.Log.With("user_id", userID, "view", "inbox"),
		signal:     newChangeSignal(),
	}
	if deps.Unread != nil {
		s.stopUnread = deps.Unread.OnChange(func(int) { s.notify() })
	}
	return s
}

// Load builds the inbox, refreshes the unread count and subscribes to pushes.
func (s *InboxSession) Load(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	if s.deps.Unread != nil {
		_, _ = s.deps.Unread.Refresh(ctx)
	}
	if s.deps.Feed != nil {
		if err := s.subscribe(ctx); err != nil {
			s.log.Warn("Realtime unavailable, inbox degraded", "error", err)
		}
	}
	return nil
}

// Refresh refetches the log and rebuilds every conversation.
func (s *InboxSession) Refresh(ctx context.Context) error {
	convs, log, err := s.aggregator.Load(ctx, s.userID)
	if err != nil {
		s.log.Error("Failed to load inbox", "error", err)
		return apperrors.Subscription("load inbox", err)
	}

	s.mu.Lock()
	s.messages = log
	s.conversations = convs
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *InboxSession) Resubscribe(ctx context.Context) error {
	s.stopFeed()
	if err := s.subscribe(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *InboxSession) subscribe(ctx context.Context) error {
	loop, err := startFeed(ctx, s.deps.Feed, s.userID, s.drain, func() {
		s.log.Warn("Realtime feed ended, inbox degraded")
		s.setDegraded(true)
	})
	if err != nil {
		s.setDegraded(true)
		return apperrors.Subscription("subscribe", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		loop.stop(s.log)
		return apperrors.ErrSessionClosed
	}
	s.feed = loop
	s.degraded = false
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *InboxSession) drain(ctx context.Context, events <-chan domain.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case m, ok := <-events:
			if !ok {
				return true
			}
			s.OnInsert(ctx, m)
		}
	}
}

// OnInsert folds a pushed row into the inbox and forwards it to the active chat.
func (s *InboxSession) OnInsert(ctx context.Context, m domain.Message) {
	if !m.Touches(s.userID) && m.ReceiverID != nil {
		return
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	// the active chat marks rows from its counterpart read, and refreshes the unread
	// count itself, before the inbox refolds
	if active != nil {
		if active.Deliver(ctx, m) && m.SenderID != s.userID {
			m.Read = true
		}
	} else if m.IsTo(s.userID) && s.deps.Unread != nil {
		_, _ = s.deps.Unread.Refresh(ctx)
	}

	s.mu.Lock()
	if Contains(s.messages, m.ID) {
		s.mu.Unlock()
		return
	}
	next := make([]domain.Message, 0, len(s.messages)+1)
	next = append(next, m)
	next = append(next, s.messages...)
	s.messages = next
	s.mu.Unlock()

	convs, err := s.aggregator.Build(ctx, s.userID, next)
	if err != nil {
		s.log.Warn("Failed to rebuild inbox after push", "error", err, "message_id", m.ID)
		return
	}
	s.mu.Lock()
	s.conversations = convs
	s.mu.Unlock()
	s.notify()
}

// SelectConversation opens key as the active chat, closing the previous one.
func (s *InboxSession) SelectConversation(ctx context.Context, key domain.ConversationKey) (*ChatSession, error) {
	if key.OtherPartyID == uuid.Nil || key.OtherPartyID == s.userID {
		return nil, apperrors.Validation("select conversation", apperrors.ErrNoCounterpart)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrSessionClosed
	}
	prev := s.active
	if prev != nil && prev.Key() == key {
		s.mu.Unlock()
		return prev, nil
	}
	s.active = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	deps := s.deps
	deps.Feed = nil
	chat := NewChatSession(s.userID, key, deps, s.opts)
	if err := chat.Open(ctx); err != nil {
		chat.Close()
		return nil, err
	}

	s.mu.Lock()
	s.active = chat
	s.mu.Unlock()

	// opening marked the thread read; refold so its unread flag clears
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("Failed to refresh inbox after opening chat", "error", err)
	}
	return chat, nil
}

func (s *InboxSession) ActiveChat() *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *InboxSession) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

func (s *InboxSession) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *InboxSession) RateLimitSecondsRemaining() int {
	if chat := s.ActiveChat(); chat != nil {
		return chat.RateLimitSecondsRemaining()
	}
	return 0
}

// Watch returns a fresh change channel and the func that detaches it.
func (s *InboxSession) Watch() (<-chan struct{}, func()) {
	return s.signal.watch()
}

func (s *InboxSession) Snapshot() domain.InboxSnapshot {
	snap := domain.InboxSnapshot{
		Conversations:             s.Conversations(),
		RateLimitSecondsRemaining: s.RateLimitSecondsRemaining(),
		Degraded:                  s.Degraded(),
	}
	if chat := s.ActiveChat(); chat != nil {
		key := chat.Key()
		snap.Active = &key
	}
	if s.deps.Unread != nil {
		snap.UnreadCount = s.deps.Unread.Count()
	}
	return snap
}

func (s *InboxSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active := s.active
	s.active = nil
	s.mu.Unlock()

	s.stopFeed()
	if active != nil {
		active.Close()
	}
	if s.stopUnread != nil {
		s.stopUnread()
	}
	s.notify()
}

func (s *InboxSession) stopFeed() {
	s.mu.Lock()
	loop := s.feed
	s.feed = nil
	s.mu.Unlock()
	loop.stop(s.log)
}

func (s *InboxSession) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
	s.notify()
}

func (s *InboxSession) notify() {
	s.signal.notify()
}
