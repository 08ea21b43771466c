package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gig_marketplace/internal/config"
	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/metrics"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// ChatDeps are the collaborators shared by every chat of one user.
type ChatDeps struct {
	Messages   MessageStore
	Files      FileStore
	Identities IdentityResolver
	// Feed is nil when the owner (an inbox) forwards pushed rows through Deliver.
	Feed     InsertFeed
	Previews PreviewRegistry
	Unread   *UnreadCounter
	Log      logger.Logger
	Clock    func() time.Time
}

type ChatOptions struct {
	Bucket             string
	FallbackCaption    string
	SendTimeout        time.Duration
	MaxAttachmentBytes int64
	HistoryLimit       int
	RateLimit          RateLimitOptions
}

func ChatOptionsFromConfig(m config.MessagingConfig, bucket string) ChatOptions {
	return ChatOptions{
		Bucket:             bucket,
		FallbackCaption:    m.FallbackCaption,
		SendTimeout:        m.SendTimeout,
		MaxAttachmentBytes: m.MaxAttachmentBytes,
		HistoryLimit:       m.HistoryLimit,
		RateLimit: RateLimitOptions{
			Window:   m.RateWindow,
			Capacity: m.RateCapacity,
			Cooldown: m.RateCooldown,
		},
	}
}

// ChatSession is one open two-party thread: its message list, composer and realtime feed.
// The message list is only ever swapped for a new slice under mu.
type ChatSession struct {
	view    ChatView
	deps    ChatDeps
	opts    ChatOptions
	log     logger.Logger
	limiter *SendRateLimiter
	staging *AttachmentStaging
	router  *RealtimeRouter

	mu        sync.Mutex
	messages  []domain.Message
	draft     string
	inflight  int
	state     domain.SendState
	notice    string
	degraded  bool
	closed    bool
	countdown bool

	// settled maps a pending placeholder id to the durable row a push or refresh replaced it with
	settled map[string]domain.Message

	feed       *feedLoop
	signal     *changeSignal
	stopUnread func()
}

func NewChatSession(userID uuid.UUID, key domain.ConversationKey, deps ChatDeps, opts ChatOptions) *ChatSession {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if opts.FallbackCaption == "" {
		opts.FallbackCaption = "Sent a photo"
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}

	s := &ChatSession{
		view:    ChatView{UserID: userID, Key: key},
		deps:    deps,
		opts:    opts,
		log:     deps.Log.With("user_id", userID, "thread", key.String()),
		limiter: NewSendRateLimiter(opts.RateLimit),
		staging: NewAttachmentStaging(deps.Previews, opts.MaxAttachmentBytes),
		state:   domain.SendStateIdle,
		settled: make(map[string]domain.Message),
		signal:  newChangeSignal(),
	}
	if deps.Unread != nil {
		s.stopUnread = deps.Unread.OnChange(func(int) { s.notify() })
	}
	s.router = NewRealtimeRouter(s.view, deps.Messages, deps.Identities, deps.Unread, s, s.log)
	metrics.ActiveChatSessions.Inc()
	return s
}

func (s *ChatSession) Key() domain.ConversationKey {
	return s.view.Key
}

// Open loads the thread, marks what the counterpart sent as read and subscribes to pushes.
// A failed subscription leaves the session usable in degraded mode.
func (s *ChatSession) Open(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.markThreadRead(ctx)

	if s.deps.Feed != nil {
		if err := s.subscribe(ctx); err != nil {
			s.log.Warn("Realtime unavailable, chat degraded", "error", err)
		}
	}
	return nil
}

// Refresh re-reads the thread and merges it into the list without duplicating
// rows that are already shown or still pending.
func (s *ChatSession) Refresh(ctx context.Context) error {
	rows, err := s.deps.Messages.FetchThread(ctx, s.view.UserID, s.view.Key.OtherPartyID, s.view.Key.Scope, s.opts.HistoryLimit)
	if err != nil {
		s.log.Error("Failed to fetch thread", "error", err)
		return apperrors.Subscription("fetch thread", err)
	}

	s.mu.Lock()
	for _, m := range rows {
		s.mergeLocked(m, "")
	}
	sorted := make([]domain.Message, len(s.messages))
	copy(sorted, s.messages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	s.messages = sorted
	s.mu.Unlock()

	s.notify()
	return nil
}

// Resubscribe drops the current push channel, if any, and opens a fresh one.
func (s *ChatSession) Resubscribe(ctx context.Context) error {
	if s.deps.Feed == nil {
		return nil
	}
	s.stopFeed()
	if err := s.subscribe(ctx); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *ChatSession) subscribe(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return apperrors.ErrSessionClosed
	}

	loop, err := startFeed(ctx, s.deps.Feed, s.view.UserID, s.router.Run, func() {
		s.log.Warn("Realtime feed ended, chat degraded")
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

func (s *ChatSession) stopFeed() {
	s.mu.Lock()
	loop := s.feed
	s.feed = nil
	s.mu.Unlock()
	loop.stop(s.log)
}

// Close unsubscribes and releases any staged preview. It is safe to call twice.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopFeed()
	s.staging.Clear()
	if s.stopUnread != nil {
		s.stopUnread()
	}
	metrics.ActiveChatSessions.Dec()
	s.notify()
}

// Deliver hands a pushed row to the router; used when the feed is owned elsewhere.
func (s *ChatSession) Deliver(ctx context.Context, m domain.Message) bool {
	return s.router.OnInsert(ctx, m)
}

func (s *ChatSession) StageAttachment(file AttachmentFile) (*domain.StagedPreview, error) {
	p, err := s.staging.Stage(file)
	if err != nil {
		return nil, err
	}
	s.notify()
	return p.Preview(), nil
}

func (s *ChatSession) CancelAttachment() {
	s.staging.Clear()
	s.notify()
}

func (s *ChatSession) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *ChatSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *ChatSession) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *ChatSession) SendState() domain.SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatSession) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *ChatSession) RateLimitSecondsRemaining() int {
	return s.limiter.SecondsRemaining(s.deps.Clock())
}

// Watch returns a fresh channel that signals after every state change, and the func
// that detaches it. Signals coalesce per channel.
func (s *ChatSession) Watch() (<-chan struct{}, func()) {
	return s.signal.watch()
}

func (s *ChatSession) Snapshot() domain.ChatSnapshot {
	now := s.deps.Clock()
	snap := domain.ChatSnapshot{
		Key:                       s.view.Key,
		Attachment:                s.staging.Pending().Preview(),
		RateLimitSecondsRemaining: s.limiter.SecondsRemaining(now),
		TakenAt:                   now,
	}
	if s.deps.Unread != nil {
		snap.UnreadCount = s.deps.Unread.Count()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Messages = make([]domain.Message, len(s.messages))
	copy(snap.Messages, s.messages)
	snap.SendState = s.state
	snap.Notice = s.notice
	snap.Draft = s.draft
	snap.Degraded = s.degraded
	return snap
}

// mergeDurable implements messageSink for both the router and the send pipeline.
func (s *ChatSession) mergeDurable(m domain.Message, placeholderID string) MergeOutcome {
	s.mu.Lock()
	outcome := s.mergeLocked(m, placeholderID)
	s.mu.Unlock()

	s.notify()
	return outcome
}

// mergeLocked merges m and records which pending placeholder, if any, it replaced.
func (s *ChatSession) mergeLocked(m domain.Message, placeholderID string) MergeOutcome {
	prev := s.messages
	next, outcome := Merge(prev, m, placeholderID)
	if outcome == MergeReplaced {
		for i := range prev {
			if prev[i].IsPlaceholder() && next[i].ID != prev[i].ID {
				s.settled[prev[i].ID] = m
				break
			}
		}
	}
	s.messages = next
	return outcome
}

func (s *ChatSession) markThreadRead(ctx context.Context) {
	n, err := s.deps.Messages.MarkThreadRead(ctx, s.view.UserID, s.view.Key.OtherPartyID, s.view.Key.Scope)
	if err != nil {
		s.log.Warn("Failed to mark thread read", "error", err)
		return
	}
	if n == 0 {
		return
	}

	s.mu.Lock()
	next := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		if m.SenderID == s.view.Key.OtherPartyID {
			m.Read = true
		}
		next[i] = m
	}
	s.messages = next
	s.mu.Unlock()

	if s.deps.Unread != nil {
		_, _ = s.deps.Unread.Refresh(ctx)
	}
	s.notify()
}

func (s *ChatSession) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
	s.notify()
}

func (s *ChatSession) notify() {
	s.signal.notify()
}
