package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// SessionDeps are the store adapters every session is built from.
type SessionDeps struct {
	Messages   MessageStore
	Files      FileStore
	Identities IdentityResolver
	Jobs       JobDirectory
	Feed       InsertFeed
	Previews   PreviewRegistry
}

// chatEntry is a standalone chat plus the sockets currently streaming it.
type chatEntry struct {
	chat     *ChatSession
	holders  int
	lastUsed time.Time
}

type userSessions struct {
	unread       *UnreadCounter
	inbox        *InboxSession
	inboxHolders int
	chats        map[domain.ConversationKey]*chatEntry
	lastUsed     time.Time
	cancelPoll   context.CancelFunc
}

// SessionManager keeps the live sessions of every connected user: one inbox and any
// number of standalone chats, sharing one unread counter per user.
//
// Sockets hold the view they stream; REST calls only touch it. A view nobody holds is
// closed by Sweep once it has been idle for the idle timeout, and a user with nothing
// left open is forgotten along with their unread poller.
type SessionManager struct {
	deps         SessionDeps
	opts         ChatOptions
	pollInterval time.Duration
	idleTimeout  time.Duration
	historyLimit int
	clock        func() time.Time
	log          logger.Logger

	mu    sync.Mutex
	users map[uuid.UUID]*userSessions
}

func NewSessionManager(deps SessionDeps, opts ChatOptions, pollInterval, idleTimeout time.Duration, log logger.Logger) *SessionManager {
	return &SessionManager{
		deps:         deps,
		opts:         opts,
		pollInterval: pollInterval,
		idleTimeout:  idleTimeout,
		historyLimit: opts.HistoryLimit,
		clock:        time.Now,
		log:          log,
		users:        make(map[uuid.UUID]*userSessions),
	}
}

// user returns the entry for userID, creating it and starting its poller on first use.
func (m *SessionManager) user(userID uuid.UUID) *userSessions {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	u, ok := m.users[userID]
	if ok {
		u.lastUsed = now
		return u
	}
	ctx, cancel := context.WithCancel(context.Background())
	u = &userSessions{
		unread:     NewUnreadCounter(m.deps.Messages, userID, m.log),
		chats:      make(map[domain.ConversationKey]*chatEntry),
		lastUsed:   now,
		cancelPoll: cancel,
	}
	m.users[userID] = u
	go u.unread.Poll(ctx, m.pollInterval)
	return u
}

func (m *SessionManager) chatDeps(u *userSessions) ChatDeps {
	return ChatDeps{
		Messages:   m.deps.Messages,
		Files:      m.deps.Files,
		Identities: m.deps.Identities,
		Feed:       m.deps.Feed,
		Previews:   m.deps.Previews,
		Unread:     u.unread,
		Log:        m.log,
	}
}

// Unread returns the user's counter, refreshing it on first use.
func (m *SessionManager) Unread(ctx context.Context, userID uuid.UUID) (*UnreadCounter, error) {
	m.mu.Lock()
	_, known := m.users[userID]
	m.mu.Unlock()

	u := m.user(userID)
	if !known {
		if _, err := u.unread.Refresh(ctx); err != nil {
			return nil, apperrors.Subscription("count unread", err)
		}
	}
	return u.unread, nil
}

// Inbox returns the user's inbox, loading it on first use.
func (m *SessionManager) Inbox(ctx context.Context, userID uuid.UUID) (*InboxSession, error) {
	u := m.user(userID)

	m.mu.Lock()
	if u.inbox != nil {
		inbox := u.inbox
		m.mu.Unlock()
		return inbox, nil
	}
	m.mu.Unlock()

	aggregator := NewConversationAggregator(m.deps.Messages, m.deps.Identities, m.deps.Jobs, m.historyLimit, m.log)
	inbox := NewInboxSession(userID, m.chatDeps(u), m.opts, aggregator)
	if err := inbox.Load(ctx); err != nil {
		inbox.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if u.inbox != nil {
		// lost a race with a concurrent load
		go inbox.Close()
		return u.inbox, nil
	}
	u.inbox = inbox
	return inbox, nil
}

// Chat returns the standalone chat for key, opening it with its own feed on first use.
func (m *SessionManager) Chat(ctx context.Context, userID uuid.UUID, key domain.ConversationKey) (*ChatSession, error) {
	u := m.user(userID)

	m.mu.Lock()
	if e, ok := u.chats[key]; ok {
		e.lastUsed = m.clock()
		m.mu.Unlock()
		return e.chat, nil
	}
	m.mu.Unlock()

	chat := NewChatSession(userID, key, m.chatDeps(u), m.opts)
	if err := chat.Open(ctx); err != nil {
		chat.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := u.chats[key]; ok {
		go chat.Close()
		existing.lastUsed = m.clock()
		return existing.chat, nil
	}
	u.chats[key] = &chatEntry{chat: chat, lastUsed: m.clock()}
	return chat, nil
}

func (m *SessionManager) inboxOf(userID uuid.UUID) *InboxSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.lastUsed = m.clock()
		return u.inbox
	}
	return nil
}

// ChatFor returns the inbox's active chat when it shows key, otherwise the standalone chat.
func (m *SessionManager) ChatFor(ctx context.Context, userID uuid.UUID, key domain.ConversationKey) (*ChatSession, error) {
	if inbox := m.inboxOf(userID); inbox != nil {
		if chat := inbox.ActiveChat(); chat != nil && chat.Key() == key {
			return chat, nil
		}
	}
	return m.Chat(ctx, userID, key)
}

// HoldInbox returns the user's inbox and keeps it open until release is called.
func (m *SessionManager) HoldInbox(ctx context.Context, userID uuid.UUID) (*InboxSession, func(), error) {
	inbox, err := m.Inbox(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	release, err := m.holdInbox(userID, inbox)
	if err != nil {
		return nil, nil, err
	}
	return inbox, release, nil
}

// HoldChat is ChatFor for a long-lived reader: the chat stays open until release is called.
// When the chat is the inbox's active one, the inbox is held instead.
func (m *SessionManager) HoldChat(ctx context.Context, userID uuid.UUID, key domain.ConversationKey) (*ChatSession, func(), error) {
	if inbox := m.inboxOf(userID); inbox != nil {
		if chat := inbox.ActiveChat(); chat != nil && chat.Key() == key {
			release, err := m.holdInbox(userID, inbox)
			if err != nil {
				return nil, nil, err
			}
			return chat, release, nil
		}
	}

	chat, err := m.Chat(ctx, userID, key)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	u, ok := m.users[userID]
	if !ok || u.chats[key] == nil || u.chats[key].chat != chat {
		m.mu.Unlock()
		return nil, nil, apperrors.ErrSessionClosed
	}
	e := u.chats[key]
	e.holders++
	m.mu.Unlock()

	return chat, m.releaser(func(now time.Time) {
		e.holders--
		e.lastUsed = now
		u.lastUsed = now
	}), nil
}

func (m *SessionManager) holdInbox(userID uuid.UUID, inbox *InboxSession) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.inbox != inbox {
		return nil, apperrors.ErrSessionClosed
	}
	u.inboxHolders++
	return m.releaser(func(now time.Time) {
		u.inboxHolders--
		u.lastUsed = now
	}), nil
}

// releaser runs fn under the manager lock, at most once.
func (m *SessionManager) releaser(fn func(now time.Time)) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			fn(m.clock())
			m.mu.Unlock()
		})
	}
}

// RefreshChat refetches the thread for key, first reopening whichever feed backs it if
// that feed is down.
func (m *SessionManager) RefreshChat(ctx context.Context, userID uuid.UUID, key domain.ConversationKey) (*ChatSession, error) {
	if inbox := m.inboxOf(userID); inbox != nil {
		if chat := inbox.ActiveChat(); chat != nil && chat.Key() == key {
			if inbox.Degraded() {
				if err := inbox.Resubscribe(ctx); err != nil {
					return chat, err
				}
			}
			return chat, chat.Refresh(ctx)
		}
	}

	chat, err := m.Chat(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	if chat.Degraded() {
		return chat, chat.Resubscribe(ctx)
	}
	return chat, chat.Refresh(ctx)
}

// CloseChat tears down a standalone chat and its subscription, even if sockets still hold it.
func (m *SessionManager) CloseChat(userID uuid.UUID, key domain.ConversationKey) bool {
	m.mu.Lock()
	u, ok := m.users[userID]
	var e *chatEntry
	if ok {
		e = u.chats[key]
		delete(u.chats, key)
	}
	m.mu.Unlock()

	if e == nil {
		return false
	}
	e.chat.Close()
	return true
}

// CloseUser tears down everything a user has open.
func (m *SessionManager) CloseUser(userID uuid.UUID) {
	m.mu.Lock()
	u, ok := m.users[userID]
	delete(m.users, userID)
	m.mu.Unlock()

	if ok {
		u.close()
	}
}

// Sweep closes every view that nobody holds and that sat unused for the idle timeout,
// then forgets users with nothing left open. It returns the number of users forgotten.
func (m *SessionManager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}

	var closers []func()
	forgotten := 0

	m.mu.Lock()
	now := m.clock()
	for id, u := range m.users {
		for key, e := range u.chats {
			if e.holders == 0 && now.Sub(e.lastUsed) >= m.idleTimeout {
				delete(u.chats, key)
				closers = append(closers, e.chat.Close)
			}
		}
		if now.Sub(u.lastUsed) < m.idleTimeout {
			continue
		}
		if u.inbox != nil && u.inboxHolders == 0 {
			closers = append(closers, u.inbox.Close)
			u.inbox = nil
		}
		if u.inbox == nil && len(u.chats) == 0 {
			delete(m.users, id)
			closers = append(closers, u.cancelPoll)
			forgotten++
		}
	}
	m.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	if forgotten > 0 {
		m.log.Debug("Idle chat sessions released", "users", forgotten)
	}
	return forgotten
}

// Run sweeps idle sessions until ctx is done.
func (m *SessionManager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	interval := m.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	users := m.users
	m.users = make(map[uuid.UUID]*userSessions)
	m.mu.Unlock()

	for _, u := range users {
		u.close()
	}
	m.log.Info("Chat sessions closed", "users", len(users))
}

func (u *userSessions) close() {
	u.cancelPoll()
	if u.inbox != nil {
		u.inbox.Close()
	}
	for _, e := range u.chats {
		e.chat.Close()
	}
}
