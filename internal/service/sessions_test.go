package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gig_marketplace/internal/domain"
	apperrors "gig_marketplace/pkg/errors"
)

func newTestManager(store *fakeStore, feed *fakeFeed) *SessionManager {
	return NewSessionManager(SessionDeps{
		Messages:   store,
		Files:      newFakeFiles(),
		Identities: newFakeIdentities(),
		Jobs:       newFakeJobs(),
		Feed:       feed,
		Previews:   NewMemoryPreviews(),
	}, ChatOptions{
		HistoryLimit: 100,
		RateLimit:    RateLimitOptions{Window: 30 * time.Second, Capacity: 10, Cooldown: 30 * time.Second},
	}, time.Hour, time.Minute, testLogger())
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newSweptManager returns a manager whose idle timeout is one minute of clock time.
func newSweptManager(store *fakeStore, feed *fakeFeed) (*SessionManager, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newTestManager(store, feed)
	m.clock = clock.Now
	return m, clock
}

func TestSessionManager_InboxIsReused(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()

	first, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	second, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, feed.count())
}

func TestSessionManager_ChatsAreKeyedPerThread(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me, other := uuid.New(), uuid.New()
	job := uuid.New()

	direct := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: other}
	scoped := domain.ConversationKey{Scope: domain.ScopeOf(&job), OtherPartyID: other}

	a, err := m.Chat(context.Background(), me, direct)
	require.NoError(t, err)
	b, err := m.Chat(context.Background(), me, scoped)
	require.NoError(t, err)
	again, err := m.Chat(context.Background(), me, direct)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Same(t, a, again)
	assert.Equal(t, 2, feed.count())
}

func TestSessionManager_ChatFailsWhenThreadCannotLoad(t *testing.T) {
	store := newFakeStore()
	store.fetchErr = errStoreDown
	m := newTestManager(store, &fakeFeed{})
	t.Cleanup(m.Shutdown)

	_, err := m.Chat(context.Background(), uuid.New(), domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, apperrors.KindSubscription, apperrors.KindOf(err))
}

func TestSessionManager_CloseChat(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	chat, err := m.Chat(context.Background(), me, key)
	require.NoError(t, err)

	assert.True(t, m.CloseChat(me, key))
	assert.False(t, m.CloseChat(me, key))
	<-feed.last().closed

	_, err = chat.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)

	reopened, err := m.Chat(context.Background(), me, key)
	require.NoError(t, err)
	assert.NotSame(t, chat, reopened)
}

func TestSessionManager_UnreadSharedAcrossSessions(t *testing.T) {
	store := newFakeStore()
	me, other := uuid.New(), uuid.New()
	store.add(domain.Message{ID: "m1", SenderID: other, ReceiverID: uuidPtr(me), Content: "hi", CreatedAt: time.Now()})
	m := newTestManager(store, &fakeFeed{})
	t.Cleanup(m.Shutdown)

	counter, err := m.Unread(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Count())

	_, err = m.Chat(context.Background(), me, domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: other})
	require.NoError(t, err)
	assert.Zero(t, counter.Count())
}

func TestSessionManager_CloseUserTearsDownEverything(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	me := uuid.New()

	inbox, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	_, err = m.Chat(context.Background(), me, domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, 2, feed.count())

	m.CloseUser(me)

	for _, sub := range feed.subs {
		<-sub.closed
	}
	_, err = inbox.SelectConversation(context.Background(), domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)

	fresh, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	assert.NotSame(t, inbox, fresh)
	m.Shutdown()
}

func TestSessionManager_ChatForPrefersInboxActiveChat(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	inbox, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	active, err := inbox.SelectConversation(context.Background(), key)
	require.NoError(t, err)

	got, err := m.ChatFor(context.Background(), me, key)
	require.NoError(t, err)
	assert.Same(t, active, got)
	assert.Equal(t, 1, feed.count())

	other, err := m.ChatFor(context.Background(), me, domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()})
	require.NoError(t, err)
	assert.NotSame(t, active, other)
	assert.Equal(t, 2, feed.count())
}

func TestSessionManager_RefreshChatRecoversDegradedInbox(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	inbox, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	_, err = inbox.SelectConversation(context.Background(), key)
	require.NoError(t, err)

	feed.last().Close()
	require.Eventually(t, inbox.Degraded, time.Second, 5*time.Millisecond)

	_, err = m.RefreshChat(context.Background(), me, key)
	require.NoError(t, err)
	assert.False(t, inbox.Degraded())
	assert.Equal(t, 2, feed.count())
}

func TestSessionManager_RefreshChatResubscribesStandalone(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	chat, err := m.Chat(context.Background(), me, key)
	require.NoError(t, err)
	feed.last().Close()
	require.Eventually(t, chat.Degraded, time.Second, 5*time.Millisecond)

	got, err := m.RefreshChat(context.Background(), me, key)
	require.NoError(t, err)
	assert.Same(t, chat, got)
	assert.False(t, chat.Degraded())
}

func TestSessionManager_HeldChatOutlivesOneHolder(t *testing.T) {
	feed := &fakeFeed{}
	m, clock := newSweptManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	first, releaseFirst, err := m.HoldChat(context.Background(), me, key)
	require.NoError(t, err)
	second, releaseSecond, err := m.HoldChat(context.Background(), me, key)
	require.NoError(t, err)
	require.Same(t, first, second)

	releaseFirst()
	releaseFirst()
	clock.Advance(2 * time.Minute)
	assert.Zero(t, m.Sweep())

	_, err = second.Send(context.Background(), "still here")
	require.NoError(t, err)

	releaseSecond()
	assert.Zero(t, m.Sweep(), "released views wait out the idle timeout")
	_, err = second.Send(context.Background(), "grace period")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	<-feed.last().closed
	_, err = second.Send(context.Background(), "gone")
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestSessionManager_SweepReleasesIdleInbox(t *testing.T) {
	feed := &fakeFeed{}
	m, clock := newSweptManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()

	inbox, release, err := m.HoldInbox(context.Background(), me)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	assert.Zero(t, m.Sweep())
	assert.Equal(t, 1, feed.count())

	release()
	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	<-feed.last().closed

	_, err = inbox.SelectConversation(context.Background(), domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)

	fresh, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	assert.NotSame(t, inbox, fresh)
}

func TestSessionManager_RecentlyUsedChatIsKept(t *testing.T) {
	feed := &fakeFeed{}
	m, clock := newSweptManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	chat, err := m.Chat(context.Background(), me, key)
	require.NoError(t, err)
	clock.Advance(40 * time.Second)
	again, err := m.Chat(context.Background(), me, key)
	require.NoError(t, err)
	require.Same(t, chat, again)

	clock.Advance(40 * time.Second)
	assert.Zero(t, m.Sweep())
	_, err = chat.Send(context.Background(), "kept")
	assert.NoError(t, err)
}

func TestSessionManager_HoldChatOnActiveChatHoldsInbox(t *testing.T) {
	feed := &fakeFeed{}
	m, clock := newSweptManager(newFakeStore(), feed)
	t.Cleanup(m.Shutdown)
	me := uuid.New()
	key := domain.ConversationKey{Scope: domain.DirectScope, OtherPartyID: uuid.New()}

	inbox, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	active, err := inbox.SelectConversation(context.Background(), key)
	require.NoError(t, err)

	held, release, err := m.HoldChat(context.Background(), me, key)
	require.NoError(t, err)
	assert.Same(t, active, held)

	clock.Advance(5 * time.Minute)
	assert.Zero(t, m.Sweep())
	assert.Same(t, active, inbox.ActiveChat())

	release()
	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Nil(t, inbox.ActiveChat())
}

func TestSessionManager_UnreadChangeReachesWatchers(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, &fakeFeed{})
	t.Cleanup(m.Shutdown)
	me := uuid.New()

	inbox, err := m.Inbox(context.Background(), me)
	require.NoError(t, err)
	changes, stop := inbox.Watch()
	defer stop()
	for len(changes) > 0 {
		<-changes
	}

	store.add(domain.Message{ID: "late", SenderID: uuid.New(), ReceiverID: uuidPtr(me), Content: "hi", CreatedAt: time.Now()})
	counter, err := m.Unread(context.Background(), me)
	require.NoError(t, err)
	_, err = counter.Refresh(context.Background())
	require.NoError(t, err)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("unread change did not reach the inbox watcher")
	}
	assert.Equal(t, 1, inbox.Snapshot().UnreadCount)
}
