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

type chatFixture struct {
	me, other uuid.UUID
	key       domain.ConversationKey
	store     *fakeStore
	files     *fakeFiles
	idents    *fakeIdentities
	feed      *fakeFeed
	previews  *MemoryPreviews
	unread    *UnreadCounter
	session   *ChatSession

	clockMu sync.Mutex
	now     time.Time
}

func (f *chatFixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func (f *chatFixture) advance(d time.Duration) {
	f.clockMu.Lock()
	f.now = f.now.Add(d)
	f.clockMu.Unlock()
}

func newChatFixture(t *testing.T, scope domain.ThreadScope) *chatFixture {
	t.Helper()
	f := &chatFixture{
		me:       uuid.New(),
		other:    uuid.New(),
		store:    newFakeStore(),
		files:    newFakeFiles(),
		feed:     &fakeFeed{},
		previews: NewMemoryPreviews(),
		now:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.key = domain.ConversationKey{Scope: scope, OtherPartyID: f.other}
	f.idents = newFakeIdentities(domain.Identity{ID: f.other, DisplayName: "Olga"})
	f.unread = NewUnreadCounter(f.store, f.me, testLogger())
	f.session = NewChatSession(f.me, f.key, ChatDeps{
		Messages:   f.store,
		Files:      f.files,
		Identities: f.idents,
		Feed:       f.feed,
		Previews:   f.previews,
		Unread:     f.unread,
		Log:        testLogger(),
		Clock:      f.clock,
	}, ChatOptions{
		Bucket:          "chat-attachments",
		FallbackCaption: "Sent a photo",
		SendTimeout:     time.Second,
		RateLimit:       RateLimitOptions{Window: 30 * time.Second, Capacity: 10, Cooldown: 30 * time.Second},
	})
	t.Cleanup(f.session.Close)
	return f
}

func (f *chatFixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Open(context.Background()))
}

func (f *chatFixture) push(m domain.Message) {
	f.feed.last().ch <- m
}

func (f *chatFixture) messageIDs() []string {
	return ids(f.session.Messages())
}

// blockInserts makes Insert wait for release and then return the row built by result.
func (f *chatFixture) blockInserts(result func(domain.NewMessage) domain.Message) (entered chan domain.NewMessage, release chan struct{}) {
	entered = make(chan domain.NewMessage, 1)
	release = make(chan struct{})
	f.store.insertFn = func(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
		entered <- nm
		select {
		case <-release:
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
		if result == nil {
			return domain.Message{}, nil
		}
		return result(nm), nil
	}
	return entered, release
}

func TestChatSession_PushBeforeInsertReturnsShowsOneBubble(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)

	durable := domain.Message{
		ID:         "durable-1",
		SenderID:   f.me,
		ReceiverID: uuidPtr(f.other),
		Content:    "Hello",
		CreatedAt:  f.now.Add(50 * time.Millisecond),
	}
	entered, release := f.blockInserts(func(domain.NewMessage) domain.Message { return durable })

	type result struct {
		m   domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := f.session.Send(context.Background(), "Hello")
		done <- result{m, err}
	}()

	<-entered
	list := f.session.Messages()
	require.Len(t, list, 1)
	assert.True(t, list[0].IsPlaceholder())
	assert.Equal(t, domain.SendStateSending, f.session.SendState())

	f.push(durable)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"durable-1"}, f.messageIDs())
	}, time.Second, 5*time.Millisecond)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "durable-1", res.m.ID)
	assert.Equal(t, []string{"durable-1"}, f.messageIDs())
	assert.Equal(t, domain.SendStateIdle, f.session.SendState())
}

func TestChatSession_InsertThenDuplicatePush(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)

	sent, err := f.session.Send(context.Background(), "  Hi there  ")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", sent.Content)

	f.push(sent)
	f.push(sent)
	// a later unrelated push proves the duplicates were processed
	marker := domain.Message{ID: "marker", SenderID: f.other, ReceiverID: uuidPtr(f.me), Content: "yo", CreatedAt: f.now}
	f.push(marker)

	require.Eventually(t, func() bool { return len(f.session.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{sent.ID, "marker"}, f.messageIDs())
}

func TestChatSession_InsertFailureRollsBack(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	f.store.insertFn = func(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
		return domain.Message{}, errStoreDown
	}

	_, err := f.session.Send(context.Background(), "Are you available?")

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransientSend, apperrors.KindOf(err))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, f.session.Messages())
	assert.Equal(t, "Are you available?", f.session.Draft())
	snap := f.session.Snapshot()
	assert.Equal(t, domain.SendStateFailed, snap.SendState)
	assert.NotEmpty(t, snap.Notice)
}

func TestChatSession_UploadFailureRestoresAttachment(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	f.files.err = errStoreDown

	staged, err := f.session.StageAttachment(imageFile(1024))
	require.NoError(t, err)

	_, err = f.session.Send(context.Background(), "")

	require.Error(t, err)
	assert.Empty(t, f.session.Messages())
	restored := f.session.Snapshot().Attachment
	require.NotNil(t, restored)
	assert.NotEqual(t, staged.PreviewURL, restored.PreviewURL)
	assert.Equal(t, 1, f.previews.Len())
	assert.Equal(t, "", f.session.Draft())
}

func TestChatSession_AttachmentOnlyUsesCaptionAndDurableURL(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	_, err := f.session.StageAttachment(imageFile(1024))
	require.NoError(t, err)

	sent, err := f.session.Send(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, "Sent a photo", sent.Content)
	require.NotNil(t, sent.AttachmentURL)
	assert.Contains(t, *sent.AttachmentURL, "https://files.example.com/chat-attachments/")
	assert.Nil(t, f.session.Snapshot().Attachment)
	assert.Equal(t, 0, f.previews.Len())
	assert.Len(t, f.files.uploads, 1)
}

func TestChatSession_PlaceholderShowsLocalPreviewWhileUploading(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	staged, err := f.session.StageAttachment(imageFile(1024))
	require.NoError(t, err)
	entered, release := f.blockInserts(nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.session.Send(context.Background(), "look")
		done <- err
	}()

	nm := <-entered
	require.NotNil(t, nm.AttachmentURL)
	list := f.session.Messages()
	require.Len(t, list, 1)
	require.NotNil(t, list[0].AttachmentURL)
	assert.Equal(t, staged.PreviewURL, *list[0].AttachmentURL)
	assert.Nil(t, f.session.Snapshot().Attachment, "composer cleared before the network call")

	close(release)
	require.NoError(t, <-done)
	list = f.session.Messages()
	require.Len(t, list, 1)
	assert.False(t, list[0].IsPlaceholder())
	assert.Equal(t, *nm.AttachmentURL, *list[0].AttachmentURL)
}

func TestChatSession_SendTimeoutRollsBack(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	f.session.opts.SendTimeout = 20 * time.Millisecond
	f.blockInserts(nil)

	_, err := f.session.Send(context.Background(), "slow")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.session.Messages())
	assert.Equal(t, "slow", f.session.Draft())
}

func TestChatSession_EmptyComposerIsRejected(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)

	_, err := f.session.Send(context.Background(), "   ")

	assert.ErrorIs(t, err, apperrors.ErrEmptyComposer)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, f.session.Messages())
}

func TestChatSession_RateLimitBlocksEleventhSend(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)

	for i := 0; i < 10; i++ {
		_, err := f.session.Send(context.Background(), "spam")
		require.NoError(t, err)
		f.advance(time.Second)
	}

	_, err := f.session.Send(context.Background(), "one more")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, 30, f.session.RateLimitSecondsRemaining())
	assert.Len(t, f.session.Messages(), 10)
	assert.Equal(t, "", f.session.Draft(), "rejected attempts do not touch the composer")

	f.advance(30 * time.Second)
	assert.Equal(t, 0, f.session.RateLimitSecondsRemaining())
	_, err = f.session.Send(context.Background(), "back again")
	assert.NoError(t, err)
}

func TestChatSession_PushFromCounterpartMarksReadAndAttachesIdentity(t *testing.T) {
	job := uuid.New()
	f := newChatFixture(t, domain.ScopeOf(&job))
	f.open(t)

	incoming := domain.Message{ID: uuid.NewString(), JobID: &job, SenderID: f.other, ReceiverID: uuidPtr(f.me), Content: "When can you start?", CreatedAt: f.now}
	f.store.add(incoming)
	f.push(incoming)

	require.Eventually(t, func() bool { return len(f.session.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	got := f.session.Messages()[0]
	assert.True(t, got.Read)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "Olga", got.Sender.DisplayName)
	assert.True(t, f.store.readFlag(incoming.ID))
	assert.Equal(t, 0, f.unread.Count())
}

func TestChatSession_DropsIrrelevantPushes(t *testing.T) {
	job := uuid.New()
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	stranger := uuid.New()

	f.push(domain.Message{ID: "other-thread", JobID: &job, SenderID: f.other, ReceiverID: uuidPtr(f.me), Content: "x"})
	f.push(domain.Message{ID: "stranger", SenderID: stranger, ReceiverID: uuidPtr(f.me), Content: "x"})
	f.push(domain.Message{ID: "to-someone-else", SenderID: f.me, ReceiverID: uuidPtr(stranger), Content: "x"})
	f.push(domain.Message{ID: "ok", SenderID: f.other, Content: "legacy push without receiver"})

	require.Eventually(t, func() bool { return len(f.session.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ok"}, f.messageIDs())
}

func TestChatSession_OpenMarksThreadRead(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.store.add(logMsg(f.other, f.me, nil, "unread 1", f.now))
	f.store.add(logMsg(f.other, f.me, nil, "unread 2", f.now.Add(time.Second)))
	_, err := f.unread.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, f.unread.Count())

	f.open(t)

	assert.Equal(t, 0, f.unread.Count())
	for _, m := range f.session.Messages() {
		assert.True(t, m.Read)
	}
}

func TestChatSession_CloseUnsubscribesAndReopenUsesFreshChannel(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	first := f.feed.last()

	require.NoError(t, f.session.Resubscribe(context.Background()))
	assert.Equal(t, 2, f.feed.count())
	assert.NotSame(t, first, f.feed.last())
	<-first.closed

	f.session.Close()
	<-f.feed.last().closed

	_, err := f.session.Send(context.Background(), "after close")
	assert.ErrorIs(t, err, apperrors.ErrSessionClosed)
}

func TestChatSession_SubscriptionFailureDegrades(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.feed.err = errStoreDown

	f.open(t)

	assert.True(t, f.session.Degraded())
	_, err := f.session.Send(context.Background(), "still works")
	assert.NoError(t, err)

	f.feed.err = nil
	require.NoError(t, f.session.Resubscribe(context.Background()))
	assert.False(t, f.session.Degraded())
}

func TestChatSession_FeedEndingDegrades(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)

	require.NoError(t, f.feed.last().Close())

	require.Eventually(t, f.session.Degraded, time.Second, 5*time.Millisecond)
}

func TestChatSession_RefreshDoesNotDuplicate(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	sent, err := f.session.Send(context.Background(), "persisted")
	require.NoError(t, err)

	require.NoError(t, f.session.Refresh(context.Background()))
	require.NoError(t, f.session.Refresh(context.Background()))

	assert.Equal(t, []string{sent.ID}, f.messageIDs())
}

func TestChatSession_TimeoutAfterPushKeepsDeliveredRow(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	f.session.opts.SendTimeout = 300 * time.Millisecond
	entered, _ := f.blockInserts(nil)

	type result struct {
		m   domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := f.session.Send(context.Background(), "made it")
		done <- result{m, err}
	}()

	<-entered
	durable := domain.Message{
		ID:         "durable-late",
		SenderID:   f.me,
		ReceiverID: uuidPtr(f.other),
		Content:    "made it",
		CreatedAt:  f.now.Add(10 * time.Millisecond),
	}
	f.push(durable)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"durable-late"}, f.messageIDs())
	}, time.Second, 5*time.Millisecond)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "durable-late", res.m.ID)
	assert.Equal(t, []string{"durable-late"}, f.messageIDs())
	assert.Equal(t, "", f.session.Draft())
	assert.Equal(t, domain.SendStateIdle, f.session.SendState())
	assert.Empty(t, f.session.Snapshot().Notice)
}

func TestChatSession_StrangerPushRefreshesUnread(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	require.Equal(t, 0, f.unread.Count())

	stray := domain.Message{ID: "stranger", SenderID: uuid.New(), ReceiverID: uuidPtr(f.me), Content: "hello?", CreatedAt: f.now}
	f.store.add(stray)
	f.push(stray)

	require.Eventually(t, func() bool { return f.unread.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.session.Messages())
}

func TestChatSession_UnreadChangeWakesWatchers(t *testing.T) {
	f := newChatFixture(t, domain.DirectScope)
	f.open(t)
	first, stopFirst := f.session.Watch()
	defer stopFirst()
	second, stopSecond := f.session.Watch()
	defer stopSecond()
	for _, ch := range []<-chan struct{}{first, second} {
		for len(ch) > 0 {
			<-ch
		}
	}

	f.store.add(logMsg(uuid.New(), f.me, nil, "elsewhere", f.now))
	_, err := f.unread.Refresh(context.Background())
	require.NoError(t, err)

	for _, ch := range []<-chan struct{}{first, second} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("watcher missed the unread change")
		}
	}
	assert.Equal(t, 1, f.session.Snapshot().UnreadCount)
}
