package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/pkg/logger"
)

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu       sync.Mutex
	rows     []domain.Message
	clock    func() time.Time
	seq      int
	// insertFn may fail the insert or dictate the stored row (when it returns an id)
	insertFn func(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	fetchErr error
	marked   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{clock: time.Now}
}

func (s *fakeStore) add(m domain.Message) {
	s.mu.Lock()
	s.rows = append(s.rows, m)
	s.mu.Unlock()
}

func (s *fakeStore) FetchForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []domain.Message
	for _, m := range s.rows {
		if m.Touches(userID) || (m.ReceiverID == nil && m.JobID != nil) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) FetchThread(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []domain.Message
	for _, m := range s.rows {
		if m.Scope() != scope {
			continue
		}
		if (m.SenderID == userID && m.IsTo(otherID)) || (m.SenderID == otherID && m.IsTo(userID)) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
	var forced domain.Message
	if s.insertFn != nil {
		m, err := s.insertFn(ctx, nm)
		if err != nil {
			return domain.Message{}, err
		}
		forced = m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if forced.ID != "" {
		s.rows = append(s.rows, forced)
		return forced, nil
	}
	s.seq++
	receiver := nm.ReceiverID
	m := domain.Message{
		ID:             uuid.NewString(),
		JobID:          nm.JobID,
		SenderID:       nm.SenderID,
		ReceiverID:     &receiver,
		Content:        nm.Content,
		AttachmentURL:  nm.AttachmentURL,
		AttachmentType: nm.AttachmentType,
		CreatedAt:      s.clock().Add(time.Duration(s.seq) * time.Millisecond),
	}
	s.rows = append(s.rows, m)
	return m, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, id)
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].Read = true
		}
	}
	return nil
}

func (s *fakeStore) MarkThreadRead(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rows {
		m := &s.rows[i]
		if m.SenderID == otherID && m.IsTo(userID) && m.Scope() == scope && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.rows {
		if m.IsTo(userID) && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) readFlag(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.ID == id {
			return m.Read
		}
	}
	return false
}

type fakeFiles struct {
	mu      sync.Mutex
	err     error
	uploads map[string][]byte
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{uploads: make(map[string][]byte)}
}

func (f *fakeFiles) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads[bucket+"/"+path] = data
	return "https://files.example.com/" + bucket + "/" + path, nil
}

type fakeIdentities struct {
	mu    sync.Mutex
	known map[uuid.UUID]domain.Identity
	calls [][]uuid.UUID
	err   error
}

func newFakeIdentities(idents ...domain.Identity) *fakeIdentities {
	f := &fakeIdentities{known: make(map[uuid.UUID]domain.Identity)}
	for _, i := range idents {
		f.known[i.ID] = i
	}
	return f
}

func (f *fakeIdentities) LookupIdentities(ctx context.Context, ids []uuid.UUID) ([]domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]uuid.UUID(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Identity
	for _, id := range ids {
		if ident, ok := f.known[id]; ok {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (f *fakeIdentities) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeJobs struct {
	jobs map[uuid.UUID]domain.Job
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[uuid.UUID]domain.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) LookupJobs(ctx context.Context, ids []uuid.UUID) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeSubscription struct {
	ch        chan domain.Message
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *fakeSubscription) Events() <-chan domain.Message { return s.ch }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.ch)
	})
	return nil
}

// fakeFeed hands out one fresh subscription per Subscribe call.
type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSubscription
	err  error
}

func (f *fakeFeed) Subscribe(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSubscription{ch: make(chan domain.Message, 16), closed: make(chan struct{})}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) last() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func testLogger() logger.Logger {
	return logger.NewNop()
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
