package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/service"
	"gig_marketplace/pkg/logger"
)

var ErrFeedOffline = errors.New("realtime feed is not listening")

const subscriptionBuffer = 64

// PostgresFeed fans NOTIFY events for inserted messages out to per-user subscriptions.
// The trigger publishes only the row id; the row is read back once per notification.
type PostgresFeed struct {
	pool    *pgxpool.Pool
	channel string
	log     logger.Logger

	mu        sync.Mutex
	listening bool
	subs      map[*pgSubscription]struct{}
}

func NewPostgresFeed(pool *pgxpool.Pool, channel string, log logger.Logger) *PostgresFeed {
	return &PostgresFeed{
		pool:    pool,
		channel: channel,
		log:     log,
		subs:    make(map[*pgSubscription]struct{}),
	}
}

// Run holds one pooled connection in LISTEN until ctx is done or the connection fails.
// Every open subscription is ended when Run returns so its session can degrade.
func (f *PostgresFeed) Run(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}

	f.setListening(true)
	defer f.shutdown()
	f.log.Info("Realtime feed listening", "channel", f.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Error("Realtime listener failed", "error", err, "channel", f.channel)
			return err
		}

		m, err := f.load(ctx, n.Payload)
		if err != nil {
			f.log.Warn("Failed to load notified message", "error", err, "message_id", n.Payload)
			continue
		}
		f.dispatch(m)
	}
}

func (f *PostgresFeed) load(ctx context.Context, id string) (domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Message{}, err
	}
	return scanMessage(f.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1::uuid`, id))
}

// Subscribe registers userID for rows it sent or received. Legacy rows without a receiver
// reach only their sender.
func (f *PostgresFeed) Subscribe(ctx context.Context, userID uuid.UUID) (service.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.listening {
		return nil, ErrFeedOffline
	}
	sub := &pgSubscription{feed: f, userID: userID, ch: make(chan domain.Message, subscriptionBuffer)}
	f.subs[sub] = struct{}{}
	return sub, nil
}

func (f *PostgresFeed) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *PostgresFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *PostgresFeed) dispatch(m domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		if !m.Touches(sub.userID) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			// a consumer this far behind refetches after it degrades
			f.log.Warn("Realtime subscriber too slow, closing", "user_id", sub.userID)
			f.removeLocked(sub)
		}
	}
}

func (f *PostgresFeed) setListening(v bool) {
	f.mu.Lock()
	f.listening = v
	f.mu.Unlock()
}

func (f *PostgresFeed) shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listening = false
	for sub := range f.subs {
		f.removeLocked(sub)
	}
}

func (f *PostgresFeed) removeLocked(sub *pgSubscription) {
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.ch)
}

type pgSubscription struct {
	feed   *PostgresFeed
	userID uuid.UUID
	ch     chan domain.Message
}

func (s *pgSubscription) Events() <-chan domain.Message {
	return s.ch
}

func (s *pgSubscription) Close() error {
	s.feed.mu.Lock()
	s.feed.removeLocked(s)
	s.feed.mu.Unlock()
	return nil
}
