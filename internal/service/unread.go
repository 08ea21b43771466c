package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gig_marketplace/pkg/logger"
)

// UnreadCounter caches the number of unread messages addressed to one user.
type UnreadCounter struct {
	store  MessageStore
	userID uuid.UUID
	log    logger.Logger

	mu        sync.RWMutex
	count     int
	nextID    int
	listeners map[int]func(int)
}

func NewUnreadCounter(store MessageStore, userID uuid.UUID, log logger.Logger) *UnreadCounter {
	return &UnreadCounter{store: store, userID: userID, log: log, listeners: make(map[int]func(int))}
}

// OnChange registers fn to be called after a refresh changes the count. The returned
// func unregisters it.
func (c *UnreadCounter) OnChange(fn func(int)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Refresh recounts from the store. On failure the previous count is kept.
func (c *UnreadCounter) Refresh(ctx context.Context) (int, error) {
	n, err := c.store.CountUnread(ctx, c.userID)
	if err != nil {
		c.log.Warn("Failed to refresh unread count", "error", err, "user_id", c.userID)
		return c.Count(), err
	}

	c.mu.Lock()
	changed := n != c.count
	c.count = n
	var notify []func(int)
	if changed {
		for _, fn := range c.listeners {
			notify = append(notify, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range notify {
		fn(n)
	}
	return n, nil
}

func (c *UnreadCounter) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Poll refreshes every interval until ctx is done.
func (c *UnreadCounter) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = c.Refresh(ctx)
		}
	}
}
