package service

import (
	"context"

	"github.com/google/uuid"

	"gig_marketplace/internal/domain"
	"gig_marketplace/internal/metrics"
	apperrors "gig_marketplace/pkg/errors"
	"gig_marketplace/pkg/logger"
)

// feedLoop owns one subscription and the goroutine draining it.
type feedLoop struct {
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// startFeed subscribes and drains events with drain until stopped. onEnd runs when the
// feed closes on its own.
func startFeed(ctx context.Context, feed InsertFeed, userID uuid.UUID, drain func(context.Context, <-chan domain.Message) bool, onEnd func()) (*feedLoop, error) {
	sub, err := feed.Subscribe(ctx, userID)
	if err != nil {
		metrics.SubscriptionFailures.Inc()
		return nil, apperrors.Subscription("subscribe", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &feedLoop{sub: sub, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		if ended := drain(runCtx, sub.Events()); ended && runCtx.Err() == nil {
			metrics.SubscriptionFailures.Inc()
			onEnd()
		}
	}()
	return l, nil
}

func (l *feedLoop) stop(log logger.Logger) {
	if l == nil {
		return
	}
	l.cancel()
	if err := l.sub.Close(); err != nil {
		log.Warn("Failed to close realtime subscription", "error", err)
	}
	<-l.done
}
