package service

import (
	"math"
	"sync"
	"time"
)

type RateLimitOptions struct {
	Window   time.Duration
	Capacity int
	Cooldown time.Duration
}

// SendRateLimiter gates one composer. It keeps the send timestamps of the last Window;
// reaching Capacity inside the window bans all sends for Cooldown, after which the
// window starts empty again instead of decaying.
type SendRateLimiter struct {
	mu            sync.Mutex
	opt           RateLimitOptions
	sent          []time.Time
	cooldownUntil time.Time
}

func NewSendRateLimiter(opt RateLimitOptions) *SendRateLimiter {
	if opt.Window <= 0 {
		opt.Window = 30 * time.Second
	}
	if opt.Capacity <= 0 {
		opt.Capacity = 10
	}
	if opt.Cooldown <= 0 {
		opt.Cooldown = 30 * time.Second
	}
	return &SendRateLimiter{opt: opt}
}

// TryAcquire records a send at now if allowed.
func (l *SendRateLimiter) TryAcquire(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tick(now)
	if !l.cooldownUntil.IsZero() {
		return false
	}

	l.prune(now)
	if len(l.sent) >= l.opt.Capacity {
		// the rejected attempt is not recorded
		l.cooldownUntil = now.Add(l.opt.Cooldown)
		return false
	}

	l.sent = append(l.sent, now)
	return true
}

// Tick advances the cooldown clock and reports whether the composer is still banned.
func (l *SendRateLimiter) Tick(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick(now)
	return !l.cooldownUntil.IsZero()
}

// SecondsRemaining is the cooldown left, rounded up, or 0 when sends are accepted.
func (l *SendRateLimiter) SecondsRemaining(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tick(now)
	if l.cooldownUntil.IsZero() {
		return 0
	}
	return int(math.Ceil(l.cooldownUntil.Sub(now).Seconds()))
}

// InWindow returns how many accepted sends are inside the window at now.
func (l *SendRateLimiter) InWindow(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick(now)
	l.prune(now)
	return len(l.sent)
}

func (l *SendRateLimiter) tick(now time.Time) {
	if l.cooldownUntil.IsZero() || now.Before(l.cooldownUntil) {
		return
	}
	l.cooldownUntil = time.Time{}
	l.sent = nil
}

func (l *SendRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.opt.Window)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append([]time.Time(nil), l.sent[i:]...)
	}
}
