package service

import "sync"

// changeSignal fans a session's change notifications out to any number of listeners,
// each with its own coalescing channel so one slow reader never steals another's signal.
type changeSignal struct {
	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

func newChangeSignal() *changeSignal {
	return &changeSignal{listeners: make(map[chan struct{}]struct{})}
}

func (c *changeSignal) watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, ch)
			c.mu.Unlock()
		})
	}
}

func (c *changeSignal) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
