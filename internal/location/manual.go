package location

import (
	"context"
	"sync"

	"github.com/ponytojas/sensormap/internal/models"
)

// Manual is a Watcher fed by Push, for positions that come from the caller
// rather than from a device.
type Manual struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewManual creates a Manual watcher with no subscribers.
func NewManual() *Manual {
	return &Manual{subs: make(map[*Subscription]struct{})}
}

// Watch implements Watcher.
func (m *Manual) Watch(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(1, func() {
		m.mu.Lock()
		delete(m.subs, sub)
		close(sub.samples)
		m.mu.Unlock()
	})

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	watchContext(ctx, sub)
	return sub, nil
}

// Push sends p to every live subscription.
func (m *Manual) Push(p models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		sub.deliver(p)
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
