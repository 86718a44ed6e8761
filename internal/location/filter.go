package location

import (
	"context"
	"time"

	"github.com/ponytojas/sensormap/internal/geo"
	"github.com/ponytojas/sensormap/internal/models"
)

// Filter drops samples that arrive too soon or moved too little since the
// last accepted sample. The zero value accepts everything.
type Filter struct {
	MinDistance float64
	MinInterval time.Duration

	last    models.Position
	hasLast bool
}

// Accept reports whether p should be forwarded and, if so, remembers it.
func (f *Filter) Accept(p models.Position) bool {
	if !f.hasLast {
		f.last, f.hasLast = p, true
		return true
	}

	elapsed := p.Timestamp.Sub(f.last.Timestamp)
	if elapsed < 0 {
		// Clock went backwards, e.g. after a skewed sample; start over
		f.last = p
		return true
	}
	if f.MinInterval > 0 && elapsed < f.MinInterval {
		return false
	}
	if f.MinDistance > 0 && geo.Distance(f.last.Coordinate(), p.Coordinate()) < f.MinDistance {
		return false
	}

	f.last = p
	return true
}

// Filtered wraps a watcher so its subscriptions only carry samples accepted
// by a fresh Filter{minDistance, minInterval}.
func Filtered(w Watcher, minDistance float64, minInterval time.Duration) Watcher {
	return &filteredWatcher{inner: w, minDistance: minDistance, minInterval: minInterval}
}

type filteredWatcher struct {
	inner       Watcher
	minDistance float64
	minInterval time.Duration
}

func (fw *filteredWatcher) Watch(ctx context.Context) (*Subscription, error) {
	inner, err := fw.inner.Watch(ctx)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(1, inner.Cancel)
	watchContext(ctx, sub)

	go func() {
		defer close(sub.samples)
		filter := Filter{MinDistance: fw.minDistance, MinInterval: fw.minInterval}
		for {
			select {
			case p, ok := <-inner.Samples():
				if !ok {
					sub.Cancel()
					return
				}
				if filter.Accept(p) && !sub.deliver(p) {
					return
				}
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}
