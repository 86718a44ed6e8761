package location

import (
	"context"
	"errors"
	"sync"

	"github.com/ponytojas/sensormap/internal/models"
)

var (
	// ErrPermissionDenied is returned when the source refuses access, e.g.
	// the broker rejects the configured credentials.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrUnavailable is returned when the source cannot be reached.
	ErrUnavailable = errors.New("location unavailable")
)

// Watcher starts position subscriptions.
type Watcher interface {
	Watch(ctx context.Context) (*Subscription, error)
}

// Subscription is a live stream of position samples. It ends when Cancel is
// called or the context passed to Watch is done, after which Samples is
// closed. A subscription cannot be restarted.
type Subscription struct {
	samples chan models.Position
	done    chan struct{}
	once    sync.Once
	release func()
}

// newSubscription creates a subscription whose release func runs exactly
// once on cancellation.
func newSubscription(buffer int, release func()) *Subscription {
	return &Subscription{
		samples: make(chan models.Position, buffer),
		done:    make(chan struct{}),
		release: release,
	}
}

// Samples returns the sample stream.
func (s *Subscription) Samples() <-chan models.Position {
	return s.samples
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// deliver hands p to the consumer, dropping the oldest buffered sample if
// the consumer is behind. It returns false once the subscription is done.
func (s *Subscription) deliver(p models.Position) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	for {
		select {
		case s.samples <- p:
			return true
		case <-s.done:
			return false
		default:
			// Newer samples supersede older ones
			select {
			case <-s.samples:
			default:
			}
		}
	}
}

// watchContext cancels s when ctx ends.
func watchContext(ctx context.Context, s *Subscription) {
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()
}
