package location

import (
	"context"
	"testing"
	"time"

	"github.com/ponytojas/sensormap/internal/models"
)

func TestFilter_Accept(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := Filter{MinDistance: 1, MinInterval: time.Second}

	steps := []struct {
		name   string
		pos    models.Position
		accept bool
	}{
		{"first always passes", models.Position{Latitude: 0, Longitude: 0, Timestamp: base}, true},
		{"too soon", models.Position{Latitude: 0.001, Longitude: 0, Timestamp: base.Add(500 * time.Millisecond)}, false},
		{"too close", models.Position{Latitude: 0.000001, Longitude: 0, Timestamp: base.Add(2 * time.Second)}, false},
		{"moved and waited", models.Position{Latitude: 0.001, Longitude: 0, Timestamp: base.Add(2 * time.Second)}, true},
		{"measured from last accepted", models.Position{Latitude: 0.001005, Longitude: 0, Timestamp: base.Add(4 * time.Second)}, false},
		{"far again", models.Position{Latitude: 0.002, Longitude: 0, Timestamp: base.Add(5 * time.Second)}, true},
	}

	for _, s := range steps {
		if got := f.Accept(s.pos); got != s.accept {
			t.Errorf("%s: Accept = %v, expected %v", s.name, got, s.accept)
		}
	}
}

func TestFilter_RecoversFromFutureTimestamp(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := Filter{MinDistance: 1, MinInterval: time.Second}

	f.Accept(models.Position{Latitude: 0, Timestamp: base})
	// tst sent in milliseconds lands far in the future
	if !f.Accept(models.Position{Latitude: 0.001, Timestamp: base.Add(24 * 365 * time.Hour)}) {
		t.Fatal("Expected the skewed sample to pass the interval check")
	}

	if !f.Accept(models.Position{Latitude: 0.001, Timestamp: base.Add(2 * time.Second)}) {
		t.Error("Expected a sample older than the last one to reset the filter")
	}
	if !f.Accept(models.Position{Latitude: 0.002, Timestamp: base.Add(4 * time.Second)}) {
		t.Error("Expected normal filtering to resume after the reset")
	}
	if f.Accept(models.Position{Latitude: 0.002, Timestamp: base.Add(4500 * time.Millisecond)}) {
		t.Error("Expected interval check to apply again after the reset")
	}
}

func TestFilter_ZeroValueAcceptsAll(t *testing.T) {
	var f Filter
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !f.Accept(models.Position{Timestamp: now}) {
			t.Errorf("Zero filter rejected sample %d", i)
		}
	}
}

// chanWatcher hands out a subscription fed by the test.
type chanWatcher struct {
	sub *Subscription
}

func (c *chanWatcher) Watch(ctx context.Context) (*Subscription, error) {
	return c.sub, nil
}

func TestFiltered(t *testing.T) {
	inner := newSubscription(4, nil)
	w := Filtered(&chanWatcher{sub: inner}, 1, time.Second)

	sub, err := w.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	base := time.Now()
	inner.samples <- models.Position{Latitude: 1, Timestamp: base}
	inner.samples <- models.Position{Latitude: 1, Timestamp: base.Add(10 * time.Millisecond)}

	select {
	case p := <-sub.Samples():
		if p.Latitude != 1 || !p.Timestamp.Equal(base) {
			t.Errorf("Unexpected first sample %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("First sample was not forwarded")
	}

	inner.samples <- models.Position{Latitude: 2, Timestamp: base.Add(2 * time.Second)}
	select {
	case p := <-sub.Samples():
		if p.Latitude != 2 {
			t.Errorf("Expected the moved sample, got %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("Moved sample was not forwarded")
	}

	sub.Cancel()
	waitClosed(t, sub.Samples())
	select {
	case <-inner.Done():
	default:
		t.Error("Cancelling the filtered subscription should cancel the inner one")
	}
}

func TestFiltered_InnerClosed(t *testing.T) {
	inner := newSubscription(1, nil)
	sub, err := Filtered(&chanWatcher{sub: inner}, 0, 0).Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	close(inner.samples)
	waitClosed(t, sub.Samples())
}
