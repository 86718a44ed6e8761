package location

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ponytojas/sensormap/internal/models"
)

func waitClosed(t *testing.T, ch <-chan models.Position) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Sample channel was not closed")
		}
	}
}

func TestSubscription_CancelIdempotent(t *testing.T) {
	var released int32
	sub := newSubscription(1, func() { atomic.AddInt32(&released, 1) })

	sub.Cancel()
	sub.Cancel()
	sub.Cancel()

	if n := atomic.LoadInt32(&released); n != 1 {
		t.Errorf("Expected release to run once, ran %d times", n)
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done should be closed after Cancel")
	}
}

func TestSubscription_DeliverKeepsLatest(t *testing.T) {
	sub := newSubscription(1, nil)

	for i := 1; i <= 3; i++ {
		if !sub.deliver(models.Position{Latitude: float64(i)}) {
			t.Fatalf("deliver %d failed", i)
		}
	}

	p := <-sub.Samples()
	if p.Latitude != 3 {
		t.Errorf("Expected latest sample (3), got %v", p.Latitude)
	}

	sub.Cancel()
	if sub.deliver(models.Position{Latitude: 4}) {
		t.Error("deliver should fail after Cancel")
	}
}

func TestStaticWatcher(t *testing.T) {
	w := NewStaticWatcher(-22.9140639, -47.068686)

	sub, err := w.Watch(context.Background())
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	select {
	case p := <-sub.Samples():
		if p.Latitude != -22.9140639 || p.Longitude != -47.068686 {
			t.Errorf("Unexpected position: %+v", p)
		}
		if p.Source != "static" {
			t.Errorf("Expected static source, got %q", p.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("No sample received")
	}

	sub.Cancel()
	waitClosed(t, sub.Samples())
	sub.Cancel()
}

func TestStaticWatcher_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := NewStaticWatcher(1, 2).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cancel()
	waitClosed(t, sub.Samples())

	if _, err := NewStaticWatcher(1, 2).Watch(ctx); err == nil {
		t.Error("Watch on a cancelled context should fail")
	}
}

func TestManual_PushAndCancel(t *testing.T) {
	m := NewManual()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if m.Subscribers() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", m.Subscribers())
	}

	m.Push(models.Position{Latitude: 3, Longitude: 4})
	select {
	case p := <-sub.Samples():
		if p.Latitude != 3 || p.Longitude != 4 {
			t.Errorf("Unexpected sample %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("Pushed sample not received")
	}

	cancel()
	waitClosed(t, sub.Samples())
	if m.Subscribers() != 0 {
		t.Errorf("Expected subscriber to be removed, got %d", m.Subscribers())
	}

	// Pushing with no subscribers is a no-op
	m.Push(models.Position{Latitude: 5})
}
