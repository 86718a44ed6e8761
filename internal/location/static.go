package location

import (
	"context"
	"time"

	"github.com/ponytojas/sensormap/internal/geo"
	"github.com/ponytojas/sensormap/internal/models"
)

// StaticWatcher reports a single fixed position and then stays silent until
// cancelled. It stands in for a device without a live location source.
type StaticWatcher struct {
	Position geo.Coordinate
}

// NewStaticWatcher creates a watcher fixed at lat/lon.
func NewStaticWatcher(lat, lon float64) *StaticWatcher {
	return &StaticWatcher{Position: geo.Coordinate{Latitude: lat, Longitude: lon}}
}

// Watch implements Watcher.
func (w *StaticWatcher) Watch(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(1, nil)
	watchContext(ctx, sub)

	go func() {
		defer close(sub.samples)
		sub.deliver(models.Position{
			Latitude:  w.Position.Latitude,
			Longitude: w.Position.Longitude,
			Timestamp: time.Now().UTC(),
			Source:    "static",
		})
		<-sub.done
	}()

	return sub, nil
}
