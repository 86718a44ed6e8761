package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/api"
	"github.com/ponytojas/sensormap/internal/location"
	"github.com/ponytojas/sensormap/internal/models"
	"github.com/ponytojas/sensormap/internal/nearest"
)

// Status messages shown in place of a result.
const (
	MsgLocationUnavailable = "location unavailable"
	MsgWaitingForPosition  = "waiting for position"
	MsgWaitingForSensors   = "waiting for sensor list"
	MsgNoSensors           = "no sensors registered"
)

// Directory lists the registered sensors.
type Directory interface {
	ListSensors(ctx context.Context) ([]models.Sensor, error)
}

// ResultSink receives every new nearest-sensor result.
type ResultSink interface {
	Record(ctx context.Context, result models.NearestResult) error
}

// Options configures a Tracker.
type Options struct {
	RefreshMode     string
	RefreshInterval time.Duration
	MinDistance     float64
	MinInterval     time.Duration
	Sinks           []ResultSink
	// SinkTimeout bounds each ResultSink.Record call.
	SinkTimeout time.Duration
	// OnResult is called from the tracker goroutine for every new result.
	OnResult func(models.NearestResult)
}

// OptionsFromConfig maps the refresh and location sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RefreshMode:     cfg.Refresh.Mode,
		RefreshInterval: cfg.Refresh.Interval,
		MinDistance:     cfg.Location.MinDistance,
		MinInterval:     cfg.Location.MinInterval,
	}
}

// Snapshot is an immutable view of the tracker state.
type Snapshot struct {
	Position    *models.Position      `json:"position,omitempty"`
	Sensors     []models.Sensor       `json:"sensors"`
	Result      *models.NearestResult `json:"result,omitempty"`
	LocationErr error                 `json:"-"`
	LastError   error                 `json:"-"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// AuthExpired reports whether the last directory fetch was rejected for an
// expired or missing token.
func (s *Snapshot) AuthExpired() bool {
	return errors.Is(s.LastError, api.ErrAuthExpired)
}

// Message returns the placeholder text to show when there is no result.
func (s *Snapshot) Message() string {
	switch {
	case s.Result != nil:
		return ""
	case s.LocationErr != nil:
		return MsgLocationUnavailable
	case s.Position == nil:
		return MsgWaitingForPosition
	case s.Sensors == nil:
		if s.LastError != nil {
			return s.LastError.Error()
		}
		return MsgWaitingForSensors
	default:
		return MsgNoSensors
	}
}

// sinkBacklog is how many results may wait for slow sinks.
const sinkBacklog = 16

type fetchResult struct {
	sensors []models.Sensor
	err     error
}

// Tracker keeps the nearest sensor up to date as the position and the
// sensor list change.
type Tracker struct {
	dir     Directory
	watcher location.Watcher
	opts    Options
	now     func() time.Time

	snap atomic.Pointer[Snapshot]

	// Owned by the Run goroutine
	state   Snapshot
	pending chan models.NearestResult
}

// New creates a tracker. Run must be called to start it.
func New(dir Directory, watcher location.Watcher, opts Options) *Tracker {
	if opts.RefreshMode == "" {
		opts.RefreshMode = config.RefreshPoll
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}

	t := &Tracker{
		dir:     dir,
		watcher: watcher,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
	t.snap.Store(&Snapshot{})
	return t
}

// Snapshot returns the latest published state. It is safe to call from any
// goroutine.
func (t *Tracker) Snapshot() *Snapshot {
	return t.snap.Load()
}

// Run drives the tracker until ctx is done. It returns an error only if the
// location source fails in a way other than being denied or unreachable.
func (t *Tracker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var samples <-chan models.Position
	sub, err := location.Filtered(t.watcher, t.opts.MinDistance, t.opts.MinInterval).Watch(ctx)
	switch {
	case err == nil:
		defer sub.Cancel()
		samples = sub.Samples()
	case errors.Is(err, location.ErrPermissionDenied), errors.Is(err, location.ErrUnavailable):
		log.Printf("[TRACKER] Location source failed, continuing without position: %v", err)
		t.state.LocationErr = err
	case ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("failed to start location updates: %w", err)
	}
	t.publish()

	if len(t.opts.Sinks) > 0 {
		t.pending = make(chan models.NearestResult, sinkBacklog)
		sinksDone := make(chan struct{})
		go t.recordLoop(ctx, sinksDone)
		defer func() {
			cancel()
			close(t.pending)
			<-sinksDone
		}()
	}

	fetched := make(chan fetchResult, 1)
	inFlight := true
	go t.fetch(ctx, fetched)

	var tick <-chan time.Time
	if t.opts.RefreshMode == config.RefreshPoll {
		ticker := time.NewTicker(t.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("[TRACKER] Stopped")
			return nil

		case p, ok := <-samples:
			if !ok {
				log.Println("[TRACKER] Location stream ended")
				samples = nil
				t.state.LocationErr = location.ErrUnavailable
				t.publish()
				continue
			}
			t.state.Position = &p
			t.recompute()

		case r := <-fetched:
			inFlight = false
			if r.err != nil {
				if errors.Is(r.err, api.ErrAuthExpired) {
					log.Printf("[TRACKER] Session expired, log in again: %v", r.err)
				} else {
					log.Printf("[TRACKER] Failed to refresh sensors: %v", r.err)
				}
				t.state.LastError = r.err
				t.publish()
				continue
			}
			t.state.LastError = nil
			t.state.Sensors = r.sensors
			t.recompute()

		case <-tick:
			if inFlight {
				continue
			}
			inFlight = true
			go t.fetch(ctx, fetched)
		}
	}
}

// fetch lists the sensors and hands the outcome back to Run. Results that
// arrive after Run has returned are dropped.
func (t *Tracker) fetch(ctx context.Context, out chan<- fetchResult) {
	sensors, err := t.dir.ListSensors(ctx)
	if sensors == nil && err == nil {
		sensors = []models.Sensor{}
	}
	select {
	case out <- fetchResult{sensors: sensors, err: err}:
	case <-ctx.Done():
	}
}

func (t *Tracker) recompute() {
	if t.state.Position == nil || t.state.Sensors == nil {
		t.publish()
		return
	}

	prev := t.state.Result
	best, ok := nearest.Select(t.state.Sensors, t.state.Position.Coordinate())
	if !ok {
		t.state.Result = nil
		t.publish()
		return
	}

	result := &models.NearestResult{
		Sensor:         best.Sensor,
		DistanceMeters: best.DistanceMeters,
		Position:       *t.state.Position,
		ComputedAt:     t.now(),
	}
	t.state.Result = result

	if !changed(prev, result) {
		t.publish()
		return
	}
	if t.opts.OnResult != nil {
		t.opts.OnResult(*result)
	}
	t.publish()
	if t.pending != nil {
		enqueue(t.pending, *result)
	}
}

// recordLoop hands queued results to the sinks until pending is closed.
// A slow sink delays only the history, never the tracker loop.
func (t *Tracker) recordLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for result := range t.pending {
		for _, sink := range t.opts.Sinks {
			recordCtx, cancel := context.WithTimeout(ctx, t.opts.SinkTimeout)
			if err := sink.Record(recordCtx, result); err != nil {
				log.Printf("[TRACKER] Failed to record result: %v", err)
			}
			cancel()
		}
	}
}

// enqueue adds r to ch, dropping the oldest queued result when ch is full.
func enqueue(ch chan models.NearestResult, r models.NearestResult) {
	for {
		select {
		case ch <- r:
			return
		default:
		}
		select {
		case old := <-ch:
			log.Printf("[TRACKER] Sink backlog full, dropping result for sensor %d", old.Sensor.ID)
		default:
		}
	}
}

func (t *Tracker) publish() {
	s := t.state
	s.UpdatedAt = t.now()
	t.snap.Store(&s)
}

func changed(prev, next *models.NearestResult) bool {
	if prev == nil {
		return true
	}
	return prev.Sensor.ID != next.Sensor.ID || prev.DistanceMeters != next.DistanceMeters
}
