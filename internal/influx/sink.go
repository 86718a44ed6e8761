package influx

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/models"
)

// Measurement is the InfluxDB measurement results are written to.
const Measurement = "nearest_sensor"

// Sink writes nearest-sensor results to an InfluxDB v2 bucket.
type Sink struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewSink creates a sink from the influx section of cfg.
func NewSink(cfg *config.Config) *Sink {
	return &Sink{
		client: influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token),
		org:    cfg.Influx.Org,
		bucket: cfg.Influx.Bucket,
	}
}

// Record writes result as a single point.
func (s *Sink) Record(ctx context.Context, result models.NearestResult) error {
	writeAPI := s.client.WriteAPIBlocking(s.org, s.bucket)
	if err := writeAPI.WritePoint(ctx, newPoint(result)); err != nil {
		return fmt.Errorf("failed to write point to influx: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	s.client.Close()
}

func newPoint(r models.NearestResult) *write.Point {
	ts := r.ComputedAt
	if ts.IsZero() {
		ts = r.Position.Timestamp
	}

	return influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("sensor_id", strconv.Itoa(r.Sensor.ID)).
		AddTag("sensor_type", string(r.Sensor.Type)).
		AddField("distance_m", r.DistanceMeters).
		AddField("latitude", r.Position.Latitude).
		AddField("longitude", r.Position.Longitude).
		SetTime(ts)
}
