package nearest

import (
	"sort"

	"github.com/ponytojas/sensormap/internal/geo"
	"github.com/ponytojas/sensormap/internal/models"
)

// Result pairs a sensor with its distance to the reference position.
type Result struct {
	Sensor         models.Sensor
	DistanceMeters float64
}

// Select returns the sensor closest to pos. ok is false when sensors is empty.
// Ties keep the first sensor encountered.
func Select(sensors []models.Sensor, pos geo.Coordinate) (best Result, ok bool) {
	for _, s := range sensors {
		d := geo.Distance(pos, s.Coordinate())
		if !ok || d < best.DistanceMeters {
			best = Result{Sensor: s, DistanceMeters: d}
			ok = true
		}
	}
	return best, ok
}

// Rank returns every sensor ordered by distance to pos, closest first.
// Equidistant sensors keep their input order.
func Rank(sensors []models.Sensor, pos geo.Coordinate) []Result {
	ranked := make([]Result, 0, len(sensors))
	for _, s := range sensors {
		ranked = append(ranked, Result{Sensor: s, DistanceMeters: geo.Distance(pos, s.Coordinate())})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DistanceMeters < ranked[j].DistanceMeters
	})
	return ranked
}
