package nearest

import (
	"testing"

	"github.com/ponytojas/sensormap/internal/geo"
	"github.com/ponytojas/sensormap/internal/models"
)

func sensorAt(id int, lat, lon float64) models.Sensor {
	return models.Sensor{ID: id, Type: models.SensorTemperature, Latitude: lat, Longitude: lon}
}

func TestSelect_Empty(t *testing.T) {
	if _, ok := Select(nil, geo.Coordinate{}); ok {
		t.Error("Select on nil list should report no result")
	}
	if _, ok := Select([]models.Sensor{}, geo.Coordinate{Latitude: 10}); ok {
		t.Error("Select on empty list should report no result")
	}
}

func TestSelect_SingleCandidate(t *testing.T) {
	far := sensorAt(7, 60, 120)

	res, ok := Select([]models.Sensor{far}, geo.Coordinate{Latitude: -60, Longitude: -60})
	if !ok {
		t.Fatal("Expected a result for a single candidate")
	}
	if res.Sensor.ID != 7 {
		t.Errorf("Expected sensor 7, got %d", res.Sensor.ID)
	}
	if res.DistanceMeters <= 0 {
		t.Errorf("Expected positive distance, got %f", res.DistanceMeters)
	}
}

func TestSelect_TieKeepsFirst(t *testing.T) {
	pos := geo.Coordinate{Latitude: 0, Longitude: 0}
	sensors := []models.Sensor{
		sensorAt(3, 0, 1),
		sensorAt(4, 0, -1),
		sensorAt(5, 1, 0),
	}

	res, ok := Select(sensors, pos)
	if !ok {
		t.Fatal("Expected a result")
	}
	if res.Sensor.ID != 3 {
		t.Errorf("Expected first equidistant sensor (3), got %d", res.Sensor.ID)
	}
}

func TestSelect_ZeroDistanceWins(t *testing.T) {
	pos := geo.Coordinate{Latitude: 10, Longitude: 10}
	sensors := []models.Sensor{
		sensorAt(1, 10.001, 10),
		sensorAt(2, 10, 10),
		sensorAt(3, 10, 10),
	}

	res, _ := Select(sensors, pos)
	if res.Sensor.ID != 2 {
		t.Errorf("Expected sensor 2 at zero distance, got %d", res.Sensor.ID)
	}
	if res.DistanceMeters != 0 {
		t.Errorf("Expected zero distance, got %f", res.DistanceMeters)
	}
}

func TestSelect_Campinas(t *testing.T) {
	pos := geo.Coordinate{Latitude: -22.9140639, Longitude: -47.068686}
	sensors := []models.Sensor{
		sensorAt(1, -22.915, -47.0678),
		sensorAt(5, -22.920, -47.070),
	}

	res, ok := Select(sensors, pos)
	if !ok {
		t.Fatal("Expected a result")
	}
	if res.Sensor.ID != 1 {
		t.Errorf("Expected sensor 1, got %d", res.Sensor.ID)
	}

	other := geo.Distance(pos, sensors[1].Coordinate())
	if res.DistanceMeters > other {
		t.Errorf("Selected distance %f larger than alternative %f", res.DistanceMeters, other)
	}
}

func TestSelect_MinimumInvariant(t *testing.T) {
	pos := geo.Coordinate{Latitude: 40.4168, Longitude: -3.7038}
	sensors := []models.Sensor{
		sensorAt(1, 41.3874, 2.1686),
		sensorAt(2, 39.4699, -0.3763),
		sensorAt(3, 40.4530, -3.6883),
		sensorAt(4, 37.3891, -5.9845),
	}

	res, _ := Select(sensors, pos)
	for _, s := range sensors {
		if d := geo.Distance(pos, s.Coordinate()); d < res.DistanceMeters {
			t.Errorf("Sensor %d is closer (%f) than selected %d (%f)", s.ID, d, res.Sensor.ID, res.DistanceMeters)
		}
	}
	if res.Sensor.ID != 3 {
		t.Errorf("Expected sensor 3, got %d", res.Sensor.ID)
	}
}

func TestRank_OrderAndStability(t *testing.T) {
	pos := geo.Coordinate{Latitude: 0, Longitude: 0}
	sensors := []models.Sensor{
		sensorAt(1, 0, 3),
		sensorAt(2, 0, 1),
		sensorAt(3, 0, -1),
		sensorAt(4, 0, 2),
	}

	ranked := Rank(sensors, pos)
	expected := []int{2, 3, 4, 1}
	if len(ranked) != len(expected) {
		t.Fatalf("Expected %d results, got %d", len(expected), len(ranked))
	}
	for i, id := range expected {
		if ranked[i].Sensor.ID != id {
			t.Errorf("Position %d: expected sensor %d, got %d", i, id, ranked[i].Sensor.ID)
		}
	}

	first, _ := Select(sensors, pos)
	if ranked[0].Sensor.ID != first.Sensor.ID {
		t.Errorf("Rank and Select disagree: %d vs %d", ranked[0].Sensor.ID, first.Sensor.ID)
	}
}
