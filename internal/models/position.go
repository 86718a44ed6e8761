package models

import (
	"time"

	"github.com/ponytojas/sensormap/internal/geo"
)

// Position is one reading from a location source.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Coordinate returns the sample position.
func (p Position) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// NearestResult is the outcome of one nearest-sensor computation.
type NearestResult struct {
	Sensor         Sensor    `json:"sensor"`
	DistanceMeters float64   `json:"distance_m"`
	Position       Position  `json:"position"`
	ComputedAt     time.Time `json:"computed_at"`
}
