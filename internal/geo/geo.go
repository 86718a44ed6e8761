package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
// Ranges are not validated.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the great-circle distance between a and b in meters
// using the haversine formula on a sphere of radius EarthRadiusMeters.
func Distance(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := hav(dLat) + math.Cos(lat1)*math.Cos(lat2)*hav(dLon)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func hav(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
