package models

import (
	"github.com/ponytojas/sensormap/internal/geo"
)

// SensorType is the kind of measurement a sensor reports. The remote API
// accepts other values as well; unknown types are kept as-is.
type SensorType string

const (
	SensorTemperature SensorType = "Temperatura"
	SensorCounter     SensorType = "Contador"
	SensorHumidity    SensorType = "Umidade"
	SensorLuminosity  SensorType = "Luminosidade"
)

// KnownSensorTypes lists the types offered when registering a sensor.
var KnownSensorTypes = []SensorType{
	SensorTemperature,
	SensorCounter,
	SensorHumidity,
	SensorLuminosity,
}

// Known reports whether t is one of KnownSensorTypes.
func (t SensorType) Known() bool {
	for _, k := range KnownSensorTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Sensor is a snapshot of a sensor record owned by the remote service.
type Sensor struct {
	ID          int        `json:"id,omitempty"`
	Type        SensorType `json:"tipo"`
	MACAddress  *string    `json:"mac_address"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Location    string     `json:"localizacao"`
	Responsible string     `json:"responsavel"`
	Unit        string     `json:"unidade_medida"`
	Operational bool       `json:"status_operacional"`
	Observation string     `json:"observacao"`
}

// Coordinate returns the sensor position.
func (s Sensor) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Credentials are the username/password pair used for token issuance and
// user creation.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
