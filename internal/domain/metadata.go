package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SensorCount is the number of sensor slots every station describes.
const SensorCount = 6

// ErrMalformedMetadata marks station metadata that cannot be fingerprinted.
var ErrMalformedMetadata = errors.New("malformed station metadata")

// Sensor is one descriptor slot of a station.
type Sensor struct {
	Name         string `json:"name"`
	SerialNumber string `json:"sn"`
	Calibration  string `json:"calibration"`
}

// StationMetadata is the static description of a field station, loaded
// fresh every relay cycle.
type StationMetadata struct {
	StationID string
	Sensors   [SensorCount]Sensor
}

// Validate reports ErrMalformedMetadata when the station id or any of the
// eighteen sensor fields is empty.
func (m *StationMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil metadata", ErrMalformedMetadata)
	}
	if strings.TrimSpace(m.StationID) == "" {
		return fmt.Errorf("%w: stationid is required", ErrMalformedMetadata)
	}
	for i, s := range m.Sensors {
		switch {
		case s.Name == "":
			return fmt.Errorf("%w: sensor%d name is empty", ErrMalformedMetadata, i+1)
		case s.SerialNumber == "":
			return fmt.Errorf("%w: sensor%d sn is empty", ErrMalformedMetadata, i+1)
		case s.Calibration == "":
			return fmt.Errorf("%w: sensor%d calibration is empty", ErrMalformedMetadata, i+1)
		}
	}
	return nil
}

// Fields flattens the sensors into name, sn, calibration triples in
// ascending sensor order.
func (m *StationMetadata) Fields() []string {
	out := make([]string, 0, SensorCount*3)
	for _, s := range m.Sensors {
		out = append(out, s.Name, s.SerialNumber, s.Calibration)
	}
	return out
}

// MetaRecord is a persisted snapshot of station metadata. ID is assigned by
// the store and is zero until the record has been read back.
type MetaRecord struct {
	ID          int64
	StationID   string
	Fingerprint Fingerprint
	Sensors     [SensorCount]Sensor
	UpdatedAt   time.Time
}

// NewMetaRecord snapshots meta under the given fingerprint.
func NewMetaRecord(meta *StationMetadata, sig Fingerprint, at time.Time) *MetaRecord {
	return &MetaRecord{
		StationID:   meta.StationID,
		Fingerprint: sig,
		Sensors:     meta.Sensors,
		UpdatedAt:   at,
	}
}

// Fields returns the eighteen flattened sensor values of the record.
func (r *MetaRecord) Fields() []string {
	m := StationMetadata{StationID: r.StationID, Sensors: r.Sensors}
	return m.Fields()
}
