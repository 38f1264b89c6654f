package models

import (
	"encoding/json"
	"time"
)

// RawResponse is one decoded response from the external detection model.
// It may carry a "predictions" field holding RawPrediction entries.
type RawResponse map[string]any

// RawPrediction is a single untrusted detection entry as returned by the
// model. Field names vary between model versions (class vs class_name, x vs cx).
type RawPrediction map[string]any

// Zone is a cyclic placeholder label assigned by arrival index.
type Zone string

const (
	ZoneNorth   Zone = "North"
	ZoneCentral Zone = "Central"
	ZoneSouth   Zone = "South"
)

// Zones lists the zone labels in the order they are handed out.
var Zones = [...]Zone{ZoneNorth, ZoneCentral, ZoneSouth}

// ZoneForIndex returns the zone for the 0-based arrival index i.
func ZoneForIndex(i int) Zone {
	if i < 0 {
		i = -i
	}
	return Zones[i%len(Zones)]
}

// ConfidenceTier is a display bucket derived from a confidence score.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "High"
	TierMedium ConfidenceTier = "Medium"
	TierLow    ConfidenceTier = "Low"
)

// Detection represents a single normalized object detection
type Detection struct {
	// Arrival order in the raw response, 1-based
	ID int `json:"id" yaml:"id"`

	Class      string  `json:"class" yaml:"class"`
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Bounding box center and extents (source image pixels)
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`

	Zone Zone `json:"zone" yaml:"zone"`
}

// ToJSON serializes the Detection to JSON
func (d *Detection) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

// FromJSON deserializes JSON to Detection
func FromJSON(data []byte) (*Detection, error) {
	var d Detection
	err := json.Unmarshal(data, &d)
	return &d, err
}

// DetectionEvent is the message published downstream for every normalized
// detection of a mission run.
type DetectionEvent struct {
	EventID   string    `json:"event_id"`
	MissionID string    `json:"mission_id"`
	EmittedAt time.Time `json:"emitted_at"`

	// Position of the detection in the ranked set, 1-based
	Rank int `json:"rank"`

	Detection Detection      `json:"detection"`
	Tier      ConfidenceTier `json:"tier"`
}

// ToJSON serializes the event to JSON
func (e *DetectionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON deserializes JSON to DetectionEvent
func EventFromJSON(data []byte) (*DetectionEvent, error) {
	var e DetectionEvent
	err := json.Unmarshal(data, &e)
	return &e, err
}
