package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionSerialization(t *testing.T) {
	detection := &Detection{
		ID:         2,
		Class:      "debris",
		Confidence: 0.7,
		X:          5,
		Y:          6,
		Width:      10,
		Height:     12,
		Zone:       ZoneCentral,
	}

	jsonBytes, err := detection.ToJSON()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonBytes, &raw))
	assert.Equal(t, "debris", raw["class"])
	assert.Equal(t, "Central", raw["zone"])
	assert.Contains(t, raw, "width")

	parsed, err := FromJSON(jsonBytes)
	require.NoError(t, err)
	assert.Equal(t, *detection, *parsed)
}

func TestDetectionEventCarriesMissionContext(t *testing.T) {
	emitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &DetectionEvent{
		EventID:   "evt-1",
		MissionID: "mission-1",
		EmittedAt: emitted,
		Rank:      1,
		Detection: Detection{ID: 3, Class: "flood", Confidence: 0.95, Zone: ZoneSouth},
		Tier:      TierHigh,
	}

	jsonBytes, err := event.ToJSON()
	require.NoError(t, err)

	parsed, err := EventFromJSON(jsonBytes)
	require.NoError(t, err)
	assert.Equal(t, "mission-1", parsed.MissionID)
	assert.True(t, emitted.Equal(parsed.EmittedAt))
	assert.Equal(t, TierHigh, parsed.Tier)
	assert.Equal(t, ZoneSouth, parsed.Detection.Zone)
}

func TestZoneForIndexCycles(t *testing.T) {
	want := []Zone{ZoneNorth, ZoneCentral, ZoneSouth, ZoneNorth, ZoneCentral, ZoneSouth, ZoneNorth}
	for i, zone := range want {
		assert.Equal(t, zone, ZoneForIndex(i), "index %d", i)
	}
}
