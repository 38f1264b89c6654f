package ingestion

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerie/mission-core/models"
)

func predictions(preds ...models.RawPrediction) models.RawResponse {
	list := make([]any, len(preds))
	for i, p := range preds {
		list[i] = p
	}
	return models.RawResponse{"predictions": list}
}

func TestNormalizeMissingPredictions(t *testing.T) {
	tests := []struct {
		name string
		resp models.RawResponse
	}{
		{name: "nil response", resp: nil},
		{name: "empty response", resp: models.RawResponse{}},
		{name: "no predictions field", resp: models.RawResponse{"time": 0.12, "image": map[string]any{"width": 640}}},
		{name: "null predictions", resp: models.RawResponse{"predictions": nil}},
		{name: "empty predictions", resp: models.RawResponse{"predictions": []any{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections, err := Normalize(tt.resp)
			require.NoError(t, err)
			assert.NotNil(t, detections)
			assert.Empty(t, detections)
		})
	}
}

func TestNormalizeFieldAliases(t *testing.T) {
	detections, err := Normalize(predictions(models.RawPrediction{
		"class_name": "debris",
		"cx":         5,
		"cy":         6,
		"w":          10,
		"h":          12,
		"confidence": 0.7,
	}))
	require.NoError(t, err)
	require.Len(t, detections, 1)

	assert.Equal(t, models.Detection{
		ID:         1,
		Class:      "debris",
		Confidence: 0.7,
		X:          5,
		Y:          6,
		Width:      10,
		Height:     12,
		Zone:       models.ZoneNorth,
	}, detections[0])
}

func TestNormalizeFirstAliasWins(t *testing.T) {
	detections, err := Normalize(predictions(models.RawPrediction{
		"class": "flood", "class_name": "debris",
		"x": 1.5, "cx": 99,
		"y": 2.5, "cy": 99,
		"width": 3.5, "w": 99,
		"height": 4.5, "h": 99,
	}))
	require.NoError(t, err)
	require.Len(t, detections, 1)

	d := detections[0]
	assert.Equal(t, "flood", d.Class)
	assert.Equal(t, 1.5, d.X)
	assert.Equal(t, 2.5, d.Y)
	assert.Equal(t, 3.5, d.Width)
	assert.Equal(t, 4.5, d.Height)
}

func TestNormalizeDefaults(t *testing.T) {
	detections, err := Normalize(predictions(models.RawPrediction{}))
	require.NoError(t, err)
	require.Len(t, detections, 1)

	d := detections[0]
	assert.Equal(t, DefaultClass, d.Class)
	assert.Zero(t, d.Confidence)
	assert.Zero(t, d.X)
	assert.Zero(t, d.Y)
	assert.Zero(t, d.Width)
	assert.Zero(t, d.Height)
}

func TestNormalizeUnusableValuesFallThrough(t *testing.T) {
	detections, err := Normalize(predictions(models.RawPrediction{
		"class":      "   ",
		"class_name": "collapsed building",
		"confidence": "0.42",
		"x":          nil,
		"cx":         json.Number("12.5"),
		"y":          true,
		"width":      "wide",
	}))
	require.NoError(t, err)
	require.Len(t, detections, 1)

	d := detections[0]
	assert.Equal(t, "collapsed building", d.Class)
	assert.Equal(t, 0.42, d.Confidence)
	assert.Equal(t, 12.5, d.X)
	assert.Zero(t, d.Y)
	assert.Zero(t, d.Width)
}

func TestNormalizeRejectsNonFiniteNumbers(t *testing.T) {
	detections, err := NormalizeJSON([]byte(`{"predictions": [
		{"class": "a", "confidence": 0.5},
		{"class": "b", "confidence": "NaN"},
		{"class": "c", "confidence": 0.9},
		{"class": "d", "confidence": "Inf", "x": "-Infinity", "cx": 4}
	]}`))
	require.NoError(t, err)
	require.Len(t, detections, 4)

	classes := make([]string, len(detections))
	for i, d := range detections {
		classes[i] = d.Class
		assert.False(t, math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0), "class %s", d.Class)
		if i > 0 {
			assert.GreaterOrEqual(t, detections[i-1].Confidence, d.Confidence)
		}
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, classes)
	assert.Equal(t, 4.0, detections[3].X)

	_, err = json.Marshal(detections)
	assert.NoError(t, err)

	direct, err := Normalize(predictions(
		models.RawPrediction{"class": "e", "confidence": math.NaN()},
		models.RawPrediction{"class": "f", "confidence": math.Inf(1)},
	))
	require.NoError(t, err)
	assert.Zero(t, direct[0].Confidence)
	assert.Zero(t, direct[1].Confidence)
}

func TestNormalizeDoesNotClampConfidence(t *testing.T) {
	detections, err := Normalize(predictions(
		models.RawPrediction{"class": "a", "confidence": -0.25},
		models.RawPrediction{"class": "b", "confidence": 1.75},
	))
	require.NoError(t, err)
	require.Len(t, detections, 2)

	assert.Equal(t, 1.75, detections[0].Confidence)
	assert.Equal(t, -0.25, detections[1].Confidence)
}

func TestNormalizeSortsByConfidenceDescending(t *testing.T) {
	detections, err := Normalize(predictions(
		models.RawPrediction{"confidence": 0.5},
		models.RawPrediction{"confidence": 0.9},
		models.RawPrediction{"confidence": 0.7},
	))
	require.NoError(t, err)

	got := make([]float64, len(detections))
	for i, d := range detections {
		got[i] = d.Confidence
	}
	assert.Equal(t, []float64{0.9, 0.7, 0.5}, got)

	// ids follow arrival order, not rank
	assert.Equal(t, 2, detections[0].ID)
	assert.Equal(t, 3, detections[1].ID)
	assert.Equal(t, 1, detections[2].ID)
}

func TestNormalizeTiesKeepArrivalOrder(t *testing.T) {
	detections, err := Normalize(predictions(
		models.RawPrediction{"class": "a", "confidence": 0.8},
		models.RawPrediction{"class": "b", "confidence": 0.9},
		models.RawPrediction{"class": "c", "confidence": 0.8},
		models.RawPrediction{"class": "d", "confidence": 0.8},
	))
	require.NoError(t, err)

	ids := make([]int, len(detections))
	for i, d := range detections {
		ids[i] = d.ID
	}
	assert.Equal(t, []int{2, 1, 3, 4}, ids)
}

func TestNormalizeZonesCycleByArrival(t *testing.T) {
	// confidences chosen so rank order differs from arrival order
	detections, err := Normalize(predictions(
		models.RawPrediction{"confidence": 0.1},
		models.RawPrediction{"confidence": 0.5},
		models.RawPrediction{"confidence": 0.3},
		models.RawPrediction{"confidence": 0.9},
		models.RawPrediction{"confidence": 0.2},
	))
	require.NoError(t, err)
	require.Len(t, detections, 5)

	zonesByID := map[int]models.Zone{}
	for _, d := range detections {
		zonesByID[d.ID] = d.Zone
	}
	want := []models.Zone{"North", "Central", "South", "North", "Central"}
	for i, zone := range want {
		assert.Equal(t, zone, zonesByID[i+1], "detection id %d", i+1)
	}
}

func TestNormalizeKeepsEveryPrediction(t *testing.T) {
	dup := models.RawPrediction{"class": "debris", "confidence": 0.6, "x": 10, "y": 10}
	detections, err := Normalize(predictions(dup, dup, dup))
	require.NoError(t, err)
	assert.Len(t, detections, 3)
}

func TestNormalizeAcceptsTypedPredictionSlices(t *testing.T) {
	resp := models.RawResponse{"predictions": []models.RawPrediction{
		{"class": "flood", "confidence": 0.6},
		{"class": "fire", "confidence": 0.8},
	}}
	detections, err := Normalize(resp)
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, "fire", detections[0].Class)

	resp = models.RawResponse{"predictions": []map[string]any{{"class": "smoke"}}}
	detections, err = Normalize(resp)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, "smoke", detections[0].Class)
}

func TestNormalizeInvalidShape(t *testing.T) {
	tests := []struct {
		name string
		resp models.RawResponse
	}{
		{name: "predictions is an object", resp: models.RawResponse{"predictions": map[string]any{"class": "x"}}},
		{name: "predictions is a string", resp: models.RawResponse{"predictions": "none"}},
		{name: "predictions is a number", resp: models.RawResponse{"predictions": 3.0}},
		{name: "entry is not an object", resp: models.RawResponse{"predictions": []any{map[string]any{}, "oops"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detections, err := Normalize(tt.resp)
			assert.ErrorIs(t, err, ErrInvalidInputShape)
			assert.Nil(t, detections)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	resp := predictions(
		models.RawPrediction{"class": "debris", "confidence": 0.4, "x": 3},
		models.RawPrediction{"class_name": "flood", "confidence": 0.95, "cy": 7},
	)

	first, err := Normalize(resp)
	require.NoError(t, err)
	second, err := Normalize(resp)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeConcurrentCallers(t *testing.T) {
	resp := predictions(
		models.RawPrediction{"class": "debris", "confidence": 0.4},
		models.RawPrediction{"class_name": "flood", "confidence": "0.95"},
		models.RawPrediction{"class": "fire", "confidence": json.Number("0.85")},
	)
	want, err := Normalize(resp)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Normalize(resp)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != len(want) || got[0] != want[0] {
				errs <- fmt.Errorf("unexpected result %v", got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNormalizeJSON(t *testing.T) {
	payload := []byte(`{
		"time": 0.08,
		"image": {"width": 1280, "height": 720},
		"predictions": [
			{"x": 320.5, "y": 200, "width": 40, "height": 60, "confidence": 0.81, "class": "debris", "class_id": 0},
			{"cx": 10, "cy": 20, "w": 5, "h": 6, "confidence": 0.93, "class_name": "flood"}
		]
	}`)

	detections, err := NormalizeJSON(payload)
	require.NoError(t, err)
	require.Len(t, detections, 2)

	assert.Equal(t, "flood", detections[0].Class)
	assert.Equal(t, 2, detections[0].ID)
	assert.Equal(t, models.ZoneCentral, detections[0].Zone)
	assert.Equal(t, 10.0, detections[0].X)

	assert.Equal(t, "debris", detections[1].Class)
	assert.Equal(t, 320.5, detections[1].X)
	assert.Equal(t, 0.81, detections[1].Confidence)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse(nil)
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = DecodeResponse([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = DecodeResponse([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrInvalidInputShape)

	_, err = DecodeResponse([]byte(`{"predictions": [`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInputShape)

	resp, err = DecodeResponse([]byte(`{"predictions": []}`))
	require.NoError(t, err)
	assert.Contains(t, resp, "predictions")
}
