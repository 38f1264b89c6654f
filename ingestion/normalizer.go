package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aerie/mission-core/models"
)

// DefaultClass is used when a prediction carries no usable class name.
const DefaultClass = "Unknown"

// ErrInvalidInputShape is returned when a response is structurally wrong,
// e.g. "predictions" is present but is not a list.
var ErrInvalidInputShape = errors.New("invalid input shape")

// Alias keys per field, highest priority first.
var (
	classKeys      = []string{"class", "class_name"}
	confidenceKeys = []string{"confidence"}
	xKeys          = []string{"x", "cx"}
	yKeys          = []string{"y", "cy"}
	widthKeys      = []string{"width", "w"}
	heightKeys     = []string{"height", "h"}
)

// Normalize converts one raw model response into detections sorted by
// confidence, highest first. Ties keep arrival order.
//
// A nil response or one without predictions yields an empty slice. Missing
// or unusable fields fall back to defaults; values are never clamped.
func Normalize(resp models.RawResponse) ([]models.Detection, error) {
	detections := []models.Detection{}
	if resp == nil {
		return detections, nil
	}

	raw, ok := resp["predictions"]
	if !ok || raw == nil {
		return detections, nil
	}

	predictions, err := predictionList(raw)
	if err != nil {
		return nil, err
	}

	for i, pred := range predictions {
		detections = append(detections, normalizePrediction(i, pred))
	}

	sort.SliceStable(detections, func(a, b int) bool {
		return detections[a].Confidence > detections[b].Confidence
	})
	return detections, nil
}

// NormalizeJSON decodes a JSON response document and normalizes it.
func NormalizeJSON(data []byte) ([]models.Detection, error) {
	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, err
	}
	return Normalize(resp)
}

// DecodeResponse decodes a JSON response document. Numbers are kept as
// json.Number. Empty input and a JSON null both decode to a nil response.
func DecodeResponse(data []byte) (models.RawResponse, error) {
	return ReadResponse(bytes.NewReader(data))
}

// ReadResponse is DecodeResponse over a stream.
func ReadResponse(r io.Reader) (models.RawResponse, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	switch v := doc.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return models.RawResponse(v), nil
	default:
		return nil, fmt.Errorf("%w: response is %s, expected an object", ErrInvalidInputShape, kindOf(doc))
	}
}

func predictionList(raw any) ([]models.RawPrediction, error) {
	switch list := raw.(type) {
	case []models.RawPrediction:
		return list, nil
	case []map[string]any:
		out := make([]models.RawPrediction, len(list))
		for i, p := range list {
			out[i] = p
		}
		return out, nil
	case []any:
		out := make([]models.RawPrediction, len(list))
		for i, item := range list {
			switch p := item.(type) {
			case models.RawPrediction:
				out[i] = p
			case map[string]any:
				out[i] = p
			default:
				return nil, fmt.Errorf("%w: predictions[%d] is %s, expected an object",
					ErrInvalidInputShape, i, kindOf(item))
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: predictions is %s, expected a list", ErrInvalidInputShape, kindOf(raw))
	}
}

func normalizePrediction(index int, pred models.RawPrediction) models.Detection {
	return models.Detection{
		ID:         index + 1,
		Class:      resolveString(pred, DefaultClass, classKeys...),
		Confidence: resolveFloat(pred, confidenceKeys...),
		X:          resolveFloat(pred, xKeys...),
		Y:          resolveFloat(pred, yKeys...),
		Width:      resolveFloat(pred, widthKeys...),
		Height:     resolveFloat(pred, heightKeys...),
		Zone:       models.ZoneForIndex(index),
	}
}

// resolveString returns the first non-blank string among keys.
func resolveString(pred models.RawPrediction, fallback string, keys ...string) string {
	for _, key := range keys {
		if s, ok := pred[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fallback
}

// resolveFloat returns the first numeric value among keys, or 0.
func resolveFloat(pred models.RawPrediction, keys ...string) float64 {
	for _, key := range keys {
		if f, ok := toFloat(pred[key]); ok {
			return f
		}
	}
	return 0
}

// toFloat converts v to a finite number. NaN and infinities are rejected so
// the field falls through like any other unusable value.
func toFloat(v any) (float64, bool) {
	f, ok := numberOf(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number, float64, float32, int, int64:
		return "a number"
	case []any:
		return "a list"
	case map[string]any, models.RawPrediction, models.RawResponse:
		return "an object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
