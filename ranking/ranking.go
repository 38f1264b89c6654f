// Package ranking derives target selection and summary statistics from a
// normalized detection set. Every function expects detections already
// sorted by confidence, highest first, as produced by ingestion.Normalize,
// and none of them modifies its input.
package ranking

import (
	"sort"

	"github.com/aerie/mission-core/models"
)

// Tier thresholds. Both comparisons are strict.
const (
	HighTierThreshold   = 0.9
	MediumTierThreshold = 0.8
)

// DefaultTargetCount is the number of UAV targets the mission workflow asks for.
const DefaultTargetCount = 3

// ClassCount is one row of a class breakdown.
type ClassCount struct {
	Class string `json:"class" yaml:"class"`
	Count int    `json:"count" yaml:"count"`
}

// TopTargets returns the first n detections, or all of them when fewer are
// available. The result is a copy.
func TopTargets(detections []models.Detection, n int) []models.Detection {
	if n <= 0 {
		return []models.Detection{}
	}
	if n > len(detections) {
		n = len(detections)
	}
	out := make([]models.Detection, n)
	copy(out, detections[:n])
	return out
}

// ClassBreakdown counts detections per class.
func ClassBreakdown(detections []models.Detection) map[string]int {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.Class]++
	}
	return counts
}

// ClassCounts is ClassBreakdown ordered by count, then class name.
func ClassCounts(detections []models.Detection) []ClassCount {
	breakdown := ClassBreakdown(detections)
	out := make([]ClassCount, 0, len(breakdown))
	for class, count := range breakdown {
		out = append(out, ClassCount{Class: class, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// AverageConfidence returns the mean confidence, or 0 for an empty set.
func AverageConfidence(detections []models.Detection) float64 {
	if len(detections) == 0 {
		return 0
	}
	var sum float64
	for _, d := range detections {
		sum += d.Confidence
	}
	return sum / float64(len(detections))
}

// DistinctClasses returns the unique class names in ascending order.
func DistinctClasses(detections []models.Detection) []string {
	seen := make(map[string]struct{}, len(detections))
	classes := make([]string, 0)
	for _, d := range detections {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		classes = append(classes, d.Class)
	}
	sort.Strings(classes)
	return classes
}

// ConfidenceTier buckets a detection: High above 0.9, Medium above 0.8,
// Low otherwise.
func ConfidenceTier(d models.Detection) models.ConfidenceTier {
	switch {
	case d.Confidence > HighTierThreshold:
		return models.TierHigh
	case d.Confidence > MediumTierThreshold:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// TierBreakdown counts detections per confidence tier.
func TierBreakdown(detections []models.Detection) map[models.ConfidenceTier]int {
	counts := map[models.ConfidenceTier]int{
		models.TierHigh:   0,
		models.TierMedium: 0,
		models.TierLow:    0,
	}
	for _, d := range detections {
		counts[ConfidenceTier(d)]++
	}
	return counts
}
