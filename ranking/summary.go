package ranking

import "github.com/aerie/mission-core/models"

// Target is a selected detection annotated for display.
type Target struct {
	Rank      int                   `json:"rank" yaml:"rank"`
	Detection models.Detection      `json:"detection" yaml:"detection"`
	Tier      models.ConfidenceTier `json:"tier" yaml:"tier"`
}

// Summary aggregates a detection set for the analytics view.
type Summary struct {
	Total             int                           `json:"total" yaml:"total"`
	AverageConfidence float64                       `json:"average_confidence" yaml:"average_confidence"`
	Classes           []string                      `json:"classes" yaml:"classes"`
	Breakdown         []ClassCount                  `json:"breakdown" yaml:"breakdown"`
	Tiers             map[models.ConfidenceTier]int `json:"tiers" yaml:"tiers"`
	TopTargets        []Target                      `json:"top_targets" yaml:"top_targets"`
}

// Summarize computes every aggregate at once, selecting n top targets.
func Summarize(detections []models.Detection, n int) Summary {
	return Summary{
		Total:             len(detections),
		AverageConfidence: AverageConfidence(detections),
		Classes:           DistinctClasses(detections),
		Breakdown:         ClassCounts(detections),
		Tiers:             TierBreakdown(detections),
		TopTargets:        Annotate(TopTargets(detections, n)),
	}
}

// Annotate attaches rank and tier to each detection, keeping order.
func Annotate(detections []models.Detection) []Target {
	targets := make([]Target, len(detections))
	for i, d := range detections {
		targets[i] = Target{Rank: i + 1, Detection: d, Tier: ConfidenceTier(d)}
	}
	return targets
}
