package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/aerie/mission-core/ingestion"
	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/ranking"
	"github.com/aerie/mission-core/report"
)

// Lightweight check of a saved model response without Kafka or the server
func main() {
	responsePath := flag.String("file", "data/responses/sample.json", "Path to a saved model response (.json or .csv)")
	limit := flag.Int("limit", 10, "Number of detections to display")
	top := flag.Int("top", ranking.DefaultTargetCount, "Number of top targets")
	reportPath := flag.String("report", "", "Write a YAML mission report to this path")
	flag.Parse()

	if *limit < 0 {
		*limit = 0
	}
	if *top < 1 {
		log.Printf("⚠️  -top must be at least 1, using %d", ranking.DefaultTargetCount)
		*top = ranking.DefaultTargetCount
	}

	log.Println("╔═══════════════════════════════════════════════════════════╗")
	log.Println("║        DRY-RUN (No Kafka Required)                        ║")
	log.Println("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("Response: %s\n", *responsePath)
	log.Printf("Display Limit: %d detections\n", *limit)
	log.Println("───────────────────────────────────────────────────────────")

	startTime := time.Now()
	detections, err := ingestion.LoadFile(*responsePath)
	if err != nil {
		log.Fatalf("❌ Failed to normalize response: %v", err)
	}
	elapsed := time.Since(startTime)

	printDetections(os.Stdout, detections, *limit)
	printSummary(os.Stdout, ranking.Summarize(detections, *top))

	if *reportPath != "" {
		m, err := simulateMission(*responsePath, detections, *top)
		if err != nil {
			log.Fatalf("❌ Failed to simulate mission: %v", err)
		}
		if err := report.Write(report.Build(m, *top), *reportPath); err != nil {
			log.Fatalf("❌ Failed to write report: %v", err)
		}
		log.Printf("📝 Report written to %s", *reportPath)
	}

	log.Println("═══════════════════════════════════════════════════════════")
	log.Printf("✅ Detections Normalized: %d", len(detections))
	log.Printf("⏱️  Parse Time: %v", elapsed)
	log.Println("═══════════════════════════════════════════════════════════")
}

func printDetections(w io.Writer, detections []models.Detection, limit int) {
	if limit < 0 {
		limit = 0
	}
	fmt.Fprintln(w, "RANK  ID   CLASS                 CONF    TIER    ZONE")
	for i, d := range detections {
		if i >= limit {
			fmt.Fprintf(w, "... %d more\n", len(detections)-limit)
			break
		}
		fmt.Fprintf(w, "%-5d %-4d %-21s %5.1f%%  %-7s %s\n",
			i+1, d.ID, d.Class, d.Confidence*100, ranking.ConfidenceTier(d), d.Zone)
	}
}

func printSummary(w io.Writer, s ranking.Summary) {
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "Total detections:   %d\n", s.Total)
	fmt.Fprintf(w, "Average confidence: %.1f%%\n", s.AverageConfidence*100)
	fmt.Fprintf(w, "Distinct classes:   %d\n", len(s.Classes))
	for _, c := range s.Breakdown {
		fmt.Fprintf(w, "  %-20s %d\n", c.Class, c.Count)
	}
	fmt.Fprintf(w, "Tiers: High %d, Medium %d, Low %d\n",
		s.Tiers[models.TierHigh], s.Tiers[models.TierMedium], s.Tiers[models.TierLow])
	fmt.Fprintln(w, "Top targets:")
	for _, t := range s.TopTargets {
		fmt.Fprintf(w, "  #%d %s (%.1f%%, %s) zone %s\n",
			t.Rank, t.Detection.Class, t.Detection.Confidence*100, t.Tier, t.Detection.Zone)
	}
}

// simulateMission runs a mission through every stage with the given
// detections. Missions without detections stop at analysis; a mission with
// no targets to assign is returned after going back to the start.
func simulateMission(imageRef string, detections []models.Detection, top int) (*mission.State, error) {
	m := mission.New()
	if err := m.AttachImage(imageRef); err != nil {
		return nil, err
	}
	if err := m.CompleteScan(); err != nil {
		return nil, err
	}
	if err := m.RecordDetections(detections); err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return m, nil
	}
	if err := m.Analyze(); err != nil {
		return nil, err
	}
	if _, err := m.DeployUAVs(top); err != nil {
		if errors.Is(err, mission.ErrNoTargets) {
			log.Printf("⚠️  No targets to assign, mission restarted")
			return m, nil
		}
		return nil, err
	}
	if err := m.CompleteDelivery(); err != nil {
		return nil, err
	}
	return m, nil
}
