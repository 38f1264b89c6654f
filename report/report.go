// Package report assembles the after-action report of a mission and reads
// and writes it as YAML.
package report

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/ranking"
)

// Report is the analytics view of one mission.
type Report struct {
	MissionID   string             `json:"mission_id" yaml:"mission_id"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Status      mission.Status     `json:"status" yaml:"status"`
	Summary     ranking.Summary    `json:"summary" yaml:"summary"`
	Detections  []models.Detection `json:"detections" yaml:"detections"`
	Deployed    []ranking.Target   `json:"deployed" yaml:"deployed"`
}

// Build snapshots m into a report highlighting its n top targets.
func Build(m *mission.State, n int) *Report {
	detections := m.Detections()
	return &Report{
		MissionID:   m.ID(),
		GeneratedAt: time.Now().UTC(),
		Status:      m.Status(),
		Summary:     ranking.Summarize(detections, n),
		Detections:  detections,
		Deployed:    ranking.Annotate(m.Deployed()),
	}
}

// Marshal encodes the report as YAML.
func Marshal(r *Report) ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "marshal report")
	}
	return data, nil
}

// Write writes a report to a YAML file
func Write(r *Report, path string) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	return errors.Wrapf(os.WriteFile(path, data, 0644), "write report %s", path)
}

// Read reads a report from a YAML file
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read report %s", path)
	}

	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "parse report %s", path)
	}

	return &r, nil
}
