package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aerie/mission-core/models"
)

// LoadFile reads a saved model response and normalizes it. Files ending in
// .csv go through CSVReader; everything else is decoded as JSON.
func LoadFile(path string) ([]models.Detection, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return NewCSVReader(path).ReadAll()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read response file: %w", err)
	}
	detections, err := NormalizeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", path, err)
	}
	return detections, nil
}
