package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/models"
)

// CSVReader loads offline prediction dumps. The header may use either alias
// set (class or class_name, x or cx, ...); every column becomes a key of the
// raw prediction so the normalizer resolves aliases the same way it does for
// live responses.
type CSVReader struct {
	filePath string
	logger   *slog.Logger
}

// NewCSVReader creates a new CSV reader
func NewCSVReader(filePath string) *CSVReader {
	return &CSVReader{
		filePath: filePath,
		logger:   logging.GetLogger(),
	}
}

// ReadResponse reads the whole file into a raw response. Blank cells are
// left out so the next alias (or the default) applies.
func (cr *CSVReader) ReadResponse() (models.RawResponse, error) {
	file, err := os.Open(cr.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	predictions := []any{}
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			cr.logger.Warn("skipping unreadable CSV row",
				slog.String("file", cr.filePath),
				slog.Int("line", line),
				slog.Any("error", err))
			continue
		}
		predictions = append(predictions, cr.parseRow(row, header))
	}

	return models.RawResponse{"predictions": predictions}, nil
}

// parseRow converts a CSV row to a raw prediction keyed by header name
func (cr *CSVReader) parseRow(row []string, header []string) models.RawPrediction {
	pred := make(models.RawPrediction, len(header))
	for i, col := range header {
		if i >= len(row) || col == "" {
			continue
		}
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		pred[col] = cell
	}
	return pred
}

// ReadAll reads the entire CSV and returns normalized detections, highest
// confidence first.
func (cr *CSVReader) ReadAll() ([]models.Detection, error) {
	resp, err := cr.ReadResponse()
	if err != nil {
		return nil, err
	}

	detections, err := Normalize(resp)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", cr.filePath, err)
	}

	cr.logger.Info("loaded detections from CSV",
		slog.String("file", cr.filePath),
		slog.Int("count", len(detections)))
	return detections, nil
}

// StreamToChannel reads the CSV and sends detections to a channel in rank
// order. The channel is not closed.
func (cr *CSVReader) StreamToChannel(detectionChan chan<- models.Detection) error {
	startTime := time.Now()

	detections, err := cr.ReadAll()
	if err != nil {
		return err
	}

	for _, detection := range detections {
		detectionChan <- detection
	}

	elapsed := time.Since(startTime)
	cr.logger.Info("CSV streaming complete",
		slog.String("file", cr.filePath),
		slog.Int("count", len(detections)),
		slog.Duration("elapsed", elapsed))
	return nil
}
