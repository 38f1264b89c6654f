package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/aerie/mission-core/config"
	"github.com/aerie/mission-core/ingestion"
	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/producer"
)

// replayFile is one saved model response and its normalized detections.
type replayFile struct {
	Path       string
	MissionID  string
	Detections []models.Detection
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found, using environment variables")
	}

	dir := flag.String("dir", "data/responses", "Directory of saved model responses (.json or .csv)")
	missionID := flag.String("mission", "", "Mission ID for every file (one generated per file if empty)")
	workers := flag.Int("workers", 4, "Number of files normalized concurrently and Kafka send workers")
	batchMode := flag.Bool("batch", false, "Use batch mode instead of streaming")
	dryRun := flag.Bool("dry-run", false, "Print events to stdout instead of publishing")
	flag.Parse()

	logging.SetLevel(os.Getenv("LOG_LEVEL"))

	paths := flag.Args()
	if len(paths) == 0 {
		found, err := findResponses(*dir)
		if err != nil {
			log.Fatalf("❌ Failed to list %s: %v", *dir, err)
		}
		paths = found
	}
	if len(paths) == 0 {
		log.Fatalf("❌ No response files to replay")
	}

	kafkaConfig := config.NewKafkaConfig()
	publish := !*dryRun && kafkaConfig.Enabled()

	log.Println("╔═══════════════════════════════════════════════════════════╗")
	log.Println("║   AERIE - Detection Replay                                ║")
	log.Println("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("Files: %d", len(paths))
	log.Printf("Workers: %d", *workers)
	log.Printf("Mode: %s", getMode(*batchMode, publish))
	log.Println("───────────────────────────────────────────────────────────")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()

	files, err := loadFiles(ctx, paths, *missionID, *workers)
	if err != nil {
		log.Fatalf("❌ Failed to load responses: %v", err)
	}

	total := 0
	for _, f := range files {
		total += len(f.Detections)
	}
	log.Printf("✅ Normalized %d detections from %d files", total, len(files))

	if !publish {
		if err := printEvents(os.Stdout, files); err != nil {
			log.Fatalf("❌ Failed to print events: %v", err)
		}
		log.Printf("⏱️  Total Time: %v", time.Since(startTime))
		return
	}

	kafkaProducer, err := producer.NewKafkaProducer(kafkaConfig)
	if err != nil {
		log.Fatalf("❌ Failed to create Kafka producer: %v", err)
	}
	defer kafkaProducer.Close()

	for _, f := range files {
		if ctx.Err() != nil {
			log.Println("🛑 Received shutdown signal")
			break
		}
		if *batchMode {
			events := producer.NewDetectionEvents(f.MissionID, f.Detections)
			if err := kafkaProducer.SendEventBatch(ctx, events, *workers); err != nil {
				log.Printf("⚠️  Batch send errors for %s: %v", f.Path, err)
			}
			continue
		}

		detectionChan := make(chan models.Detection, 100)
		go func(detections []models.Detection) {
			defer close(detectionChan)
			for _, d := range detections {
				select {
				case detectionChan <- d:
				case <-ctx.Done():
					return
				}
			}
		}(f.Detections)

		if err := kafkaProducer.StreamFromChannel(ctx, f.MissionID, detectionChan); err != nil {
			log.Printf("⚠️  Stream errors for %s: %v", f.Path, err)
		}
	}

	kafkaProducer.Flush(90 * time.Second)

	elapsed := time.Since(startTime)

	log.Println("═══════════════════════════════════════════════════════════")
	log.Println("                    FINAL REPORT")
	log.Println("═══════════════════════════════════════════════════════════")
	kafkaProducer.LogMetrics()

	metrics := kafkaProducer.GetMetrics()
	log.Printf("⏱️  Total Time: %v", elapsed)
	log.Printf("🚀 Throughput: %.2f messages/sec", float64(metrics["messages_acked"])/elapsed.Seconds())
	if sent := metrics["messages_sent"]; sent > 0 {
		log.Printf("✅ Success Rate: %.2f%%", float64(metrics["messages_acked"])/float64(sent)*100)
	}
	log.Println("═══════════════════════════════════════════════════════════")
}

func getMode(batchMode, publish bool) string {
	switch {
	case !publish:
		return "DRY-RUN"
	case batchMode:
		return "BATCH"
	default:
		return "STREAMING"
	}
}

// findResponses lists the .json and .csv files of dir, sorted by name.
func findResponses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".csv":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// loadFiles normalizes every file with at most workers files in flight.
// Results keep the order of paths; the first failure cancels the rest.
func loadFiles(ctx context.Context, paths []string, missionID string, workers int) ([]replayFile, error) {
	if workers < 1 {
		workers = 1
	}
	files := make([]replayFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			detections, err := ingestion.LoadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id := missionID
			if id == "" {
				id = uuid.New().String()
			}
			files[i] = replayFile{Path: path, MissionID: id, Detections: detections}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// printEvents writes one JSON event per line.
func printEvents(w io.Writer, files []replayFile) error {
	enc := json.NewEncoder(w)
	for _, f := range files {
		for _, event := range producer.NewDetectionEvents(f.MissionID, f.Detections) {
			if err := enc.Encode(event); err != nil {
				return err
			}
		}
	}
	return nil
}
