package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aerie/mission-core/api"
	"github.com/aerie/mission-core/config"
	"github.com/aerie/mission-core/inference"
	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/notify"
	"github.com/aerie/mission-core/producer"
	"github.com/aerie/mission-core/service"
	"github.com/aerie/mission-core/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found, using environment variables")
	}

	cfg := config.Load()
	logging.SetLevel(cfg.LogLevel)
	logger := logging.GetLogger()

	log.Println("╔═══════════════════════════════════════════════════════════╗")
	log.Println("║   AERIE - Mission Server                                  ║")
	log.Println("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Model: %s/%s", cfg.InferenceURL, cfg.InferenceModelID)
	log.Printf("Database: %s", cfg.DBPath)
	log.Printf("Top Targets: %d", cfg.TopTargets)
	log.Printf("Kafka: %s", kafkaMode(cfg.Kafka))
	log.Println("───────────────────────────────────────────────────────────")

	if cfg.InferenceAPIKey == "" {
		logger.Warn("INFERENCE_API_KEY is not set, hosted model calls will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	registry := mission.NewRegistry()

	hub := notify.NewHub(func(id string) (mission.Status, error) {
		m, err := registry.Get(id)
		if err != nil {
			return mission.Status{}, err
		}
		return m.Status(), nil
	})
	hub.Start()
	defer hub.Close()

	opts := service.Options{
		Store:      db,
		Notifier:   hub,
		TopTargets: cfg.TopTargets,
		Logger:     logger,
	}
	if cfg.Kafka.Enabled() {
		kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("❌ Failed to create Kafka producer: %v", err)
		}
		defer kafkaProducer.Close()
		opts.Publisher = kafkaProducer
	}

	client := inference.NewClient(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.InferenceModelID, cfg.InferenceTimeout)
	svc := service.NewMissionService(registry, client, opts)

	restored, err := svc.Warm(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to restore missions: %v", err)
	}
	log.Printf("✅ Restored %d missions", restored)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewHandler(svc, cfg.UploadDir).Routes(hub.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("🛑 Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", logging.Err(err))
		}
	}()

	log.Printf("🚀 Starting HTTP server on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("❌ HTTP server ListenAndServe: %v", err)
	}
	log.Println("✅ Server stopped")
}

func kafkaMode(cfg *config.KafkaConfig) string {
	if !cfg.Enabled() {
		return "disabled"
	}
	return cfg.BootstrapServers + " -> " + cfg.Topic
}
