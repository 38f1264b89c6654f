package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings of the mission server and tools.
type Config struct {
	Port      string
	UploadDir string
	DBPath    string
	LogLevel  string

	// Hosted detection model
	InferenceURL     string
	InferenceAPIKey  string
	InferenceModelID string
	InferenceTimeout time.Duration

	// Number of detections handed to the UAV swarm
	TopTargets int

	Kafka *KafkaConfig
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
		DBPath:           getEnv("DB_PATH", "data/aerie.db"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		InferenceURL:     strings.TrimRight(getEnv("INFERENCE_URL", "https://detect.roboflow.com"), "/"),
		InferenceAPIKey:  getEnv("INFERENCE_API_KEY", ""),
		InferenceModelID: getEnv("INFERENCE_MODEL_ID", "disaster-4303w/1"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second),
		TopTargets:       getEnvInt("TOP_TARGETS", 3),
		Kafka:            NewKafkaConfig(),
	}
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getEnv(key, defaultValue string) string {
	if value := lookupEnv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := lookupEnv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
