package config

import (
	"strconv"
	"strings"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	BootstrapServers string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Topic            string
	CompressionType  string
	Acks             string
	MaxInFlight      int
	LingerMS         int
	BatchSize        int
	MaxRetries       int
}

// NewKafkaConfig creates a new Kafka configuration from environment variables.
// Publishing stays off unless KAFKA_BOOTSTRAP_SERVERS is set.
func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		BootstrapServers: getEnv("KAFKA_BOOTSTRAP_SERVERS", ""),
		SecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
		SASLMechanism:    getEnv("KAFKA_SASL_MECHANISM", "PLAIN"),
		SASLUsername:     getEnv("KAFKA_SASL_USERNAME", ""),
		SASLPassword:     getEnv("KAFKA_SASL_PASSWORD", ""),
		Topic:            getEnv("KAFKA_TOPIC", "aerie-detections"),
		CompressionType:  getEnv("KAFKA_COMPRESSION_TYPE", "snappy"),
		Acks:             getEnv("KAFKA_ACKS", "all"),
		MaxInFlight:      getEnvInt("KAFKA_MAX_IN_FLIGHT", 5),
		LingerMS:         getEnvInt("KAFKA_LINGER_MS", 10),
		BatchSize:        getEnvInt("KAFKA_BATCH_SIZE", 16384),
		MaxRetries:       getEnvInt("KAFKA_MAX_RETRIES", 5),
	}
}

// Enabled reports whether a broker is configured.
func (c *KafkaConfig) Enabled() bool {
	return c != nil && strings.TrimSpace(c.BootstrapServers) != ""
}

// UsesSASL reports whether SASL credentials should be sent.
func (c *KafkaConfig) UsesSASL() bool {
	return strings.HasPrefix(strings.ToUpper(c.SecurityProtocol), "SASL")
}

func getEnvInt(key string, defaultValue int) int {
	if value := lookupEnv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
