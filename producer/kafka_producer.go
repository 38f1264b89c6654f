// Package producer publishes ranked detection events to Kafka.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/aerie/mission-core/config"
	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/ranking"
)

// KafkaProducer manages detection event production
type KafkaProducer struct {
	producer     *kafka.Producer
	config       *config.KafkaConfig
	deliveryChan chan kafka.Event
	logger       *slog.Logger

	// Metrics
	messagesSent   atomic.Int64
	messagesAcked  atomic.Int64
	messagesFailed atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	maxRetries  int
	baseBackoff time.Duration
}

// NewKafkaProducer creates a new thread-safe Kafka producer
func NewKafkaProducer(cfg *config.KafkaConfig) (*KafkaProducer, error) {
	p, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}

	ctx, cancel := context.WithCancel(context.Background())

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	kp := &KafkaProducer{
		producer:     p,
		config:       cfg,
		deliveryChan: make(chan kafka.Event, 10000),
		logger:       logging.GetLogger().With("component", "producer"),
		ctx:          ctx,
		cancel:       cancel,
		maxRetries:   maxRetries,
		baseBackoff:  100 * time.Millisecond,
	}

	kp.wg.Add(1)
	go kp.handleDeliveryReports()

	kp.logger.Info("kafka producer initialized", "topic", cfg.Topic, "servers", cfg.BootstrapServers)
	return kp, nil
}

func producerConfig(cfg *config.KafkaConfig) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"security.protocol": cfg.SecurityProtocol,

		"compression.type":                      cfg.CompressionType,
		"acks":                                  cfg.Acks,
		"max.in.flight.requests.per.connection": cfg.MaxInFlight,
		"linger.ms":                             cfg.LingerMS,
		"batch.size":                            cfg.BatchSize,

		"enable.idempotence": true,

		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	}
	if cfg.UsesSASL() {
		_ = cm.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.SASLUsername)
		_ = cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

// handleDeliveryReports processes delivery confirmations in a separate goroutine
func (kp *KafkaProducer) handleDeliveryReports() {
	defer kp.wg.Done()

	for {
		select {
		case <-kp.ctx.Done():
			kp.logger.Debug("delivery report handler shutting down")
			return
		case e := <-kp.deliveryChan:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}

			if m.TopicPartition.Error != nil {
				kp.messagesFailed.Add(1)
				kp.logger.Error("delivery failed",
					logging.Err(m.TopicPartition.Error),
					"key", string(m.Key),
					"offset", m.TopicPartition.Offset.String())
				continue
			}
			acked := kp.messagesAcked.Add(1)
			if acked%100 == 0 {
				kp.logger.Info("messages delivered",
					"acked", acked,
					"sent", kp.messagesSent.Load(),
					"partition", m.TopicPartition.Partition)
			}
		}
	}
}

// NewDetectionEvents turns a ranked detection set into events, one per
// detection, keeping the ranking order.
func NewDetectionEvents(missionID string, detections []models.Detection) []*models.DetectionEvent {
	now := time.Now().UTC()
	events := make([]*models.DetectionEvent, len(detections))
	for i, d := range detections {
		events[i] = &models.DetectionEvent{
			EventID:   GenerateEventID(),
			MissionID: missionID,
			EmittedAt: now,
			Rank:      i + 1,
			Detection: d,
			Tier:      ranking.ConfidenceTier(d),
		}
	}
	return events
}

func buildMessage(topic *string, event *models.DetectionEvent) (*kafka.Message, error) {
	payload, err := event.ToJSON()
	if err != nil {
		return nil, errors.Wrap(err, "serialize detection event")
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.EventID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "mission_id", Value: []byte(event.MissionID)},
			{Key: "class", Value: []byte(event.Detection.Class)},
			{Key: "zone", Value: []byte(event.Detection.Zone)},
			{Key: "tier", Value: []byte(event.Tier)},
		},
	}, nil
}

// SendEvent sends a single event to Kafka with retry logic
func (kp *KafkaProducer) SendEvent(ctx context.Context, event *models.DetectionEvent) error {
	message, err := buildMessage(&kp.config.Topic, event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= kp.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := kp.baseBackoff * time.Duration(1<<uint(attempt-1))
			kp.logger.Warn("retrying produce", "attempt", attempt, "max_retries", kp.maxRetries, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				kp.messagesFailed.Add(1)
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := kp.producer.Produce(message, kp.deliveryChan)
		if err == nil {
			kp.messagesSent.Add(1)
			return nil
		}

		lastErr = err

		if kafkaErr, ok := err.(kafka.Error); ok && !kafkaErr.IsRetriable() {
			kp.messagesFailed.Add(1)
			return errors.Wrap(err, "non-retriable error")
		}
	}

	kp.messagesFailed.Add(1)
	return errors.Wrapf(lastErr, "failed after %d retries", kp.maxRetries)
}

// SendEventBatch sends events concurrently using a pool of workers
func (kp *KafkaProducer) SendEventBatch(ctx context.Context, events []*models.DetectionEvent, workerCount int) error {
	if len(events) == 0 {
		return nil
	}
	if workerCount < 1 {
		workerCount = 1
	}

	kp.logger.Debug("sending event batch", "events", len(events), "workers", workerCount)

	jobs := make(chan *models.DetectionEvent, len(events))
	errs := make(chan error, len(events))

	var workerWg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWg.Add(1)
		go func(workerID int) {
			defer workerWg.Done()
			for event := range jobs {
				if err := kp.SendEvent(ctx, event); err != nil {
					errs <- errors.Wrapf(err, "worker %d", workerID)
				}
			}
		}(i)
	}

	for _, event := range events {
		jobs <- event
	}
	close(jobs)

	workerWg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch send completed with %d errors (first error: %w)", len(failed), failed[0])
	}
	return nil
}

// PublishDetections publishes one event per detection of a mission run.
func (kp *KafkaProducer) PublishDetections(ctx context.Context, missionID string, detections []models.Detection) error {
	return kp.SendEventBatch(ctx, NewDetectionEvents(missionID, detections), kp.config.MaxInFlight)
}

// StreamFromChannel reads detections from a channel until it is closed and
// publishes them under missionID. Ranks follow the order of arrival.
func (kp *KafkaProducer) StreamFromChannel(ctx context.Context, missionID string, detectionChan <-chan models.Detection) error {
	rank := 0
	failed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-kp.ctx.Done():
			return errors.New("producer closed")
		case d, ok := <-detectionChan:
			if !ok {
				if failed > 0 {
					return errors.Errorf("stream completed with %d errors", failed)
				}
				return nil
			}
			rank++
			event := &models.DetectionEvent{
				EventID:   GenerateEventID(),
				MissionID: missionID,
				EmittedAt: time.Now().UTC(),
				Rank:      rank,
				Detection: d,
				Tier:      ranking.ConfidenceTier(d),
			}
			if err := kp.SendEvent(ctx, event); err != nil {
				kp.logger.Error("stream send failed", logging.Err(err), "rank", rank)
				failed++
			}
		}
	}
}

// Flush waits for all pending messages to be delivered
func (kp *KafkaProducer) Flush(timeout time.Duration) {
	remaining := kp.producer.Flush(int(timeout.Milliseconds()))
	if remaining > 0 {
		kp.logger.Warn("messages still queued after flush timeout", "remaining", remaining, "timeout", timeout.String())
		return
	}
	kp.logger.Debug("all messages flushed")
}

// GetMetrics returns current producer metrics
func (kp *KafkaProducer) GetMetrics() map[string]int64 {
	sent := kp.messagesSent.Load()
	acked := kp.messagesAcked.Load()
	failed := kp.messagesFailed.Load()
	return map[string]int64{
		"messages_sent":    sent,
		"messages_acked":   acked,
		"messages_failed":  failed,
		"messages_pending": sent - acked,
	}
}

// LogMetrics logs current metrics
func (kp *KafkaProducer) LogMetrics() {
	m := kp.GetMetrics()
	kp.logger.Info("producer metrics",
		"sent", m["messages_sent"],
		"acked", m["messages_acked"],
		"failed", m["messages_failed"],
		"pending", m["messages_pending"])
}

// Close flushes outstanding messages and shuts the producer down
func (kp *KafkaProducer) Close() {
	kp.logger.Info("shutting down kafka producer")

	kp.Flush(30 * time.Second)
	kp.cancel()
	kp.wg.Wait()
	kp.producer.Close()

	kp.LogMetrics()
}

// GenerateEventID creates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
