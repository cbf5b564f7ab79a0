package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/happynocode/app-review-analysis/internal/config"
	"github.com/happynocode/app-review-analysis/internal/observability"
)

const defaultPublishTimeout = 2 * time.Second

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes metrics and alerts as JSON messages.
type KafkaSink struct {
	writer       messageWriter
	metricsTopic string
	alertsTopic  string
	timeout      time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewKafkaSink creates a sink backed by a kafka-go writer. The writer has no
// fixed topic; each message names its own.
func NewKafkaSink(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.MetricsTopic == "" || cfg.AlertsTopic == "" {
		return nil, errors.New("kafka metrics and alerts topics are required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, cfg, metrics, logger), nil
}

func newKafkaSink(w messageWriter, cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) *KafkaSink {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaSink{
		writer:       w,
		metricsTopic: cfg.MetricsTopic,
		alertsTopic:  cfg.AlertsTopic,
		timeout:      timeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "kafka_sink").Logger(),
	}
}

// EmitMetric publishes m to the metrics topic, keyed by metric name.
func (s *KafkaSink) EmitMetric(ctx context.Context, m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.publish(ctx, "metric", s.metricsTopic, m.Name, m)
}

// RaiseAlert publishes a to the alerts topic, keyed by alert type.
func (s *KafkaSink) RaiseAlert(ctx context.Context, a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	s.publish(ctx, "alert", s.alertsTopic, a.Type, a)
}

func (s *KafkaSink) publish(ctx context.Context, kind, topic, key string, payload interface{}) {
	value, err := json.Marshal(payload)
	if err != nil {
		s.logger.Debug().Err(err).Str("kind", kind).Msg("failed to encode sink payload")
		s.metrics.RecordSinkFailure(kind)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("kind", kind).
			Str("topic", topic).
			Msg("failed to publish to kafka")
		s.metrics.RecordSinkFailure(kind)
	}
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// NewSinkFromConfig returns the log sink, fanned out to Kafka when publishing
// is enabled.
func NewSinkFromConfig(cfg config.KafkaConfig, metrics *observability.Metrics, logger zerolog.Logger) (Sink, error) {
	logSink := NewLogSink(logger)
	if !cfg.Enabled {
		return logSink, nil
	}
	kafkaSink, err := NewKafkaSink(cfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka sink: %w", err)
	}
	return NewMultiSink(logSink, kafkaSink), nil
}
