// Package events publishes a record of every finished pipeline run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"red-ai/internal/domain"
	"red-ai/internal/logging"
)

// Recorder receives publish outcomes.
type Recorder interface {
	RecordEventPublish(err error, latency time.Duration)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration. With no brokers the publisher
// only logs events.
type Config struct {
	Brokers []string
	Topic   string
}

// Publisher writes run events to a Kafka topic keyed by user id, so events
// of one user stay ordered within a partition.
type Publisher struct {
	writer   messageWriter
	topic    string
	enabled  bool
	recorder Recorder
	logger   *slog.Logger
}

type Option func(*Publisher)

func WithRecorder(r Recorder) Option {
	return func(p *Publisher) {
		p.recorder = r
	}
}

// New creates a run event publisher.
func New(cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		topic:  cfg.Topic,
		logger: logging.New("events"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		p.logger.Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true
	p.logger.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

// NotifyRun publishes ev.
func (p *Publisher) NotifyRun(ctx context.Context, ev domain.RunEvent) error {
	start := time.Now()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal run event: %w", err)
	}
	p.logger.Debug("publishing run event", "topic", p.topic, "run_id", ev.RunID, "status", ev.Status)

	if !p.enabled || p.writer == nil {
		p.record(nil, start)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("run." + string(ev.Status))},
			{Key: "runId", Value: []byte(ev.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.record(err, start)
		return fmt.Errorf("events: write to %s: %w", p.topic, err)
	}
	p.record(nil, start)
	return nil
}

func (p *Publisher) record(err error, start time.Time) {
	if p.recorder != nil {
		p.recorder.RecordEventPublish(err, time.Since(start))
	}
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
