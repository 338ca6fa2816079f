// Package stream publishes persisted scans to a Kafka topic so downstream
// consumers (SIEM, analytics) can follow them.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mbd888/securityguard/internal/notify"
	"github.com/mbd888/securityguard/internal/risk"
)

var (
	ErrClosed        = errors.New("stream: producer closed")
	ErrInvalidConfig = errors.New("stream: invalid config")
)

// Config configures the producer.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// Validate checks required fields.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: at least one broker is required", ErrInvalidConfig)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	return nil
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes scan records keyed by recipient address, so every scan of
// one counterparty lands on the same partition in order.
type Producer struct {
	writer  messageWriter
	cfg     Config
	logger  *slog.Logger
	closed  atomic.Bool
	written atomic.Int64
}

var _ notify.Sink = (*Producer)(nil)

// NewProducer creates a producer backed by a kafka.Writer.
func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}
	logger.Info("kafka producer initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newProducer(w, cfg, logger), nil
}

func newProducer(w messageWriter, cfg Config, logger *slog.Logger) *Producer {
	return &Producer{writer: w, cfg: cfg, logger: logger}
}

func (p *Producer) Name() string { return "kafka" }

// Send publishes rec.
func (p *Producer) Send(ctx context.Context, rec *risk.ScanRecord) error {
	if p.closed.Load() {
		return ErrClosed
	}
	msg, err := Message(rec)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write scan %d: %w", rec.ScanID, err)
	}
	p.written.Add(1)
	return nil
}

// Message encodes rec as a Kafka message.
func Message(rec *risk.ScanRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal scan: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.To),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "scan_id", Value: []byte(strconv.FormatInt(rec.ScanID, 10))},
			{Key: "threat_level", Value: []byte(rec.ThreatLevel)},
			{Key: "action", Value: []byte(rec.ActionTaken)},
		},
	}, nil
}

// Written returns the number of scans published.
func (p *Producer) Written() int64 { return p.written.Load() }

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.writer.Close()
}

// Ping dials the first reachable broker; used by the readiness check.
func Ping(ctx context.Context, brokers []string) error {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no brokers", ErrInvalidConfig)
	}
	return lastErr
}
