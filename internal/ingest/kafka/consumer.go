// Package kafka consumes alerts from a Kafka topic and feeds them into
// the analysis service in batches. Offsets are committed only after a
// batch is accepted, giving at-least-once delivery; the suppression
// engine absorbs the resulting duplicates.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/quell/internal/alert"
	"github.com/linnemanlabs/quell/internal/pipeline"
	"github.com/segmentio/kafka-go"
)

const (
	defaultBatchSize  = 100
	defaultFlushEvery = 5 * time.Second
	maxWait           = 500 * time.Millisecond
	commitInterval    = 0 // synchronous commits

	submitRetryBase = time.Second
	submitRetryMax  = 30 * time.Second
)

// Submitter accepts alert batches for analysis.
type Submitter interface {
	Submit(ctx context.Context, alerts []alert.Alert) (*pipeline.SubmitResult, error)
}

// Config describes the consumer's connection and batching behavior.
type Config struct {
	Brokers string // comma-separated
	Topic   string
	GroupID string

	// BatchSize triggers a flush when this many alerts accumulate.
	// FlushEvery flushes a partial batch after this much quiet time.
	BatchSize  int
	FlushEvery time.Duration
}

// Validate checks connection parameters.
func (c *Config) Validate() error {
	if c.Brokers == "" {
		return errors.New("kafka: brokers are required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka: group id is required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	return c
}

// Consumer reads alert messages and submits them in batches.
type Consumer struct {
	cfg    Config
	reader *kafka.Reader
	svc    Submitter
	logger log.Logger

	// commit is reader.CommitMessages, a field so flush behavior is
	// testable without a broker.
	commit    func(ctx context.Context, msgs ...kafka.Message) error
	retryBase time.Duration
}

// NewConsumer creates a consumer configured for at-least-once delivery.
func NewConsumer(cfg Config, svc Submitter, logger log.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(cfg.Brokers, ","),
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        maxWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		cfg:       cfg,
		reader:    reader,
		svc:       svc,
		logger:    logger,
		commit:    reader.CommitMessages,
		retryBase: submitRetryBase,
	}, nil
}

// Run consumes until the context is canceled. Malformed messages are
// logged and committed so they cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "kafka consumer started",
		"topic", c.cfg.Topic, "group_id", c.cfg.GroupID, "batch_size", c.cfg.BatchSize)

	var (
		batch   []alert.Alert
		pending []kafka.Message
	)

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushEvery)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			a, perr := ParseAlert(msg.Value)
			if perr != nil {
				c.logger.Warn(ctx, "dropping malformed alert message",
					"error", perr.Error(), "offset", msg.Offset, "partition", msg.Partition)
				if cerr := c.commit(ctx, msg); cerr != nil {
					c.logger.Error(ctx, cerr, "offset commit failed for malformed message")
				}
				continue
			}
			batch = append(batch, *a)
			pending = append(pending, msg)
			if len(batch) >= c.cfg.BatchSize {
				if c.flush(ctx, batch, pending) != nil {
					return c.reader.Close()
				}
				batch, pending = nil, nil
			}

		case errors.Is(err, context.DeadlineExceeded):
			if c.flush(ctx, batch, pending) != nil {
				return c.reader.Close()
			}
			batch, pending = nil, nil

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			// best effort; an unsubmitted batch stays uncommitted and
			// is redelivered after restart
			_ = c.flush(ctx, batch, pending)
			return c.reader.Close()

		default:
			c.logger.Error(ctx, err, "kafka fetch failed")
		}
	}
}

// flush submits a batch, retrying with backoff until the service
// accepts it or the context ends. Offsets are committed only after a
// successful submit, so consumption never advances past a batch the
// service has not accepted.
func (c *Consumer) flush(ctx context.Context, batch []alert.Alert, pending []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}

	delay := c.retryBase
	for {
		sr, err := c.svc.Submit(ctx, batch)
		if err == nil {
			if cerr := c.commit(ctx, pending...); cerr != nil {
				c.logger.Error(ctx, cerr, "offset commit failed", "run_id", sr.ID)
			}
			c.logger.Info(ctx, "batch submitted", "run_id", sr.ID, "alerts", len(batch))
			return nil
		}

		c.logger.Error(ctx, err, "batch submit failed, retrying",
			"alerts", len(batch), "retry_in", delay.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > submitRetryMax {
			delay = submitRetryMax
		}
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// ParseAlert decodes and validates a single alert message.
func ParseAlert(data []byte) (*alert.Alert, error) {
	var a alert.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
