// Package consumers contains Kafka consumers for background processing tasks.
package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// Tenant change actions.
const (
	TenantActionUpsert  = "upsert"
	TenantActionDisable = "disable"
)

// TenantChangeEvent announces that a tenant record changed in the identity store.
type TenantChangeEvent struct {
	TenantID   string    `json:"tenant_id"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CacheInvalidator is implemented by identity.Directory.
type CacheInvalidator interface {
	Invalidate()
}

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TenantEventConsumer flushes the local identity cache whenever another
// instance (or the admin CLI) reports a tenant change. Every broker instance
// needs to see every event, so each one joins its own consumer group.
type TenantEventConsumer struct {
	reader  MessageReader
	cache   CacheInvalidator
	logger  logger.Logger
	backoff time.Duration
}

// NewTenantEventConsumer creates a consumer on cfg.TenantEventsTopic.
func NewTenantEventConsumer(cfg config.KafkaConfig, instanceID string, cache CacheInvalidator, log logger.Logger) (*TenantEventConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.TenantEventsTopic == "" {
		return nil, fmt.Errorf("kafka brokers and tenant events topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.TenantEventsTopic,
		GroupID:        cfg.ConsumerGroup + "-" + instanceID,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: time.Second,
	})
	return NewTenantEventConsumerWithReader(reader, cache, log), nil
}

// NewTenantEventConsumerWithReader wraps an existing reader.
func NewTenantEventConsumerWithReader(reader MessageReader, cache CacheInvalidator, log logger.Logger) *TenantEventConsumer {
	return &TenantEventConsumer{
		reader:  reader,
		cache:   cache,
		logger:  log.WithComponent("tenant_events"),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *TenantEventConsumer) Run(ctx context.Context) {
	c.logger.Info(ctx, "Tenant event consumer started")
	defer c.logger.Info(context.Background(), "Tenant event consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error(ctx, "Failed to fetch tenant event", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn(ctx, "Failed to commit tenant event", logger.Error(err))
		}
	}
}

// Close stops the underlying reader; Run returns shortly after.
func (c *TenantEventConsumer) Close() error {
	return c.reader.Close()
}

func (c *TenantEventConsumer) handle(ctx context.Context, msg kafka.Message) {
	var event TenantChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// undecodable events are committed so they are not redelivered
		c.logger.Warn(ctx, "Dropping malformed tenant event", logger.Error(err), logger.Int64("offset", msg.Offset))
		return
	}
	if event.TenantID == "" {
		c.logger.Warn(ctx, "Dropping tenant event without tenant id", logger.Int64("offset", msg.Offset))
		return
	}

	c.cache.Invalidate()
	c.logger.Info(ctx, "Identity cache invalidated",
		logger.String("tenant_id", event.TenantID),
		logger.String("action", event.Action))
}

// ====================================================================================
// Producer side
// ====================================================================================

// MessageWriter is the subset of *kafka.Writer used by TenantEventWriter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TenantEventWriter publishes TenantChangeEvents keyed by tenant id.
type TenantEventWriter struct {
	writer MessageWriter
}

// NewTenantEventWriter creates a synchronous writer on topic.
func NewTenantEventWriter(brokers []string, topic string) *TenantEventWriter {
	return NewTenantEventWriterWith(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

// NewTenantEventWriterWith wraps an existing writer.
func NewTenantEventWriterWith(writer MessageWriter) *TenantEventWriter {
	return &TenantEventWriter{writer: writer}
}

// Publish writes one event.
func (w *TenantEventWriter) Publish(ctx context.Context, tenantID, action string) error {
	payload, err := json.Marshal(TenantChangeEvent{
		TenantID:   tenantID,
		Action:     action,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, kafka.Message{Key: []byte(tenantID), Value: payload})
}

// Close flushes and closes the writer.
func (w *TenantEventWriter) Close() error {
	return w.writer.Close()
}
