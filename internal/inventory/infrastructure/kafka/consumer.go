// Package kafka consumes the event stream and surfaces low stock alerts.
// Notification is fire-and-forget: the stock mutation committed before the
// event was published, so a failed alert never affects inventory state.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eleganza/commerce-core/internal/inventory/domain"
	"github.com/eleganza/commerce-core/pkg/idempotency"
	"github.com/eleganza/commerce-core/pkg/tracing"
)

// Notifier receives low stock alerts. The default implementation just logs;
// a mail or chat gateway satisfies the same interface.
type Notifier interface {
	NotifyLowStock(ctx context.Context, alert domain.StockLow) error
}

type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) NotifyLowStock(_ context.Context, alert domain.StockLow) error {
	n.Log.Warn("low stock alert", "sku", alert.SKU, "available", alert.Available, "threshold", alert.Threshold)
	return nil
}

type Consumer struct {
	log      *slog.Logger
	reader   *kafka.Reader
	notifier Notifier
	idem     *idempotency.Store
	tracer   trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, notifier Notifier, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:      log,
		reader:   r,
		notifier: notifier,
		idem:     idem,
		tracer:   otel.Tracer("inventory-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if headerValue(msg.Headers, "event_type") != "StockLow" {
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := c.tracer.Start(msgCtx, "ConsumeStockLow")

		var alert domain.StockLow
		if err := json.Unmarshal(msg.Value, &alert); err != nil {
			c.log.Error("unmarshal failed", "err", err)
			span.End()
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}
		if err := c.notifier.NotifyLowStock(msgCtx, alert); err != nil {
			c.log.Error("low stock notification failed", "sku", alert.SKU, "err", err)
		}
		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
