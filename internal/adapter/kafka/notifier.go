package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/config"
	"github.com/couchcryptid/mesh-timeseries-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Notifier publishes one message per committed date key.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured commit topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaCommitTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyCommitted publishes every commit record in a single WriteMessages call.
// Messages are keyed by client so one client's commits stay ordered.
func (n *Notifier) NotifyCommitted(ctx context.Context, commits []domain.Commit) error {
	if len(commits) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(commits))
	for i := range commits {
		msg, err := serializeToMessage(commits[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	n.logger.Debug("commit notifications published", "count", len(msgs), "topic", n.writer.Topic)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a commit record into a Kafka message.
func serializeToMessage(c domain.Commit) (kafkago.Message, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize commit: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(c.Client),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "date_key", Value: []byte(c.DateKey)},
			{Key: "committed_at", Value: []byte(c.CommittedAt.Format(time.RFC3339))},
		},
	}, nil
}
