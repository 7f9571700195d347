package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/questforge/server/config"
	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher streams notices to a Kafka topic keyed by player, so one
// player's notices stay ordered within a partition. Disabled publishers
// drop everything.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher from cfg. It never dials; the
// writer connects lazily on the first message.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka publisher disabled")
		return &KafkaPublisher{logger: logger}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return &KafkaPublisher{writer: w, logger: logger}
}

// Enabled reports whether messages are actually sent.
func (p *KafkaPublisher) Enabled() bool { return p.writer != nil }

// Handle publishes n. It satisfies hook.Handler.
func (p *KafkaPublisher) Handle(ctx context.Context, n quest.Notice) error {
	if p.writer == nil {
		return nil
	}
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.PlayerID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
		Time: n.At,
	})
}

// Close flushes and shuts down the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
