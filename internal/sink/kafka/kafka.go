package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink publishes one message per stream pass, keyed by namespace.stream so the reports
// of a stream stay ordered within a partition.
type Sink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func New(brokers []string, topic string, logger *zap.Logger) (*Sink, error) {
	logger.Info("Creating Kafka report sink",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug("Kafka writer log", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer error", zap.String("msg", fmt.Sprintf(msg, args...)))
		}),
	}
	return &Sink{writer: writer, topic: topic, logger: logger}, nil
}

func (s *Sink) Publish(report types.SyncReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("Failed to marshal sync report", zap.Error(err))
		return err
	}
	key := report.Namespace + "." + report.Stream

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err = s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now()})
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("Failed to write sync report to Kafka",
			zap.Error(err),
			zap.String("key", key),
			zap.Duration("duration", duration))
		return err
	}

	s.logger.Debug("Sync report sent to Kafka",
		zap.String("key", key),
		zap.String("topic", s.topic),
		zap.Int("message_size", len(data)),
		zap.Duration("duration", duration))
	return nil
}

func (s *Sink) Close() error {
	s.logger.Info("Closing Kafka report sink")
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}
