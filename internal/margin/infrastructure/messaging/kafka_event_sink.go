// Package messaging 提供风险事件的 Kafka 发布实现。
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/marginrisk/internal/margin/domain"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/logging"
)

// eventEnvelope Kafka 消息体
type eventEnvelope struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// KafkaEventSink 将风险事件发布到 Kafka topic，实现 domain.EventSink
type KafkaEventSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaEventSink 创建 Kafka 事件发布器
func NewKafkaEventSink(brokers []string, topic string) *KafkaEventSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Gzip,
		MaxAttempts:            3,
	}
	return &KafkaEventSink{writer: writer, topic: topic}
}

// Emit 实现 domain.EventSink.Emit
// 以 eventType 作为分区键，同类事件保持有序
func (s *KafkaEventSink) Emit(ctx context.Context, eventType, source string, severity domain.EventSeverity, payload any) error {
	envelope := eventEnvelope{
		EventID:   fmt.Sprintf("EVT-%d", idgen.GenID()),
		EventType: eventType,
		Source:    source,
		Severity:  string(severity),
		Timestamp: time.Now(),
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventType),
		Value: data,
	})
	if err != nil {
		logging.Error(ctx, "failed to publish event", "event_type", eventType, "error", err)
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close 关闭底层 writer
func (s *KafkaEventSink) Close() error {
	return s.writer.Close()
}
