package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"linkcore.local/internal/platform/metrics"
)

// KafkaCollector 把点击事件异步写到 Kafka，多实例部署时由 KafkaConsumer 统一落库。
type KafkaCollector struct {
	writer *kafka.Writer
}

func NewKafkaCollector(brokers []string, topic string) *KafkaCollector {
	return &KafkaCollector{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // 同一短码落到同一分区
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					metrics.ClickEventsDropped.Add(float64(len(messages)))
					slog.Error("kafka write failed", "err", err, "count", len(messages))
				}
			},
		},
	}
}

func (k *KafkaCollector) Collect(event ClickEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		metrics.ClickEventsDropped.Inc()
		return
	}
	// Async 模式下 WriteMessages 只入队，不会阻塞请求
	if err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.Code),
		Value: data,
	}); err != nil {
		metrics.ClickEventsDropped.Inc()
		slog.Error("kafka enqueue failed", "err", err)
	}
}

func (k *KafkaCollector) Close() {
	if err := k.writer.Close(); err != nil {
		slog.Error("kafka writer close failed", "err", err)
	}
}
