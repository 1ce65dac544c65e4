package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConsumer struct {
	reader    *kafka.Reader
	sink      Sink
	batchSize int
	interval  time.Duration
}

func NewKafkaConsumer(brokers []string, topic string, sink Sink) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  "click-events-consumer",
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		sink:      sink,
		batchSize: 100,
		interval:  time.Second,
	}
}

func (k *KafkaConsumer) Run(ctx context.Context) {
	batch := make([]ClickEvent, 0, k.batchSize)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	msgCh := make(chan ClickEvent, k.batchSize)

	// 读取协程：ReadMessage 会阻塞，单独跑
	go func() {
		defer close(msgCh)
		for {
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("kafka read failed", "err", err)
				time.Sleep(time.Second)
				continue
			}

			var event ClickEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				slog.Error("unmarshal click event failed", "err", err)
				continue
			}
			select {
			case msgCh <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flush(k.sink, batch)
			return

		case event, ok := <-msgCh:
			if !ok {
				flush(k.sink, batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= k.batchSize {
				flush(k.sink, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				flush(k.sink, batch)
				batch = batch[:0]
			}
		}
	}
}

func (k *KafkaConsumer) Close() {
	if err := k.reader.Close(); err != nil {
		slog.Error("kafka reader close failed", "err", err)
	}
}
