package stats

import (
	"context"
	"log/slog"
	"time"
)

// Consumer 从 ChannelCollector 读事件，攒批写入 Sink。
type Consumer struct {
	sink      Sink
	collector *ChannelCollector
	batchSize int
	interval  time.Duration
}

func NewConsumer(sink Sink, collector *ChannelCollector) *Consumer {
	return &Consumer{
		sink:      sink,
		collector: collector,
		batchSize: 100,         // 批量写入大小
		interval:  time.Second, // 最大等待时间
	}
}

// Run 阻塞，直到 ctx 结束或 collector 关闭；退出前把剩余事件刷掉。
func (c *Consumer) Run(ctx context.Context) {
	batch := make([]ClickEvent, 0, c.batchSize)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain(batch)
			return
		case event, ok := <-c.collector.Events():
			if !ok {
				flush(c.sink, batch)
				return
			}
			batch = append(batch, event)
			if len(batch) >= c.batchSize {
				flush(c.sink, batch)
				batch = batch[:0] // 保留容量，避免反复分配
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush(c.sink, batch)
				batch = batch[:0]
			}
		}
	}
}

// drain 把 channel 里已经排队的事件一起带走再刷盘。
func (c *Consumer) drain(batch []ClickEvent) {
	for {
		select {
		case event, ok := <-c.collector.Events():
			if !ok {
				flush(c.sink, batch)
				return
			}
			batch = append(batch, event)
		default:
			flush(c.sink, batch)
			return
		}
	}
}

// flush 用独立的 context，关停时 ctx 已经取消也要能写完最后一批。
func flush(sink Sink, batch []ClickEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sink.SaveClickEvents(ctx, batch); err != nil {
		slog.Error("click events: flush failed", "err", err, "count", len(batch))
		return
	}
	slog.Debug("click events: flushed", "count", len(batch))
}
