package stats

import (
	"sync"
	"time"

	"linkcore.local/internal/platform/metrics"
)

// ClickEvent 一次成功跳转的明细
type ClickEvent struct {
	ID        int64     `json:"id,omitempty"` // 落库后才有
	Code      string    `json:"code"`
	ClickedAt time.Time `json:"clickedAt"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Referer   string    `json:"referer"`
}

// Collector 收集点击事件。Collect 不能阻塞请求路径。
type Collector interface {
	Collect(event ClickEvent)
	Close()
}

// ChannelCollector 基于 channel 的进程内收集器，满了就丢弃并计数。
type ChannelCollector struct {
	mu     sync.RWMutex
	ch     chan ClickEvent
	closed bool
}

func NewChannelCollector(bufferSize int) *ChannelCollector {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &ChannelCollector{
		ch: make(chan ClickEvent, bufferSize),
	}
}

func (c *ChannelCollector) Collect(event ClickEvent) {
	// 读锁保证 Close 之后不会再往已关闭的 channel 里写
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
	default:
		metrics.ClickEventsDropped.Inc()
	}
}

func (c *ChannelCollector) Events() <-chan ClickEvent {
	return c.ch
}

// Close 可重复调用。
func (c *ChannelCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// NopCollector 丢弃所有事件（关闭点击明细时使用）。
type NopCollector struct{}

func (NopCollector) Collect(ClickEvent) {}
func (NopCollector) Close()             {}
