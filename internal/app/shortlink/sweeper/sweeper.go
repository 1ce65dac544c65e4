package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger 由 shortlink.Service 实现。
type Purger interface {
	PurgeExpired(ctx context.Context, grace time.Duration) ([]string, error)
}

// Sweeper 定期物理删除过期超过 grace 的短链。
//
// 过期判断始终在读时完成，这里只是回收空间；不跑也不影响正确性。
type Sweeper struct {
	purger   Purger
	interval time.Duration
	grace    time.Duration

	mu sync.Mutex // 定时任务和手动触发不并发执行
}

func New(purger Purger, interval, grace time.Duration) *Sweeper {
	return &Sweeper{
		purger:   purger,
		interval: interval,
		grace:    grace,
	}
}

// RunOnce 执行一轮清理，返回删除的条数。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	codes, err := s.purger.PurgeExpired(ctx, s.grace)
	if err != nil {
		slog.Error("sweeper: purge failed", "err", err)
		return 0, err
	}
	if len(codes) > 0 {
		slog.Info("sweeper: purged expired links", "count", len(codes), "grace", s.grace.String(), "took_ms", time.Since(start).Milliseconds())
	}
	return len(codes), nil
}

// Run 阻塞直到 ctx 结束。启动时先跑一轮。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		runCtx, cancel := context.WithTimeout(ctx, s.interval)
		_, _ = s.RunOnce(runCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
