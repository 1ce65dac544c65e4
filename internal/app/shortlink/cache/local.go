package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalCache 基于 ristretto 的进程内 L1 缓存。
type LocalCache struct {
	cache    *ristretto.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewLocalCache 创建本地缓存
// maxItems: 最大缓存条目数（建议 10000-100000）
// maxCost: 最大内存占用（字节，建议 16MB-64MB）
func NewLocalCache(maxItems int64, maxCost int64) (*LocalCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10, // 计数器数量，建议为 maxItems 的 10 倍
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		cache:    cache,
		ttl:      5 * time.Minute,  // 本地缓存 TTL 短一些，保证多实例一致性
		emptyTTL: 10 * time.Second, // 负缓存 TTL
	}, nil
}

func (l *LocalCache) Get(code string) (Entry, bool) {
	v, ok := l.cache.Get(code)
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

func (l *LocalCache) Set(code string, e Entry) {
	ttl := l.ttl
	if e.NotFound {
		ttl = l.emptyTTL
	}
	// cost=1 表示按条目数限制
	l.cache.SetWithTTL(code, e, 1, ttl)
}

// Wait 等待 ristretto 的异步写缓冲落地（测试里用）。
func (l *LocalCache) Wait() {
	l.cache.Wait()
}

func (l *LocalCache) Del(code string) {
	l.cache.Del(code)
}

func (l *LocalCache) Close() {
	l.cache.Close()
}
