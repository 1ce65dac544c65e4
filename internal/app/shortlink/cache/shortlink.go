package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"linkcore.local/internal/platform/metrics"
)

const notFoundSentinel = "__nil__"

const keyPrefix = "sl:"

// Entry 是缓存里的一条短链元数据。
//
// 只缓存不可变字段（url、过期时间），点击数永远以存储为准。
// NotFound=true 是负缓存，防止不存在的短码反复穿透到数据库。
type Entry struct {
	URL       string     `json:"u"`
	ExpiresAt *time.Time `json:"e,omitempty"`
	NotFound  bool       `json:"-"`
}

// ShortlinkCache 两级缓存：L1 ristretto + L2 Redis。
type ShortlinkCache struct {
	client   redis.UniversalClient
	local    *LocalCache // L1 本地缓存，可为 nil
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewShortlinkCache(client redis.UniversalClient, local *LocalCache) *ShortlinkCache {
	return &ShortlinkCache{
		client:   client,
		local:    local,
		ttl:      time.Hour,
		emptyTTL: 30 * time.Second,
	}
}

// Get 返回 (entry, 是否命中, err)。未命中不是错误。
func (c *ShortlinkCache) Get(ctx context.Context, code string) (Entry, bool, error) {
	// L1
	if c.local != nil {
		if e, ok := c.local.Get(code); ok {
			if e.NotFound {
				metrics.CacheOperations.WithLabelValues("l1", "hit_negative").Inc()
			} else {
				metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
			}
			return e, true, nil
		}
	}

	// L2
	res, err := c.client.Get(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOperations.WithLabelValues("l2", "miss").Inc()
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var e Entry
	if res == notFoundSentinel {
		e.NotFound = true
		metrics.CacheOperations.WithLabelValues("l2", "hit_negative").Inc()
	} else {
		if err := json.Unmarshal([]byte(res), &e); err != nil {
			// 脏数据当未命中处理，顺手删掉
			slog.Warn("shortlink cache: bad entry", "code", code, "err", err)
			_ = c.client.Del(ctx, keyPrefix+code).Err()
			return Entry{}, false, nil
		}
		metrics.CacheOperations.WithLabelValues("l2", "hit").Inc()
	}

	// 回填本地缓存
	if c.local != nil {
		c.local.Set(code, e)
	}
	return e, true, nil
}

// Set 写正缓存，无条件覆盖（包括负缓存）。先写 Redis 再写 L1，
// 和 SetNotFound 的顺序对上：负缓存写进 Redis 之后才可能碰 L1。
func (c *ShortlinkCache) Set(ctx context.Context, code string, e Entry) error {
	e.NotFound = false
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = c.client.Set(ctx, keyPrefix+code, data, c.ttl).Err()
	if c.local != nil {
		c.local.Set(code, e)
	}
	return err
}

// SetNotFound 用明确哨兵值做"负缓存"，避免缓存穿透。
// 不要用 "" 作为哨兵值（容易把"未命中"和"命中空值"混淆）。
//
// 用 SETNX：查库到写缓存之间可能有并发创建已经写了正缓存，负缓存不能盖掉它。
// Redis 里已经有值，或者 L1 里已经是正缓存，就不写 L1。
func (c *ShortlinkCache) SetNotFound(ctx context.Context, code string) error {
	ok, err := c.client.SetNX(ctx, keyPrefix+code, notFoundSentinel, c.emptyTTL).Result()
	if err != nil {
		return err
	}
	if !ok || c.local == nil {
		return nil
	}
	if e, hit := c.local.Get(code); hit && !e.NotFound {
		return nil
	}
	c.local.Set(code, Entry{NotFound: true})
	return nil
}

func (c *ShortlinkCache) Delete(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		if c.local != nil {
			c.local.Del(code)
		}
		keys = append(keys, keyPrefix+code)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Close 关闭本地缓存
func (c *ShortlinkCache) Close() {
	if c.local != nil {
		c.local.Close()
		slog.Info("本地缓存已关闭")
	}
}
