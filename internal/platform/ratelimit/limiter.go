package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rule 一类路由的限流规则，如 shorten 每分钟 10 次。
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// 滑动窗口：ZSET 里存窗口内每次请求的时间戳，ZCARD 即窗口内请求数。
// 超限的这次会被 ZREM 掉，不占名额。
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
redis.call("ZADD", key, now, member)
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window)

if count <= limit then
  return {1, 0}
end

redis.call("ZREM", key, member)

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] ~= nil then
  local retryAfter = (tonumber(oldest[2]) + window) - now
  if retryAfter < 0 then retryAfter = 0 end
  return {0, retryAfter}
end
return {0, window}
`)

type Limiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewLimiter(client redis.UniversalClient) *Limiter {
	return &Limiter{
		client: client,
		now:    time.Now,
	}
}

// Allow 返回：allowed、retryAfter（仅当超限时有意义）。
//
// member 必须每次请求唯一，否则 ZADD 会覆盖同一个 member；用 UUID，
// 不依赖 UnixNano 的分辨率。
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error) {
	member := uuid.NewString()
	res, err := slidingWindow.Run(ctx, l.client, []string{key},
		l.now().UnixMilli(), rule.Window.Milliseconds(), rule.Limit, member).Result()
	if err != nil {
		return false, 0, err
	}

	arr, ok := res.([]any)
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected redis eval result: %T %v", res, res)
	}

	allowed, _ := arr[0].(int64)
	var retryAfterMs int64
	switch v := arr[1].(type) {
	case int64:
		retryAfterMs = v
	case string:
		retryAfterMs, _ = strconv.ParseInt(v, 10, 64)
	}

	return allowed == 1, time.Duration(retryAfterMs) * time.Millisecond, nil
}
