package shortlink

import (
	"context"
	"time"
)

// Identity 是调用方身份（JWT subject），核心只做相等比较，不关心内部结构。
// 空值表示匿名。
type Identity string

const Anonymous Identity = ""

// ShortLink 是短链领域对象。
//
// 创建后只有 ClickCount 会变化（由 Resolve 原子递增），其余字段不可变。
type ShortLink struct {
	Code        string
	OriginalURL string
	OwnerID     Identity
	CreatedAt   time.Time
	ExpiresAt   *time.Time // nil 表示永不过期
	ClickCount  int64
}

// ExpiredAt 判断在 now 时刻是否已过期。now == ExpiresAt 仍视为有效。
func (l ShortLink) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Store 是短链的持久化边界（Mapping Store）。
//
// 所有方法都必须是单条原子操作，调用方不做 check-then-act：
//   - Insert：code 冲突返回 ErrCodeTaken（compare-and-insert）
//   - Resolve：仅当记录存在且在 now 未过期时 click_count+1 并返回记录；
//     不存在返回 ErrNotFound，已过期返回 ErrExpired 且不计数
//   - Delete：仅当 owner 仍匹配时删除，返回被删除的记录
//
// 基础设施故障统一包装为 ErrStoreUnavailable。
// 分片（sharding）如果要做，就在这个接口后面按 code 哈希路由。
type Store interface {
	Insert(ctx context.Context, link ShortLink) (ShortLink, error)
	Get(ctx context.Context, code string) (ShortLink, error)
	Resolve(ctx context.Context, code string, now time.Time) (ShortLink, error)
	Delete(ctx context.Context, code string, owner Identity) (ShortLink, error)
	ListByOwner(ctx context.Context, owner Identity, limit int) ([]ShortLink, error)
	ClickCount(ctx context.Context, code string) (int64, error)
	// PurgeExpired 删除 expires_at < before 的记录，返回被删除的 code。
	PurgeExpired(ctx context.Context, before time.Time) ([]string, error)
}

// CodeLister 由能遍历已有短码的存储实现，用于启动时预热布隆过滤器。
type CodeLister interface {
	EachCode(ctx context.Context, fn func(code string)) error
}

// CodeFilter 是“可能已存在”的快速判断（布隆过滤器）。
// MightExist 返回 false 表示一定不存在。
type CodeFilter interface {
	Add(code string)
	MightExist(code string) bool
}
