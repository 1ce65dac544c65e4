package shortlink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"linkcore.local/internal/platform/metrics"
)

// DefaultMaxAttempts 是自动生成短码时的最大尝试次数。
const DefaultMaxAttempts = 5

// ShortenInput 是创建短链的入参。CustomCode/ExpiresAt 为 nil 表示未提供。
type ShortenInput struct {
	OriginalURL string
	CustomCode  *string
	ExpiresAt   *string
	Owner       Identity
}

// Service 是短链核心用例：创建（Orchestrator）、解析（Resolution Engine）、
// 所有权校验（Ownership Guard）和点击数读取。
//
// Service 本身不持有可变共享状态，也不加锁；一致性完全交给 Store 的原子操作。
type Service struct {
	store       Store
	gen         Generator
	filter      CodeFilter
	now         func() time.Time
	maxAttempts int
}

// 每次插入机会最多允许被布隆过滤器跳过的次数。
const filterSkipFactor = 4

type Option func(*Service)

func WithGenerator(g Generator) Option { return func(s *Service) { s.gen = g } }

// WithCodeFilter 让生成路径先用布隆过滤器跳过“可能已存在”的候选码，省一次数据库往返。
func WithCodeFilter(f CodeFilter) Option { return func(s *Service) { s.filter = f } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		gen:         RandomGenerator{},
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shorten 校验输入并创建短链。
//
// - 自定义短码：只尝试一次，冲突直接返回 ErrCodeTaken（调用方是有意选的这个码）
// - 自动生成：有界重试，全部冲突返回 ErrGenerationExhausted
//
// 任何校验失败都不会写存储。
func (s *Service) Shorten(ctx context.Context, in ShortenInput) (ShortLink, error) {
	if err := ValidateURL(in.OriginalURL); err != nil {
		metrics.ShortenTotal.WithLabelValues("invalid").Inc()
		return ShortLink{}, err
	}
	now := s.now().UTC()

	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		t, err := ParseExpiry(*in.ExpiresAt, now)
		if err != nil {
			metrics.ShortenTotal.WithLabelValues("invalid").Inc()
			return ShortLink{}, err
		}
		expiresAt = &t
	}

	link := ShortLink{
		OriginalURL: in.OriginalURL,
		OwnerID:     in.Owner,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	if in.CustomCode != nil {
		if err := ValidateCode(*in.CustomCode); err != nil {
			metrics.ShortenTotal.WithLabelValues("invalid").Inc()
			return ShortLink{}, err
		}
		link.Code = *in.CustomCode
		created, err := s.store.Insert(ctx, link)
		if err != nil {
			if errors.Is(err, ErrCodeTaken) {
				metrics.ShortenTotal.WithLabelValues("code_taken").Inc()
			} else {
				metrics.ShortenTotal.WithLabelValues("error").Inc()
			}
			return ShortLink{}, err
		}
		s.remember(created.Code)
		metrics.ShortenTotal.WithLabelValues("custom").Inc()
		return created, nil
	}

	// 布隆过滤器只是提示：命中不占插入次数，单独限额；
	// 过滤器饱和（误判率趋近 1）时限额用完就不再查它，直接交给存储判定
	filterSkips, maxFilterSkips := 0, filterSkipFactor*s.maxAttempts
	for attempt := 0; attempt < s.maxAttempts; {
		code := s.gen.Generate()
		if s.filter != nil && filterSkips < maxFilterSkips && s.filter.MightExist(code) {
			filterSkips++
			metrics.CodeCollisions.WithLabelValues("filter").Inc()
			if filterSkips == maxFilterSkips {
				slog.Warn("code filter looks saturated, checking store directly", "skips", filterSkips)
			}
			continue
		}
		attempt++
		link.Code = code
		created, err := s.store.Insert(ctx, link)
		if err == nil {
			s.remember(created.Code)
			metrics.ShortenTotal.WithLabelValues("generated").Inc()
			return created, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			metrics.ShortenTotal.WithLabelValues("error").Inc()
			return ShortLink{}, err
		}
		metrics.CodeCollisions.WithLabelValues("store").Inc()
		slog.Debug("generated code collided, retrying", "attempt", attempt)
	}

	// 8 位 64 进制下几乎不可能走到这里，出现就说明生成器或存储有问题
	slog.Error("code generation exhausted", "attempts", s.maxAttempts)
	metrics.ShortenTotal.WithLabelValues("exhausted").Inc()
	return ShortLink{}, ErrGenerationExhausted
}

func (s *Service) remember(code string) {
	if s.filter != nil {
		s.filter.Add(code)
	}
}

// Resolve 解析短码：Resolved 时原子地 click_count+1 并返回记录；
// 否则返回 ErrNotFound 或 ErrExpired，且不产生任何写入。
func (s *Service) Resolve(ctx context.Context, code string) (ShortLink, error) {
	link, err := s.store.Resolve(ctx, code, s.now().UTC())
	switch {
	case err == nil:
		metrics.ShortlinkRedirects.WithLabelValues("resolved").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.ShortlinkRedirects.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrExpired):
		metrics.ShortlinkRedirects.WithLabelValues("expired").Inc()
	default:
		metrics.ShortlinkRedirects.WithLabelValues("error").Inc()
	}
	return link, err
}

// AuthorizeDelete 是删除前的所有权校验：不存在 ErrNotFound，非本人 ErrForbidden。
// 匿名创建的短链没有 owner，任何人都不能删除。
func (s *Service) AuthorizeDelete(ctx context.Context, identity Identity, code string) (ShortLink, error) {
	link, err := s.store.Get(ctx, code)
	if err != nil {
		return ShortLink{}, err
	}
	if identity == Anonymous || link.OwnerID != identity {
		return ShortLink{}, ErrForbidden
	}
	return link, nil
}

// Delete 校验所有权后硬删除。存储层的删除带 owner 条件，
// 所以校验和删除之间被别人删掉再重建同名短码也不会误删。
func (s *Service) Delete(ctx context.Context, identity Identity, code string) (ShortLink, error) {
	if _, err := s.AuthorizeDelete(ctx, identity, code); err != nil {
		return ShortLink{}, err
	}
	return s.store.Delete(ctx, code, identity)
}

// ListMine 只返回 identity 自己的短链。
func (s *Service) ListMine(ctx context.Context, identity Identity, limit int) ([]ShortLink, error) {
	if identity == Anonymous {
		return nil, ErrForbidden
	}
	return s.store.ListByOwner(ctx, identity, limit)
}

// Owns 判断 identity 是否是 code 的所有者（用于点击明细等只读的受保护查询）。
func (s *Service) Owns(ctx context.Context, identity Identity, code string) error {
	_, err := s.AuthorizeDelete(ctx, identity, code)
	return err
}

func (s *Service) ClickCount(ctx context.Context, code string) (int64, error) {
	return s.store.ClickCount(ctx, code)
}

// PurgeExpired 删除过期超过 grace 的记录。过期判断本身仍以读时为准，这里只是回收空间。
func (s *Service) PurgeExpired(ctx context.Context, grace time.Duration) ([]string, error) {
	if grace < 0 {
		grace = 0
	}
	codes, err := s.store.PurgeExpired(ctx, s.now().UTC().Add(-grace))
	if err != nil {
		return nil, err
	}
	metrics.PurgedLinks.Add(float64(len(codes)))
	return codes, nil
}

// WarmFilter 用存储中已有的短码预热布隆过滤器。存储不支持遍历时直接跳过。
func (s *Service) WarmFilter(ctx context.Context) (int, error) {
	lister, ok := s.store.(CodeLister)
	if !ok || s.filter == nil {
		return 0, nil
	}
	n := 0
	err := lister.EachCode(ctx, func(code string) {
		s.filter.Add(code)
		n++
	})
	return n, err
}
