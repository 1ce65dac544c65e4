package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/cache"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const linkColumns = "code, original_url, owner_id, created_at, expires_at, click_count"

// ShortlinksRepo 是 shortlink.Store 的 PostgreSQL 实现。
//
// 唯一性由 short_links.code 主键保证，计数由 UPDATE ... click_count + 1 保证，
// 不在 Go 里做 read-modify-write。cache 可为 nil。
type ShortlinksRepo struct {
	db    *pgxpool.Pool
	cache *cache.ShortlinkCache
}

var _ shortlink.Store = (*ShortlinksRepo)(nil)
var _ shortlink.CodeLister = (*ShortlinksRepo)(nil)

func NewShortlinksRepo(db *pgxpool.Pool, cache *cache.ShortlinkCache) *ShortlinksRepo {
	return &ShortlinksRepo{
		db:    db,
		cache: cache,
	}
}

// unavailable 记录并包装基础设施错误。
func unavailable(err error) error {
	slog.Error(err.Error())
	return fmt.Errorf("%w: %w", shortlink.ErrStoreUnavailable, err)
}

func scanLink(row pgx.Row) (shortlink.ShortLink, error) {
	var l shortlink.ShortLink
	var owner string
	if err := row.Scan(&l.Code, &l.OriginalURL, &owner, &l.CreatedAt, &l.ExpiresAt, &l.ClickCount); err != nil {
		return shortlink.ShortLink{}, err
	}
	l.OwnerID = shortlink.Identity(owner)
	l.CreatedAt = l.CreatedAt.UTC()
	if l.ExpiresAt != nil {
		t := l.ExpiresAt.UTC()
		l.ExpiresAt = &t
	}
	return l, nil
}

// Insert 是 compare-and-insert：ON CONFLICT DO NOTHING 没有返回行就说明 code 已被占用。
func (s *ShortlinksRepo) Insert(ctx context.Context, link shortlink.ShortLink) (shortlink.ShortLink, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	row := s.db.QueryRow(dbctx,
		"INSERT INTO short_links ("+linkColumns+") VALUES ($1,$2,$3,$4,$5,0) ON CONFLICT (code) DO NOTHING RETURNING "+linkColumns,
		link.Code, link.OriginalURL, string(link.OwnerID), link.CreatedAt, link.ExpiresAt,
	)
	created, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shortlink.ShortLink{}, shortlink.ErrCodeTaken
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505": // unique_violation
				return shortlink.ShortLink{}, shortlink.ErrCodeTaken
			case "23514": // check_violation: expires_at <= created_at
				return shortlink.ShortLink{}, shortlink.ErrInvalidExpiry
			}
		}
		return shortlink.ShortLink{}, unavailable(err)
	}

	// 创建成功后立刻写缓存，覆盖之前可能存在的负缓存
	if s.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_ = s.cache.Set(cacheCtx, created.Code, cache.Entry{URL: created.OriginalURL, ExpiresAt: created.ExpiresAt})
	}
	return created, nil
}

func (s *ShortlinksRepo) Get(ctx context.Context, code string) (shortlink.ShortLink, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	link, err := scanLink(s.db.QueryRow(dbctx, "SELECT "+linkColumns+" FROM short_links WHERE code=$1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shortlink.ShortLink{}, shortlink.ErrNotFound
		}
		return shortlink.ShortLink{}, unavailable(err)
	}
	return link, nil
}

// Resolve 用一条带条件的 UPDATE 同时完成“判断未过期”和“计数 +1”，
// 所以不会出现“计了数但最终返回 Expired”的情况。
//
// 缓存只用来提前判定 NotFound；Resolved 一定走数据库递增。
// 缓存里"已过期"的条目不直接返回 410：别的实例可能已经清理并重建了同名短码，
// 过期链接本来就少，回库确认。
func (s *ShortlinksRepo) Resolve(ctx context.Context, code string, now time.Time) (shortlink.ShortLink, error) {
	if s.cache != nil {
		e, ok, err := s.cache.Get(ctx, code)
		if err != nil {
			slog.Warn("shortlink cache get failed", "code", code, "err", err)
		} else if ok && e.NotFound {
			return shortlink.ShortLink{}, shortlink.ErrNotFound
		}
	}

	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	link, err := scanLink(s.db.QueryRow(dbctx,
		"UPDATE short_links SET click_count = click_count + 1 WHERE code=$1 AND (expires_at IS NULL OR expires_at >= $2) RETURNING "+linkColumns,
		code, now,
	))
	if err == nil {
		s.cacheEntry(ctx, link)
		return link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return shortlink.ShortLink{}, unavailable(err)
	}

	// 没有更新到行：要么不存在，要么已过期
	var expiresAt *time.Time
	err = s.db.QueryRow(dbctx, "SELECT expires_at FROM short_links WHERE code=$1", code).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if s.cache != nil {
				cacheCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()
				_ = s.cache.SetNotFound(cacheCtx, code)
			}
			return shortlink.ShortLink{}, shortlink.ErrNotFound
		}
		return shortlink.ShortLink{}, unavailable(err)
	}
	if expiresAt == nil || !now.After(*expiresAt) {
		// UPDATE 之后才被创建：以 UPDATE 那一刻为准
		return shortlink.ShortLink{}, shortlink.ErrNotFound
	}
	return shortlink.ShortLink{}, shortlink.ErrExpired
}

func (s *ShortlinksRepo) cacheEntry(ctx context.Context, link shortlink.ShortLink) {
	if s.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = s.cache.Set(cacheCtx, link.Code, cache.Entry{URL: link.OriginalURL, ExpiresAt: link.ExpiresAt})
}

// Delete 带 owner 条件的硬删除，同一事务里清掉点击明细，
// 之后重新创建同名短码不会继承旧数据。
func (s *ShortlinksRepo) Delete(ctx context.Context, code string, owner shortlink.Identity) (shortlink.ShortLink, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := s.db.Begin(dbctx)
	if err != nil {
		return shortlink.ShortLink{}, unavailable(err)
	}
	defer tx.Rollback(dbctx) // 提交成功后 rollback 无效，可忽略

	deleted, err := scanLink(tx.QueryRow(dbctx,
		"DELETE FROM short_links WHERE code=$1 AND owner_id=$2 RETURNING "+linkColumns,
		code, string(owner),
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return shortlink.ShortLink{}, unavailable(err)
		}
		// 并发删除，或者被删后又被别人重建
		var exists bool
		if err := tx.QueryRow(dbctx, "SELECT EXISTS(SELECT 1 FROM short_links WHERE code=$1)", code).Scan(&exists); err != nil {
			return shortlink.ShortLink{}, unavailable(err)
		}
		if exists {
			return shortlink.ShortLink{}, shortlink.ErrForbidden
		}
		return shortlink.ShortLink{}, shortlink.ErrNotFound
	}

	if _, err := tx.Exec(dbctx, "DELETE FROM click_events WHERE code=$1", code); err != nil {
		return shortlink.ShortLink{}, unavailable(err)
	}
	if err := tx.Commit(dbctx); err != nil {
		return shortlink.ShortLink{}, unavailable(err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, code); err != nil {
			slog.Warn("shortlink cache delete failed", "code", code, "err", err)
		}
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListByOwner 走 (owner_id, created_at) 二级索引。
func (s *ShortlinksRepo) ListByOwner(ctx context.Context, owner shortlink.Identity, limit int) ([]shortlink.ShortLink, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := s.db.Query(dbctx,
		"SELECT "+linkColumns+" FROM short_links WHERE owner_id=$1 ORDER BY created_at DESC, code LIMIT $2",
		string(owner), clampLimit(limit),
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	result := make([]shortlink.ShortLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		result = append(result, link)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return result, nil
}

func (s *ShortlinksRepo) ClickCount(ctx context.Context, code string) (int64, error) {
	dbctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	var clicks int64
	if err := s.db.QueryRow(dbctx, "SELECT click_count FROM short_links WHERE code=$1", code).Scan(&clicks); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shortlink.ErrNotFound
		}
		return 0, unavailable(err)
	}
	return clicks, nil
}

func (s *ShortlinksRepo) PurgeExpired(ctx context.Context, before time.Time) ([]string, error) {
	dbctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.Begin(dbctx)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback(dbctx)

	rows, err := tx.Query(dbctx, "DELETE FROM short_links WHERE expires_at IS NOT NULL AND expires_at < $1 RETURNING code", before)
	if err != nil {
		return nil, unavailable(err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable(err)
	}
	if len(codes) > 0 {
		if _, err := tx.Exec(dbctx, "DELETE FROM click_events WHERE code = ANY($1)", codes); err != nil {
			return nil, unavailable(err)
		}
	}
	if err := tx.Commit(dbctx); err != nil {
		return nil, unavailable(err)
	}

	if s.cache != nil && len(codes) > 0 {
		if err := s.cache.Delete(ctx, codes...); err != nil {
			slog.Warn("shortlink cache purge failed", "count", len(codes), "err", err)
		}
	}
	return codes, nil
}

// EachCode 遍历全部短码，用于启动时预热布隆过滤器。
func (s *ShortlinksRepo) EachCode(ctx context.Context, fn func(code string)) error {
	dbctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.db.Query(dbctx, "SELECT code FROM short_links")
	if err != nil {
		return unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return unavailable(err)
		}
		fn(code)
	}
	if err := rows.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
