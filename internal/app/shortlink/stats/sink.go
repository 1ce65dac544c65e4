package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ErrUnavailable 事件存储不可用。
var ErrUnavailable = errors.New("click event store unavailable")

// Sink 是点击明细的持久化端。只记录明细，不碰 short_links.click_count。
type Sink interface {
	SaveClickEvents(ctx context.Context, batch []ClickEvent) error
}

// EventLister 按短码倒序分页读取明细。cursor 为上一页最后一条的 ID，0 表示第一页。
type EventLister interface {
	ListClickEvents(ctx context.Context, code string, limit int, cursor int64) (EventPage, error)
}

type EventPage struct {
	Events     []ClickEvent `json:"events"`
	NextCursor int64        `json:"nextCursor,omitempty"`
}

// PageSize 把请求的 limit 收敛到 [1, 200]，非正数取默认值。
func PageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// BuildPage 输入按 ID 倒序、最多 size+1 条，多出来的那条只用来判断是否还有下一页。
func BuildPage(events []ClickEvent, size int) EventPage {
	page := EventPage{Events: events}
	if len(events) > size {
		page.Events = events[:size]
		page.NextCursor = page.Events[size-1].ID
	}
	if page.Events == nil {
		page.Events = []ClickEvent{}
	}
	return page
}

// PGEventStore 把点击明细写进 click_events 表。
type PGEventStore struct {
	db *pgxpool.Pool
}

func NewPGEventStore(db *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{db: db}
}

func (p *PGEventStore) SaveClickEvents(ctx context.Context, batch []ClickEvent) error {
	if len(batch) == 0 {
		return nil
	}
	dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 已删除短码的迟到事件不落库，重建的同名短码从零开始
	b := &pgx.Batch{}
	for _, e := range batch {
		b.Queue(`INSERT INTO click_events (code, clicked_at, ip, user_agent, referer)
SELECT $1::text, $2::timestamptz, $3::text, $4::text, $5::text WHERE EXISTS (SELECT 1 FROM short_links WHERE code=$1)`,
			e.Code, e.ClickedAt, e.IP, e.UserAgent, e.Referer)
	}
	if err := p.db.SendBatch(dbctx, b).Close(); err != nil {
		slog.Error(err.Error())
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *PGEventStore) ListClickEvents(ctx context.Context, code string, limit int, cursor int64) (EventPage, error) {
	size := PageSize(limit)
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var rows pgx.Rows
	var err error
	if cursor > 0 {
		rows, err = p.db.Query(dbctx,
			"SELECT id, code, clicked_at, ip, user_agent, referer FROM click_events WHERE code=$1 AND id < $2 ORDER BY id DESC LIMIT $3",
			code, cursor, size+1)
	} else {
		rows, err = p.db.Query(dbctx,
			"SELECT id, code, clicked_at, ip, user_agent, referer FROM click_events WHERE code=$1 ORDER BY id DESC LIMIT $2",
			code, size+1)
	}
	if err != nil {
		slog.Error(err.Error())
		return EventPage{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ClickEvent, error) {
		var e ClickEvent
		err := row.Scan(&e.ID, &e.Code, &e.ClickedAt, &e.IP, &e.UserAgent, &e.Referer)
		e.ClickedAt = e.ClickedAt.UTC()
		return e, err
	})
	if err != nil {
		slog.Error(err.Error())
		return EventPage{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return BuildPage(events, size), nil
}
