package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/stats"
)

// MemoryStore 是单进程的内存实现，用于 STORE_BACKEND=memory 和测试。
//
// 每个操作都在一次临界区里完成，锁内不做 I/O。
// 同时实现 stats.Sink / stats.EventLister，删除短码时能在同一把锁下清掉明细。
type MemoryStore struct {
	mu     sync.RWMutex
	links  map[string]shortlink.ShortLink
	events map[string][]stats.ClickEvent // 按 ID 升序追加
	nextID int64
}

var _ shortlink.Store = (*MemoryStore)(nil)
var _ shortlink.CodeLister = (*MemoryStore)(nil)
var _ stats.Sink = (*MemoryStore)(nil)
var _ stats.EventLister = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:  make(map[string]shortlink.ShortLink),
		events: make(map[string][]stats.ClickEvent),
	}
}

func copyLink(l shortlink.ShortLink) shortlink.ShortLink {
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		l.ExpiresAt = &t
	}
	return l
}

func (m *MemoryStore) Insert(_ context.Context, link shortlink.ShortLink) (shortlink.ShortLink, error) {
	if link.ExpiresAt != nil && !link.ExpiresAt.After(link.CreatedAt) {
		return shortlink.ShortLink{}, shortlink.ErrInvalidExpiry
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link.Code]; ok {
		return shortlink.ShortLink{}, shortlink.ErrCodeTaken
	}
	link.ClickCount = 0
	link = copyLink(link)
	m.links[link.Code] = link
	return copyLink(link), nil
}

func (m *MemoryStore) Get(_ context.Context, code string) (shortlink.ShortLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.links[code]
	if !ok {
		return shortlink.ShortLink{}, shortlink.ErrNotFound
	}
	return copyLink(link), nil
}

func (m *MemoryStore) Resolve(_ context.Context, code string, now time.Time) (shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[code]
	if !ok {
		return shortlink.ShortLink{}, shortlink.ErrNotFound
	}
	if link.ExpiredAt(now) {
		return shortlink.ShortLink{}, shortlink.ErrExpired
	}
	link.ClickCount++
	m.links[code] = link
	return copyLink(link), nil
}

func (m *MemoryStore) Delete(_ context.Context, code string, owner shortlink.Identity) (shortlink.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[code]
	if !ok {
		return shortlink.ShortLink{}, shortlink.ErrNotFound
	}
	if link.OwnerID != owner {
		return shortlink.ShortLink{}, shortlink.ErrForbidden
	}
	delete(m.links, code)
	delete(m.events, code)
	return link, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, owner shortlink.Identity, limit int) ([]shortlink.ShortLink, error) {
	m.mu.RLock()
	result := make([]shortlink.ShortLink, 0)
	for _, l := range m.links {
		if l.OwnerID == owner {
			result = append(result, copyLink(l))
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Code < result[j].Code
	})
	if n := clampLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

func (m *MemoryStore) ClickCount(_ context.Context, code string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.links[code]
	if !ok {
		return 0, shortlink.ErrNotFound
	}
	return link.ClickCount, nil
}

func (m *MemoryStore) PurgeExpired(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0)
	for code, l := range m.links {
		if l.ExpiresAt != nil && l.ExpiresAt.Before(before) {
			delete(m.links, code)
			delete(m.events, code)
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (m *MemoryStore) EachCode(_ context.Context, fn func(code string)) error {
	m.mu.RLock()
	codes := make([]string, 0, len(m.links))
	for code := range m.links {
		codes = append(codes, code)
	}
	m.mu.RUnlock()
	for _, code := range codes {
		fn(code)
	}
	return nil
}

// SaveClickEvents 已删除短码的迟到事件直接丢掉，不让重建的同名短码继承。
func (m *MemoryStore) SaveClickEvents(_ context.Context, batch []stats.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range batch {
		if _, ok := m.links[e.Code]; !ok {
			continue
		}
		m.nextID++
		e.ID = m.nextID
		m.events[e.Code] = append(m.events[e.Code], e)
	}
	return nil
}

func (m *MemoryStore) ListClickEvents(_ context.Context, code string, limit int, cursor int64) (stats.EventPage, error) {
	size := stats.PageSize(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.events[code]
	out := make([]stats.ClickEvent, 0, size+1)
	for i := len(all) - 1; i >= 0 && len(out) <= size; i-- {
		if cursor > 0 && all[i].ID >= cursor {
			continue
		}
		out = append(out, all[i])
	}
	return stats.BuildPage(out, size), nil
}
