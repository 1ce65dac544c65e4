package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/stats"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func link(code string, owner shortlink.Identity, expiresAt *time.Time) shortlink.ShortLink {
	return shortlink.ShortLink{
		Code:        code,
		OriginalURL: "https://example.com/" + code,
		OwnerID:     owner,
		CreatedAt:   t0,
		ExpiresAt:   expiresAt,
	}
}

func click(code string) stats.ClickEvent {
	return stats.ClickEvent{Code: code, ClickedAt: t0, IP: "203.0.113.1"}
}

func TestMemoryStoreInsertRejectsBadExpiry(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Insert(context.Background(), link("abc", "", &t0))
	assert.ErrorIs(t, err, shortlink.ErrInvalidExpiry)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	exp := t0.Add(time.Hour)
	created, err := m.Insert(ctx, link("abc", "", &exp))
	require.NoError(t, err)

	*created.ExpiresAt = t0.Add(-time.Hour)
	got, err := m.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(exp), "caller mutation must not leak into the store")
}

func TestMemoryStoreClickEvents(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.Insert(ctx, link("abc", "1", nil))
	require.NoError(t, err)

	// 未知短码的事件直接丢弃
	require.NoError(t, m.SaveClickEvents(ctx, []stats.ClickEvent{click("abc"), click("ghost"), click("abc"), click("abc")}))

	page, err := m.ListClickEvents(ctx, "abc", 2, 0)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(3), page.Events[0].ID)
	assert.Equal(t, int64(2), page.Events[1].ID)
	assert.Equal(t, int64(2), page.NextCursor)

	page, err = m.ListClickEvents(ctx, "abc", 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, int64(1), page.Events[0].ID)
	assert.Zero(t, page.NextCursor)

	ghost, err := m.ListClickEvents(ctx, "ghost", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, ghost.Events)
}

func TestMemoryStoreDeleteDropsEventsAndLateArrivals(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_, err := m.Insert(ctx, link("abc", "1", nil))
	require.NoError(t, err)
	require.NoError(t, m.SaveClickEvents(ctx, []stats.ClickEvent{click("abc")}))

	_, err = m.Delete(ctx, "abc", "2")
	require.ErrorIs(t, err, shortlink.ErrForbidden)
	_, err = m.Delete(ctx, "abc", "1")
	require.NoError(t, err)

	// 删除后到达的事件不能挂到重建的同名短码上
	require.NoError(t, m.SaveClickEvents(ctx, []stats.ClickEvent{click("abc")}))
	_, err = m.Insert(ctx, link("abc", "3", nil))
	require.NoError(t, err)

	page, err := m.ListClickEvents(ctx, "abc", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	clicks, err := m.ClickCount(ctx, "abc")
	require.NoError(t, err)
	assert.Zero(t, clicks)
}

func TestMemoryStoreListByOwnerOrderAndLimit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for i, code := range []string{"c1", "c2", "c3"} {
		l := link(code, "1", nil)
		l.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		_, err := m.Insert(ctx, l)
		require.NoError(t, err)
	}
	_, err := m.Insert(ctx, link("other", "2", nil))
	require.NoError(t, err)

	got, err := m.ListByOwner(ctx, "1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].Code)
	assert.Equal(t, "c2", got[1].Code)
}

func TestMemoryUsers(t *testing.T) {
	users := NewMemoryUsers()
	ctx := context.Background()

	u, err := users.Register(ctx, "  alice ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, shortlink.Identity("1"), u.Identity())

	_, err = users.Register(ctx, "alice", "another-pass")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	_, err = users.Register(ctx, "al", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = users.Register(ctx, "bob", "short")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	got, err := users.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = users.Authenticate(ctx, "alice", "wrong-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = users.Authenticate(ctx, "nobody", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	admin, err := users.Create(ctx, "root", "correct-horse", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Role)
}
