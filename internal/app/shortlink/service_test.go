package shortlink_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/cache"
	"linkcore.local/internal/app/shortlink/repo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newService(t *testing.T, opts ...shortlink.Option) (*shortlink.Service, *repo.MemoryStore, *clock) {
	t.Helper()
	store := repo.NewMemoryStore()
	c := &clock{now: t0}
	opts = append([]shortlink.Option{shortlink.WithClock(c.Now)}, opts...)
	return shortlink.NewService(store, opts...), store, c
}

func ptr(s string) *string { return &s }

// sequence 依次返回给定的短码，用完后一直返回最后一个。
func sequence(codes ...string) (shortlink.GeneratorFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func() string {
		i := int(calls.Add(1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		return codes[i]
	}, &calls
}

func TestShortenGeneratesDistinctCodes(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://example.com/same"})
		require.NoError(t, err)
		require.Len(t, link.Code, shortlink.CodeLength)
		_, dup := seen[link.Code]
		require.False(t, dup, "duplicate code %s", link.Code)
		seen[link.Code] = struct{}{}
		assert.Equal(t, t0, link.CreatedAt)
		assert.Zero(t, link.ClickCount)
	}
}

func TestResolveCountsEachSuccessfulRedirect(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://example.com"})
	require.NoError(t, err)

	for want := int64(1); want <= 2; want++ {
		got, err := svc.Resolve(ctx, link.Code)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.OriginalURL)
		assert.Equal(t, want, got.ClickCount)
	}
	clicks, err := svc.ClickCount(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), clicks)
}

func TestResolveUnknownCode(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Resolve(context.Background(), "nope1234")
	assert.ErrorIs(t, err, shortlink.ErrNotFound)
}

func TestExpiryBoundary(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	expires := t0.Add(time.Hour)
	link, err := svc.Shorten(ctx, shortlink.ShortenInput{
		OriginalURL: "https://example.com",
		ExpiresAt:   ptr(expires.Format(time.RFC3339)),
	})
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	assert.True(t, link.ExpiresAt.Equal(expires))

	// 恰好在过期时刻仍然有效
	c.Set(expires)
	_, err = svc.Resolve(ctx, link.Code)
	require.NoError(t, err)

	c.Set(expires.Add(time.Second))
	_, err = svc.Resolve(ctx, link.Code)
	require.ErrorIs(t, err, shortlink.ErrExpired)

	clicks, err := svc.ClickCount(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), clicks, "expired resolve must not count")
}

func TestShortenRejectsInvalidInputWithoutWriting(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	owner := shortlink.Identity("1")

	cases := []struct {
		name string
		in   shortlink.ShortenInput
		want error
	}{
		{"not a url", shortlink.ShortenInput{OriginalURL: "not-a-url"}, shortlink.ErrInvalidURL},
		{"javascript scheme", shortlink.ShortenInput{OriginalURL: "javascript:alert(1)"}, shortlink.ErrInvalidURL},
		{"expiry in the past", shortlink.ShortenInput{OriginalURL: "https://a.example", ExpiresAt: ptr(t0.Add(-time.Second).Format(time.RFC3339))}, shortlink.ErrInvalidExpiry},
		{"expiry equal to now", shortlink.ShortenInput{OriginalURL: "https://a.example", ExpiresAt: ptr(t0.Format(time.RFC3339))}, shortlink.ErrInvalidExpiry},
		{"unparseable expiry", shortlink.ShortenInput{OriginalURL: "https://a.example", ExpiresAt: ptr("next week")}, shortlink.ErrInvalidExpiry},
		{"bad custom code", shortlink.ShortenInput{OriginalURL: "https://a.example", CustomCode: ptr("no/slash")}, shortlink.ErrInvalidCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Owner = owner
			_, err := svc.Shorten(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	links, err := store.ListByOwner(ctx, owner, 0)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestCustomCode(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example", CustomCode: ptr("my-code")})
	require.NoError(t, err)
	assert.Equal(t, "my-code", link.Code)

	_, err = svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://b.example", CustomCode: ptr("my-code")})
	require.ErrorIs(t, err, shortlink.ErrCodeTaken)

	got, err := svc.Resolve(ctx, "my-code")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", got.OriginalURL)
}

func TestGeneratedCollisionIsRetried(t *testing.T) {
	gen, calls := sequence("AAAAAAAA", "AAAAAAAA", "BBBBBBBB")
	svc, _, _ := newService(t, shortlink.WithGenerator(gen))
	ctx := context.Background()

	first, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.Code)

	second, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://b.example"})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", second.Code)
	assert.Equal(t, int32(3), calls.Load())

	// 冲突不会覆盖已有记录
	got, err := svc.Resolve(ctx, "AAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", got.OriginalURL)
}

func TestGenerationExhausted(t *testing.T) {
	gen, calls := sequence("SAMECODE")
	svc, _, _ := newService(t, shortlink.WithGenerator(gen), shortlink.WithMaxAttempts(3))
	ctx := context.Background()

	_, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example"})
	require.NoError(t, err)
	calls.Store(0)

	_, err = svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://b.example"})
	require.ErrorIs(t, err, shortlink.ErrGenerationExhausted)
	assert.Equal(t, int32(3), calls.Load())
}

type setFilter map[string]bool

func (f setFilter) Add(code string)             { f[code] = true }
func (f setFilter) MightExist(code string) bool { return f[code] }

func TestCodeFilterSkipsKnownCodes(t *testing.T) {
	filter := setFilter{"TAKEN001": true}
	gen, calls := sequence("TAKEN001", "FRESH001")
	svc, _, _ := newService(t, shortlink.WithGenerator(gen), shortlink.WithCodeFilter(filter))

	link, err := svc.Shorten(context.Background(), shortlink.ShortenInput{OriginalURL: "https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "FRESH001", link.Code)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, filter["FRESH001"], "created code is added to the filter")
}

type saturatedFilter struct{}

func (saturatedFilter) Add(string)             {}
func (saturatedFilter) MightExist(string) bool { return true }

func TestSaturatedFilterDoesNotExhaustGeneration(t *testing.T) {
	var calls atomic.Int32
	gen := shortlink.GeneratorFunc(func() string {
		calls.Add(1)
		return shortlink.RandomGenerator{}.Generate()
	})
	svc, store, _ := newService(t, shortlink.WithGenerator(gen), shortlink.WithCodeFilter(saturatedFilter{}))
	ctx := context.Background()

	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example", Owner: "u1"})
	require.NoError(t, err)
	// 4×5 次跳过之后不再信过滤器，第一次插入就成功
	assert.Equal(t, int32(21), calls.Load())

	got, err := store.Get(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", got.OriginalURL)
}

func TestOverfilledBloomFilterStillShortens(t *testing.T) {
	// 容量 1000 塞进 2 万个码，相当于 100 万容量对 2000 万条短链
	filter := cache.NewBloomFilter(1000, 0.01)
	for i := 0; i < 20_000; i++ {
		filter.Add(shortlink.RandomGenerator{}.Generate())
	}
	svc, store, _ := newService(t, shortlink.WithCodeFilter(filter))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: fmt.Sprintf("https://a.example/%d", i)})
		require.NoError(t, err, "shorten #%d", i)
		_, err = store.Get(ctx, link.Code)
		require.NoError(t, err)
	}
}

func TestWarmFilter(t *testing.T) {
	store := repo.NewMemoryStore()
	seed := shortlink.NewService(store)
	for i := 0; i < 3; i++ {
		_, err := seed.Shorten(context.Background(), shortlink.ShortenInput{OriginalURL: "https://a.example"})
		require.NoError(t, err)
	}

	filter := setFilter{}
	svc := shortlink.NewService(store, shortlink.WithCodeFilter(filter))
	n, err := svc.WarmFilter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, filter, 3)
}

func TestDeleteOwnership(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice, bob := shortlink.Identity("1"), shortlink.Identity("2")

	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example", Owner: alice})
	require.NoError(t, err)
	anon, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://anon.example"})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, bob, link.Code)
	assert.ErrorIs(t, err, shortlink.ErrForbidden)
	_, err = svc.Delete(ctx, shortlink.Anonymous, link.Code)
	assert.ErrorIs(t, err, shortlink.ErrForbidden)
	_, err = svc.Delete(ctx, alice, anon.Code)
	assert.ErrorIs(t, err, shortlink.ErrForbidden)
	_, err = svc.Delete(ctx, alice, "missing1")
	assert.ErrorIs(t, err, shortlink.ErrNotFound)

	_, err = svc.Resolve(ctx, link.Code)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, alice, link.Code)
	require.NoError(t, err)
	assert.Equal(t, link.Code, deleted.Code)
	assert.Equal(t, int64(1), deleted.ClickCount)

	_, err = svc.Resolve(ctx, link.Code)
	assert.ErrorIs(t, err, shortlink.ErrNotFound)
	_, err = svc.Delete(ctx, alice, link.Code)
	assert.ErrorIs(t, err, shortlink.ErrNotFound)
}

func TestListMineIsolation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	alice, bob := shortlink.Identity("1"), shortlink.Identity("2")

	for i := 0; i < 2; i++ {
		_, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://alice.example", Owner: alice})
		require.NoError(t, err)
	}
	_, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://bob.example", Owner: bob})
	require.NoError(t, err)

	mine, err := svc.ListMine(ctx, alice, 50)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, l := range mine {
		assert.Equal(t, alice, l.OwnerID)
	}

	_, err = svc.ListMine(ctx, shortlink.Anonymous, 50)
	assert.ErrorIs(t, err, shortlink.ErrForbidden)
}

func TestConcurrentResolveCountsExactly(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example"})
	require.NoError(t, err)

	const workers, perWorker = 50, 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := svc.Resolve(ctx, link.Code); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	clicks, err := svc.ClickCount(ctx, link.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), clicks)
}

func TestConcurrentCustomCodeHasOneWinner(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	const n = 32
	var wins, taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Shorten(ctx, shortlink.ShortenInput{
				OriginalURL: fmt.Sprintf("https://a.example/%d", i),
				CustomCode:  ptr("race"),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, shortlink.ErrCodeTaken):
				taken.Add(1)
			default:
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), taken.Load())
}

func TestDeleteRacingResolve(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	owner := shortlink.Identity("1")
	link, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example", Owner: owner})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := svc.Resolve(ctx, link.Code)
				if err != nil && !errors.Is(err, shortlink.ErrNotFound) {
					t.Errorf("unexpected resolve error: %v", err)
				}
			}
		}()
	}
	_, err = svc.Delete(ctx, owner, link.Code)
	require.NoError(t, err)
	wg.Wait()

	_, err = svc.Resolve(ctx, link.Code)
	assert.ErrorIs(t, err, shortlink.ErrNotFound)
}

func TestPurgeExpiredHonoursGrace(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	short, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://a.example", ExpiresAt: ptr(t0.Add(time.Minute).Format(time.RFC3339))})
	require.NoError(t, err)
	long, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://b.example", ExpiresAt: ptr(t0.Add(2 * time.Hour).Format(time.RFC3339))})
	require.NoError(t, err)
	forever, err := svc.Shorten(ctx, shortlink.ShortenInput{OriginalURL: "https://c.example"})
	require.NoError(t, err)

	c.Set(t0.Add(3 * time.Hour))
	codes, err := svc.PurgeExpired(ctx, 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{short.Code}, codes)

	_, err = svc.Resolve(ctx, long.Code)
	assert.ErrorIs(t, err, shortlink.ErrExpired)
	_, err = svc.Resolve(ctx, short.Code)
	assert.ErrorIs(t, err, shortlink.ErrNotFound)
	_, err = svc.Resolve(ctx, forever.Code)
	assert.NoError(t, err)
}

type brokenStore struct{ shortlink.Store }

func (brokenStore) Insert(context.Context, shortlink.ShortLink) (shortlink.ShortLink, error) {
	return shortlink.ShortLink{}, fmt.Errorf("%w: connection refused", shortlink.ErrStoreUnavailable)
}

func TestStoreFailureIsNotRetried(t *testing.T) {
	gen, calls := sequence("AAAAAAAA")
	svc := shortlink.NewService(brokenStore{}, shortlink.WithGenerator(gen))

	_, err := svc.Shorten(context.Background(), shortlink.ShortenInput{OriginalURL: "https://a.example"})
	require.ErrorIs(t, err, shortlink.ErrStoreUnavailable)
	assert.Equal(t, "StoreUnavailable", shortlink.Kind(err))
	assert.Equal(t, int32(1), calls.Load())
}
