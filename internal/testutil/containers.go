// Package testutil 启动集成测试用的 PostgreSQL / Redis 容器。
//
// -short 或者 Docker 不可用时直接 Skip，普通的 go test 不受影响。
// 容器在测试结束时由 t.Cleanup 回收。
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"linkcore.local/internal/platform/db"
	"linkcore.local/internal/platform/migrate"
	"linkcore.local/migrations"
)

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skip integration test in -short mode")
	}
	tc.SkipIfProviderIsNotHealthy(t)
}

// StartPostgres 启动 postgres:16-alpine，执行内嵌迁移，返回连接池。
func StartPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipUnlessIntegration(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("linkcore"),
		tcpostgres.WithUsername("linkcore"),
		tcpostgres.WithPassword("linkcore"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	pool, err := db.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := migrate.Up(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// TruncateAll 清空业务表，同一个容器里的多个用例之间用。
func TruncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE short_links, click_events, users RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// StartRedis 启动 redis:7-alpine，返回客户端。
func StartRedis(t *testing.T) *redis.Client {
	t.Helper()
	skipUnlessIntegration(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:        endpoint,
		DialTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}
