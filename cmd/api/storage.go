package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"linkcore.local/internal/app/shortlink"
	slcache "linkcore.local/internal/app/shortlink/cache"
	shortlinkhttpapi "linkcore.local/internal/app/shortlink/httpapi"
	"linkcore.local/internal/app/shortlink/repo"
	"linkcore.local/internal/app/shortlink/stats"
	platformcache "linkcore.local/internal/platform/cache"
	"linkcore.local/internal/platform/config"
	"linkcore.local/internal/platform/db"
	"linkcore.local/internal/platform/migrate"
	"linkcore.local/internal/platform/ratelimit"
	"linkcore.local/migrations"
)

// storage 是按 STORE_BACKEND 组装出来的一组存储依赖。
type storage struct {
	links  shortlink.Store
	users  shortlinkhttpapi.Users
	sink   stats.Sink
	events stats.EventLister

	limiter *ratelimit.Limiter      // nil 表示不限流
	cache   *slcache.ShortlinkCache // nil 表示不缓存

	pool  *pgxpool.Pool
	redis *redis.Client
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	if cfg.StoreBackend == config.BackendMemory {
		slog.Warn("using in-memory store, data is lost on restart")
		mem := repo.NewMemoryStore()
		return &storage{
			links:  mem,
			users:  repo.NewMemoryUsers(),
			sink:   mem,
			events: mem,
		}, nil
	}

	st := &storage{}
	pool, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st.pool = pool
	slog.Info("postgres connected")

	if cfg.MigrateOnStart {
		res, err := migrate.Up(ctx, pool, migrations.FS)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("migrations applied", "applied", res.AppliedFiles, "skipped", len(res.SkippedFiles))
	}

	if cfg.CacheEnabled || cfg.RateLimitEnabled {
		client, err := platformcache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		st.redis = client
		slog.Info("redis connected", "addr", cfg.RedisAddr)
	}

	if cfg.RateLimitEnabled {
		st.limiter = ratelimit.NewLimiter(st.redis)
	} else {
		slog.Warn("rate limit disabled by config", "RATELIMIT_ENABLED", false)
	}

	if cfg.CacheEnabled {
		local, err := slcache.NewLocalCache(100000, 1<<24) // 10 万条，16MB
		if err != nil {
			st.Close()
			return nil, err
		}
		st.cache = slcache.NewShortlinkCache(st.redis, local)
	}

	st.links = repo.NewShortlinksRepo(pool, st.cache)
	st.users = repo.NewUsersRepo(pool)
	events := stats.NewPGEventStore(pool)
	st.sink = events
	st.events = events
	return st, nil
}

func (s *storage) Close() {
	if s.cache != nil {
		s.cache.Close()
		s.cache = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Error("redis close failed", "err", err)
		}
		s.redis = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

// ping 用于 /readyz。内存模式永远就绪。
func (s *storage) ping(ctx context.Context) error {
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func registerAdminRoutes(mux *http.ServeMux, cfg config.Config, st *storage) {
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := st.ping(ctx); err != nil {
			slog.Warn("readiness check failed", "err", err)
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service_name": cfg.ServiceName,
			"version":      version,
			"commit":       commit,
			"build_time":   buildTime,
			"go_version":   runtime.Version(),
			"store":        cfg.StoreBackend,
		})
	})

	if cfg.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}
