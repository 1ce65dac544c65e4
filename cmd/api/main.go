package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"linkcore.local/gee"
	"linkcore.local/gee/middleware"
	"linkcore.local/internal/app/shortlink"
	slcache "linkcore.local/internal/app/shortlink/cache"
	shortlinkhttpapi "linkcore.local/internal/app/shortlink/httpapi"
	"linkcore.local/internal/app/shortlink/stats"
	"linkcore.local/internal/app/shortlink/sweeper"
	"linkcore.local/internal/platform/auth"
	"linkcore.local/internal/platform/config"
	"linkcore.local/internal/platform/httpmiddleware"
	"linkcore.local/internal/platform/httpserver"
	"linkcore.local/internal/platform/metrics"
	"linkcore.local/internal/platform/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	cfg := config.Load()
	slog.SetDefault(newLogger(cfg))
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if err := run(cfg); err != nil {
		slog.Error("linkcore exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("linkcore stopped")
}

func run(cfg config.Config) error {
	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 存储：postgres（+ Redis 缓存/限流）或纯内存
	st, err := openStorage(startCtx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []shortlink.Option{shortlink.WithMaxAttempts(cfg.MaxGenerateAttempts)}
	var bloomFilter *slcache.BloomFilter
	if cfg.BloomEnabled {
		// 预期 100 万短码，1% 误判率
		bloomFilter = slcache.NewBloomFilter(1_000_000, 0.01)
		opts = append(opts, shortlink.WithCodeFilter(bloomFilter))
	}
	svc := shortlink.NewService(st.links, opts...)
	if bloomFilter != nil {
		n, err := svc.WarmFilter(startCtx)
		if err != nil {
			slog.Warn("bloom filter warm-up incomplete", "err", err, "loaded", n)
		} else {
			slog.Info("bloom filter warmed", "codes", n, "approx_size", bloomFilter.Count())
		}
	}

	// 点击明细：单实例走 channel，多实例走 Kafka
	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	goWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(runCtx)
		}()
	}

	var collector stats.Collector
	switch {
	case !cfg.ClickEventsEnabled:
		slog.Warn("click events disabled by config", "CLICK_EVENTS_ENABLED", false)
		collector = stats.NopCollector{}
	case cfg.KafkaEnabled:
		slog.Info("click events via kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		collector = stats.NewKafkaCollector(cfg.KafkaBrokers, cfg.KafkaTopic)
		kafkaConsumer := stats.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, st.sink)
		goWorker(kafkaConsumer.Run)
		defer kafkaConsumer.Close()
	default:
		slog.Info("click events via in-process channel")
		channelCollector := stats.NewChannelCollector(10000)
		collector = channelCollector
		goWorker(stats.NewConsumer(st.sink, channelCollector).Run)
	}

	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return err
	}

	sw := sweeper.New(svc, cfg.PurgeInterval, cfg.PurgeGrace)
	if cfg.PurgeEnabled {
		goWorker(sw.Run)
	} else {
		slog.Warn("expired link purge disabled by config", "PURGE_ENABLED", false)
	}

	if cfg.TracingEnabled {
		shutdown, err := trace.InitTrace(cfg.OtlpGrpcEndpoint, cfg.ServiceName, version)
		if err != nil {
			slog.Error("trace init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					slog.Error("trace shutdown failed", "err", err)
				}
			}()
		}
	} else {
		slog.Warn("tracing disabled by config", "TRACING_ENABLED", false)
	}

	deps := shortlinkhttpapi.Deps{
		Service:          svc,
		Users:            st.users,
		Events:           st.events,
		Collector:        collector,
		Tokens:           ts,
		Limiter:          st.limiter,
		Sweeper:          sw,
		BaseURL:          cfg.BaseURL,
		AnonymousShorten: cfg.AnonymousShorten,
	}

	// 对外业务
	r := gee.New()
	r.Use(gee.Recovery(), middleware.ReqID(), middleware.AccessLog(), httpmiddleware.Metrics(), httpmiddleware.TraceName())
	shortlinkhttpapi.RegisterPublicRoutes(r, deps)
	shortlinkhttpapi.RegisterAPIRoutes(r.Group("/api"), deps)

	publicHandler := http.Handler(r)
	if cfg.TracingEnabled {
		publicHandler = otelhttp.NewHandler(r, "http")
	}
	publicSrv := httpserver.New(cfg, publicHandler)

	// 仅本机/内网
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	registerAdminRoutes(adminMux, cfg, st)
	adminSrv := httpserver.NewAdmin(cfg, adminMux)

	slog.Info("linkcore starting",
		"version", version,
		"store", cfg.StoreBackend,
		"cache", st.cache != nil,
		"bloom", bloomFilter != nil,
		"ratelimit", st.limiter != nil,
		"click_events", cfg.ClickEventsEnabled,
		"kafka", cfg.KafkaEnabled)

	runErr := httpserver.RunWithGracefulShutdown(cfg.ShutdownTimeout, publicSrv, adminSrv)

	// server 都停了再关 collector，consumer 会把剩余事件刷完
	collector.Close()
	stopWorkers()
	waitWorkers(&workers, cfg.ShutdownTimeout)
	return runErr
}

func waitWorkers(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("background workers did not stop in time", "timeout", timeout.String())
	}
}
