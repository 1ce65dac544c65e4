package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"linkcore.local/internal/platform/config"
)

func New(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              cfg.Addr,
	}
}

// NewAdmin 管理端口（/metrics、/readyz、pprof）。pprof 的 profile 要跑 30s，不设 WriteTimeout。
func NewAdmin(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		Addr:              cfg.AdminAddr,
	}
}

// RunWithGracefulShutdown 收到 SIGINT/SIGTERM 后优雅关闭所有 server。
func RunWithGracefulShutdown(shutdownTimeout time.Duration, servers ...*http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, shutdownTimeout, servers...)
}

// Run 同时启动多个 server。stopCtx 结束或任意一个 server 异常退出时，
// 在 shutdownTimeout 内关闭全部 server。
func Run(stopCtx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) error {
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	var runErr error
	select {
	case runErr = <-errCh:
		slog.Error("http server failed", "err", runErr)
	case <-stopCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mu.Lock()
				runErr = errors.Join(runErr, err)
				mu.Unlock()
			}
		}(srv)
	}
	wg.Wait()
	return runErr
}
