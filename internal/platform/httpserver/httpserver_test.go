package httpserver

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"linkcore.local/internal/platform/config"
)

func TestNewUsesConfigAndHandler(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:0",
		AdminAddr:         "127.0.0.1:0",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      4 * time.Second,
		IdleTimeout:       5 * time.Second,
	}
	handler := http.NewServeMux()

	srv := New(cfg, handler)

	assert.Equal(t, cfg.Addr, srv.Addr)
	assert.Same(t, handler, srv.Handler)
	assert.Equal(t, cfg.ReadHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Equal(t, cfg.ReadTimeout, srv.ReadTimeout)
	assert.Equal(t, cfg.WriteTimeout, srv.WriteTimeout)
	assert.Equal(t, cfg.IdleTimeout, srv.IdleTimeout)

	admin := NewAdmin(cfg, handler)
	assert.Equal(t, cfg.AdminAddr, admin.Addr)
	assert.Zero(t, admin.WriteTimeout)
}

func TestRunCancelStopsAllServers(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:0",
		AdminAddr:         "127.0.0.1:0",
		ReadHeaderTimeout: 500 * time.Millisecond,
		IdleTimeout:       500 * time.Millisecond,
	}
	srv := New(cfg, http.NewServeMux())
	admin := NewAdmin(cfg, http.NewServeMux())

	stopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(stopCtx, 500*time.Millisecond, srv, admin)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// 端口已被占用，ListenAndServe 立刻失败
	srv := New(config.Config{Addr: ln.Addr().String()}, http.NewServeMux())

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), 500*time.Millisecond, srv)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected listen error")
	}
}
