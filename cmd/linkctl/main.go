// linkctl 是运维命令行：迁移、清理过期短链、建管理员账号、签发 token。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"linkcore.local/internal/platform/config"
	"linkcore.local/internal/platform/db"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkctl",
		Short:         "linkcore 运维工具",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newMigrateCmd(),
		newPurgeCmd(),
		newShortenCmd(),
		newCreateUserCmd(),
		newTokenCmd(),
		newHashpassCmd(),
	)
	return root
}

// withPool 按 .env / 环境变量连上 postgres 执行 fn。
func withPool(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) error) error {
	cfg := config.Load()
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("linkctl requires STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	pool, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}
