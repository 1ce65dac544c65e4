package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/repo"
	"linkcore.local/internal/platform/auth"
	"linkcore.local/internal/platform/config"
	"linkcore.local/internal/platform/migrate"
	"linkcore.local/migrations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd, func(ctx context.Context, _ config.Config, pool *pgxpool.Pool) error {
				res, err := migrate.Up(ctx, pool, migrations.FS)
				if err != nil {
					return err
				}
				for _, f := range res.AppliedFiles {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", f)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d applied, %d already up to date\n", len(res.AppliedFiles), len(res.SkippedFiles))
				return nil
			})
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "物理删除过期超过 grace 的短链",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd, func(ctx context.Context, _ config.Config, pool *pgxpool.Pool) error {
				svc := shortlink.NewService(repo.NewShortlinksRepo(pool, nil))
				codes, err := svc.PurgeExpired(ctx, grace)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired links\n", len(codes))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "只删除过期超过该时长的记录")
	return cmd
}

func newShortenCmd() *cobra.Command {
	var (
		rawURL  string
		code    string
		expires string
		owner   string
	)
	cmd := &cobra.Command{
		Use:   "shorten",
		Short: "直接在数据库里创建一条短链",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPool(cmd, func(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) error {
				in := shortlink.ShortenInput{OriginalURL: rawURL, Owner: shortlink.Identity(owner)}
				if code != "" {
					in.CustomCode = &code
				}
				if expires != "" {
					in.ExpiresAt = &expires
				}
				svc := shortlink.NewService(repo.NewShortlinksRepo(pool, nil), shortlink.WithMaxAttempts(cfg.MaxGenerateAttempts))
				link, err := svc.Shorten(ctx, in)
				if err != nil {
					return err
				}
				base := cfg.BaseURL
				if base == "" {
					base = "http://localhost" + cfg.Addr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "code: %s\nshort url: %s/%s\n", link.Code, base, link.Code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawURL, "url", "", "要缩短的长链接")
	cmd.Flags().StringVar(&code, "code", "", "自定义短码")
	cmd.Flags().StringVar(&expires, "expires", "", "过期时间，RFC 3339")
	cmd.Flags().StringVar(&owner, "owner", "", "所有者 user id，空表示匿名")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newCreateUserCmd() *cobra.Command {
	var username, password, role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "创建账号（管理员账号只能这样建）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != auth.RoleUser && role != auth.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			return withPool(cmd, func(ctx context.Context, _ config.Config, pool *pgxpool.Pool) error {
				user, err := repo.NewUsersRepo(pool).Create(ctx, username, password, role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id=%d, role=%s)\n", user.Username, user.ID, user.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "用户名")
	cmd.Flags().StringVar(&password, "password", "", "密码")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user | admin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// newTokenCmd 不查库，直接用 JWT_SECRET 签发，方便本地调试。
func newTokenCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发一个调试用 JWT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
			if err != nil {
				return err
			}
			token, err := ts.Sign(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id（JWT subject）")
	cmd.Flags().StringVar(&role, "role", auth.RoleUser, "user | admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHashpassCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hashpass <password>",
		Short: "输出 bcrypt 哈希",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) > 72 {
				return errors.New("bcrypt only uses the first 72 bytes of a password")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}
