package httpapi

import (
	"net/http"

	"linkcore.local/gee"
	"linkcore.local/internal/app/shortlink/sweeper"
)

// NewPurgeHandler POST /api/admin/purge 立即执行一轮过期清理。
func NewPurgeHandler(s *sweeper.Sweeper) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if s == nil {
			ctx.AbortWithError(http.StatusNotFound, "purge is not configured")
			return
		}
		n, err := s.RunOnce(ctx.Req.Context())
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gee.H{"purged": n})
	}
}
