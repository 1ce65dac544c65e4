package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"linkcore.local/gee"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/platform/auth"
)

// callerIdentity 取出调用方身份，未登录为 shortlink.Anonymous。
func callerIdentity(ctx *gee.Context) shortlink.Identity {
	id, ok := auth.GetIdentity(ctx.Req.Context())
	if !ok {
		return shortlink.Anonymous
	}
	return shortlink.Identity(id.UserID)
}

// statusFor 领域错误 -> HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, shortlink.ErrInvalidURL),
		errors.Is(err, shortlink.ErrInvalidExpiry),
		errors.Is(err, shortlink.ErrInvalidCode),
		errors.Is(err, shortlink.ErrCodeTaken):
		return http.StatusBadRequest
	case errors.Is(err, shortlink.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shortlink.ErrExpired):
		return http.StatusGone
	case errors.Is(err, shortlink.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写统一错误体。5xx 记日志，且不把底层错误细节回给客户端。
func writeError(ctx *gee.Context, err error) {
	status := statusFor(err)
	kind := shortlink.Kind(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"request_id", ctx.Req.Header.Get("X-Request-ID"),
			"route", ctx.RoutePattern,
			"kind", kind,
			"err", err)
		if !errors.Is(err, shortlink.ErrGenerationExhausted) {
			message = "storage temporarily unavailable"
		}
	}
	ctx.AbortWithKind(status, kind, message)
}

// shortURL 优先用配置的 BASE_URL；没配就按请求推导（反代后看 X-Forwarded-Proto）。
func shortURL(baseURL string, req *http.Request, code string) string {
	if baseURL != "" {
		return baseURL + "/" + code
	}
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if p := req.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	if req.Host == "" {
		return "/" + code
	}
	return scheme + "://" + req.Host + "/" + code
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// parseLimit 解析 ?limit=，缺省 def，合法范围 [1, upper]。
func parseLimit(ctx *gee.Context, def, upper int) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		ctx.AbortWithError(http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(upper))
		return 0, false
	}
	return n, true
}

// parseCursor 解析 ?cursor=，缺省 0 表示第一页。
func parseCursor(ctx *gee.Context) (int64, bool) {
	raw := ctx.Query("cursor")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		ctx.AbortWithError(http.StatusBadRequest, "invalid cursor")
		return 0, false
	}
	return n, true
}
