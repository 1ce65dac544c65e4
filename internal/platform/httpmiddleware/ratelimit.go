package httpmiddleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"linkcore.local/gee"
	"linkcore.local/internal/platform/ratelimit"
)

// trustedProxies 同机反代、RFC1918 私网和 IPv6 ULA（docker bridge / 内网转发）。
var trustedProxies = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

func isTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP 获取真实客户端 IP（限流、点击明细都用它）。
//
// 只有请求来自可信代理时才看转发头，否则客户端伪造 X-Forwarded-For 就能绕过按 IP 的限流。
// 优先级：CF-Connecting-IP > X-Forwarded-For 第一个 > X-Real-IP > RemoteAddr。
func ClientIP(req *http.Request) string {
	remoteHost, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		remoteHost = req.RemoteAddr
	}
	remote, err := netip.ParseAddr(remoteHost)
	if err != nil || !isTrustedProxy(remote) {
		return remoteHost
	}

	if cf := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); validIP(cf) {
		return cf
	}
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); validIP(first) {
			return first
		}
	}
	if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); validIP(xrip) {
		return xrip
	}
	return remoteHost
}

func validIP(s string) bool {
	if s == "" {
		return false
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// RateLimit 按 "rl:<rule>:<ip>" 限流。limiter 为 nil 时直接放行；Redis 出错时也放行（fail open）。
func RateLimit(limiter *ratelimit.Limiter, rule ratelimit.Rule) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if limiter == nil {
			ctx.Next()
			return
		}
		key := "rl:" + rule.Name + ":" + ClientIP(ctx.Req)

		rlCtx, cancel := context.WithTimeout(ctx.Req.Context(), 50*time.Millisecond)
		defer cancel()
		allowed, retryAfter, err := limiter.Allow(rlCtx, key, rule)
		if err != nil {
			slog.Warn("rate limit check failed", "rule", rule.Name, "err", err)
			ctx.Next()
			return
		}
		if !allowed {
			if retryAfter > 0 {
				// Retry-After 单位是秒，向上取整
				secs := int64((retryAfter + time.Second - 1) / time.Second)
				ctx.SetHeader("Retry-After", strconv.FormatInt(secs, 10))
			}
			ctx.AbortWithError(http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ctx.Next()
	}
}
