package httpmiddleware

import (
	"strconv"
	"time"

	"linkcore.local/gee"
	"linkcore.local/internal/platform/metrics"
)

// Metrics 记录请求数、耗时和并发数。route 用路由模板，避免真实 path 撑爆 label 基数。
func Metrics() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		start := time.Now()
		metrics.HTTPInflightRequests.Inc()
		defer metrics.HTTPInflightRequests.Dec()

		defer func() {
			route := ctx.RoutePattern
			if route == "" {
				route = "UNMATCHED"
			}
			status := strconv.Itoa(ctx.Writer.Status())
			metrics.HTTPRequestsTotal.WithLabelValues(ctx.Method, route, status).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(ctx.Method, route).Observe(time.Since(start).Seconds())
		}()
		ctx.Next()
	}
}
