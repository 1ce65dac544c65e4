package httpmiddleware

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"linkcore.local/gee"
)

// TraceName 用路由模板给 otelhttp 建的 span 改名，并补上 request_id。
func TraceName() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		span := trace.SpanFromContext(ctx.Req.Context())
		if ctx.RoutePattern != "" {
			span.SetName(ctx.Method + " " + ctx.RoutePattern)
		}
		if rid := ctx.Req.Header.Get("X-Request-ID"); rid != "" {
			span.SetAttributes(attribute.String("request_id", rid))
		}
		ctx.Next()
	}
}
