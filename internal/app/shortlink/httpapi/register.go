package httpapi

import (
	"net/http"
	"time"

	"linkcore.local/gee"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/stats"
	"linkcore.local/internal/app/shortlink/sweeper"
	"linkcore.local/internal/platform/auth"
	"linkcore.local/internal/platform/httpmiddleware"
	"linkcore.local/internal/platform/ratelimit"
)

// 每个客户端 IP 的限流规则
var (
	shortenRule  = ratelimit.Rule{Name: "shorten", Limit: 10, Window: time.Minute}
	redirectRule = ratelimit.Rule{Name: "redirect", Limit: 100, Window: time.Minute}
	registerRule = ratelimit.Rule{Name: "register", Limit: 3, Window: time.Minute}
	loginRule    = ratelimit.Rule{Name: "login", Limit: 5, Window: time.Minute}
)

// Deps 是 handler 需要的全部依赖，由 cmd/api 组装。
type Deps struct {
	Service   *shortlink.Service
	Users     Users
	Events    stats.EventLister
	Collector stats.Collector
	Tokens    auth.TokenService
	Limiter   *ratelimit.Limiter // nil 表示不限流
	Sweeper   *sweeper.Sweeper

	BaseURL          string
	AnonymousShorten bool
}

// RegisterAPIRoutes 在 /api 分组下挂载 JSON API。
//
// 本包只做传输层：HTTP <-> 领域的参数解析、错误映射和响应格式，
// 业务规则都在 internal/app/shortlink。
func RegisterAPIRoutes(api *gee.RouterGroup, d Deps) {
	requireAuth := httpmiddleware.AuthRequired(d.Tokens)

	urls := api.Group("/urls")
	urls.POST("/shorten", httpmiddleware.RateLimit(d.Limiter, shortenRule), httpmiddleware.AuthOptional(d.Tokens), NewShortenHandler(d))
	urls.GET("/", requireAuth, NewListMineHandler(d))
	urls.GET("/:shortCode", httpmiddleware.RateLimit(d.Limiter, redirectRule), NewRedirectHandler(d))
	urls.DELETE("/delete/:shortCode", requireAuth, NewDeleteHandler(d))

	analytics := api.Group("/analytics")
	analytics.GET("/clicks/:shortCode", NewClickCountHandler(d))
	analytics.GET("/events/:shortCode", requireAuth, NewClickEventsHandler(d))

	authGroup := api.Group("/auth")
	authGroup.POST("/register", httpmiddleware.RateLimit(d.Limiter, registerRule), NewRegisterHandler(d.Users))
	authGroup.POST("/login", httpmiddleware.RateLimit(d.Limiter, loginRule), NewLoginHandler(d.Users, d.Tokens))
	authGroup.GET("/me", requireAuth, NewMeHandler())

	admin := api.Group("/admin")
	admin.Use(requireAuth, httpmiddleware.RequireRole(auth.RoleAdmin))
	admin.POST("/purge", NewPurgeHandler(d.Sweeper))
}

// RegisterPublicRoutes 挂载根路径上的跳转入口 GET /:shortCode 和存活探针。
//
// 跳转不放在 /api 下，用户直接在浏览器里访问 https://host/<code>。
// 静态路由优先匹配，所以 /healthz 不会被当成短码。
func RegisterPublicRoutes(engine *gee.Engine, d Deps) {
	engine.GET("/healthz", func(ctx *gee.Context) {
		ctx.JSON(http.StatusOK, gee.H{"status": "ok"})
	})
	engine.GET("/:shortCode", httpmiddleware.RateLimit(d.Limiter, redirectRule), NewRedirectHandler(d))
}
