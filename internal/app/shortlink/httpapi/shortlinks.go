package httpapi

import (
	"net/http"
	"time"

	"linkcore.local/gee"
	"linkcore.local/internal/app/shortlink"
	"linkcore.local/internal/app/shortlink/stats"
	"linkcore.local/internal/platform/httpmiddleware"
)

type ShortenRequest struct {
	OriginalURL string  `json:"originalUrl"`
	CustomCode  *string `json:"customCode,omitempty"`
	ExpiresAt   *string `json:"expiresAt,omitempty"` // RFC 3339
}

type ShortenResponse struct {
	Code        string  `json:"code"`
	ShortURL    string  `json:"shortUrl"`
	OriginalURL string  `json:"originalUrl"`
	ExpiresAt   *string `json:"expiresAt"`
}

// LinkView 是列表和删除响应里的一条短链。
type LinkView struct {
	Code        string  `json:"code"`
	OriginalURL string  `json:"originalUrl"`
	ShortURL    string  `json:"shortUrl"`
	ExpiresAt   *string `json:"expiresAt"`
	Clicks      int64   `json:"clicks"`
	CreatedAt   string  `json:"createdAt"`
}

func toView(baseURL string, req *http.Request, l shortlink.ShortLink) LinkView {
	return LinkView{
		Code:        l.Code,
		OriginalURL: l.OriginalURL,
		ShortURL:    shortURL(baseURL, req, l.Code),
		ExpiresAt:   formatTime(l.ExpiresAt),
		Clicks:      l.ClickCount,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewShortenHandler POST /api/urls/shorten
func NewShortenHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req ShortenRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		owner := callerIdentity(ctx)
		if owner == shortlink.Anonymous && !d.AnonymousShorten {
			ctx.AbortWithError(http.StatusUnauthorized, "login required to shorten urls")
			return
		}

		link, err := d.Service.Shorten(ctx.Req.Context(), shortlink.ShortenInput{
			OriginalURL: req.OriginalURL,
			CustomCode:  req.CustomCode,
			ExpiresAt:   req.ExpiresAt,
			Owner:       owner,
		})
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusCreated, ShortenResponse{
			Code:        link.Code,
			ShortURL:    shortURL(d.BaseURL, ctx.Req, link.Code),
			OriginalURL: link.OriginalURL,
			ExpiresAt:   formatTime(link.ExpiresAt),
		})
	}
}

// NewRedirectHandler GET /api/urls/:shortCode 和 GET /:shortCode
//
// 只有 Resolved 才计数并发点击事件；NotFound 404，Expired 410。
func NewRedirectHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("shortCode")
		link, err := d.Service.Resolve(ctx.Req.Context(), code)
		if err != nil {
			writeError(ctx, err)
			return
		}

		// 异步记录点击明细，collector 满了会丢弃，不影响跳转
		if d.Collector != nil {
			d.Collector.Collect(stats.ClickEvent{
				Code:      link.Code,
				ClickedAt: time.Now().UTC(),
				IP:        httpmiddleware.ClientIP(ctx.Req),
				UserAgent: ctx.Req.UserAgent(),
				Referer:   ctx.Req.Referer(),
			})
		}

		// 不让浏览器/CDN 缓存跳转，否则后续点击不会回源计数
		ctx.SetHeader("Cache-Control", "no-store")
		ctx.Redirect(http.StatusFound, link.OriginalURL)
	}
}

type DeleteResponse struct {
	Message    string   `json:"message"`
	DeletedURL LinkView `json:"deletedUrl"`
}

// NewDeleteHandler DELETE /api/urls/delete/:shortCode（需登录，仅所有者）
func NewDeleteHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("shortCode")
		deleted, err := d.Service.Delete(ctx.Req.Context(), callerIdentity(ctx), code)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, DeleteResponse{
			Message:    "short url deleted",
			DeletedURL: toView(d.BaseURL, ctx.Req, deleted),
		})
	}
}

// NewListMineHandler GET /api/urls/?limit=（需登录）
func NewListMineHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		limit, ok := parseLimit(ctx, 50, 200)
		if !ok {
			return
		}
		links, err := d.Service.ListMine(ctx.Req.Context(), callerIdentity(ctx), limit)
		if err != nil {
			writeError(ctx, err)
			return
		}
		views := make([]LinkView, 0, len(links))
		for _, l := range links {
			views = append(views, toView(d.BaseURL, ctx.Req, l))
		}
		ctx.JSON(http.StatusOK, views)
	}
}

// NewClickCountHandler GET /api/analytics/clicks/:shortCode
func NewClickCountHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		clicks, err := d.Service.ClickCount(ctx.Req.Context(), ctx.Param("shortCode"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gee.H{"clicks": clicks})
	}
}

// NewClickEventsHandler GET /api/analytics/events/:shortCode?limit=&cursor=（仅所有者）
func NewClickEventsHandler(d Deps) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		code := ctx.Param("shortCode")
		if err := d.Service.Owns(ctx.Req.Context(), callerIdentity(ctx), code); err != nil {
			writeError(ctx, err)
			return
		}
		limit, ok := parseLimit(ctx, 50, 200)
		if !ok {
			return
		}
		cursor, ok := parseCursor(ctx)
		if !ok {
			return
		}
		if d.Events == nil {
			ctx.JSON(http.StatusOK, stats.EventPage{Events: []stats.ClickEvent{}})
			return
		}
		page, err := d.Events.ListClickEvents(ctx.Req.Context(), code, limit, cursor)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, page)
	}
}
