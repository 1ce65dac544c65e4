package httpmiddleware

import (
	"net/http"
	"strings"

	"linkcore.local/gee"
	"linkcore.local/internal/platform/auth"
)

// parseBearer 解析 "Bearer <token>"，格式不对返回空串
func parseBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

func withClaims(ctx *gee.Context, claims auth.Claims) {
	ctx.Req = ctx.Req.WithContext(auth.WithIdentity(ctx.Req.Context(), auth.Identity{
		UserID: claims.UserID,
		Role:   claims.Role,
	}))
}

// AuthRequired 必须携带有效的 JWT，否则 401
func AuthRequired(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		header := ctx.Req.Header.Get("Authorization")
		if header == "" {
			ctx.AbortWithError(http.StatusUnauthorized, "missing authorization header")
			return
		}
		token := parseBearer(header)
		if token == "" {
			ctx.AbortWithError(http.StatusUnauthorized, "invalid authorization format")
			return
		}
		claims, err := ts.Verify(token)
		if err != nil {
			ctx.AbortWithError(http.StatusUnauthorized, "invalid token")
			return
		}
		withClaims(ctx, claims)
		ctx.Next()
	}
}

// AuthOptional 有合法 token 就注入身份，没有或无效都按匿名继续
func AuthOptional(ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		if token := parseBearer(ctx.Req.Header.Get("Authorization")); token != "" {
			if claims, err := ts.Verify(token); err == nil {
				withClaims(ctx, claims)
			}
		}
		ctx.Next()
	}
}

// RequireRole 放在 AuthRequired 之后使用
func RequireRole(role string) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "unauthorized")
			return
		}
		if id.Role != role {
			ctx.AbortWithError(http.StatusForbidden, "requires role "+role)
			return
		}
		ctx.Next()
	}
}
