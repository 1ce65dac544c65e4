package httpapi

import (
	"context"
	"errors"
	"net/http"

	"linkcore.local/gee"
	"linkcore.local/internal/app/shortlink/repo"
	"linkcore.local/internal/platform/auth"
)

// Users 账号存储：postgres 用 repo.UsersRepo，memory 用 repo.MemoryUsers。
type Users interface {
	Register(ctx context.Context, username, password string) (repo.User, error)
	Authenticate(ctx context.Context, username, password string) (repo.User, error)
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// NewRegisterHandler POST /api/auth/register
func NewRegisterHandler(users Users) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req CredentialsRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		user, err := users.Register(ctx.Req.Context(), req.Username, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, repo.ErrUserAlreadyExists):
				ctx.AbortWithKind(http.StatusConflict, "Conflict", err.Error())
			case errors.Is(err, repo.ErrInvalidUsername), errors.Is(err, repo.ErrInvalidPassword):
				ctx.AbortWithError(http.StatusBadRequest, err.Error())
			default:
				writeError(ctx, err)
			}
			return
		}
		ctx.JSON(http.StatusCreated, RegisterResponse{ID: user.ID, Username: user.Username})
	}
}

// NewLoginHandler POST /api/auth/login，成功返回 {token}
func NewLoginHandler(users Users, ts auth.TokenService) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		var req CredentialsRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		user, err := users.Authenticate(ctx.Req.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, repo.ErrInvalidCredentials) {
				ctx.AbortWithError(http.StatusUnauthorized, "invalid credentials")
				return
			}
			writeError(ctx, err)
			return
		}

		token, err := ts.Sign(string(user.Identity()), user.Role)
		if err != nil {
			ctx.AbortWithError(http.StatusInternalServerError, "sign token failed")
			return
		}
		ctx.JSON(http.StatusOK, gee.H{"token": token})
	}
}

// NewMeHandler GET /api/auth/me
func NewMeHandler() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "not logged in")
			return
		}
		ctx.JSON(http.StatusOK, gee.H{
			"user_id": id.UserID,
			"role":    id.Role,
		})
	}
}
