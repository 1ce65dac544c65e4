package auth

import "context"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity 经过 JWT 校验的调用方，由 AuthRequired / AuthOptional 注入 context。
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
