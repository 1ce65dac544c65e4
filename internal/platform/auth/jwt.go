package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID  string
	Role    string
	TokenID string
}

type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenService interface {
	Sign(userID string, role string) (string, error)
	Verify(token string) (Claims, error)
}

type Option func(*hs256Service)

// WithClock 固定签发时间（测试用）。
func WithClock(now func() time.Time) Option {
	return func(h *hs256Service) { h.now = now }
}

func NewHS256Service(secret, issuer string, ttl time.Duration, opts ...Option) (TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if issuer == "" {
		return nil, errors.New("jwt issuer is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt ttl must be > 0")
	}
	h := &hs256Service{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}
