package shortlink

import "errors"

// 领域错误。HTTP 层用 errors.Is 把它们映射成稳定的状态码：
// 400 InvalidURL/InvalidExpiry/InvalidCode/CodeTaken，404 NotFound，410 Expired，
// 403 Forbidden，500 GenerationExhausted/StoreUnavailable。
var (
	ErrInvalidURL          = errors.New("invalid url")
	ErrInvalidExpiry       = errors.New("invalid expiry")
	ErrInvalidCode         = errors.New("invalid code")
	ErrCodeTaken           = errors.New("code already taken")
	ErrGenerationExhausted = errors.New("code generation exhausted")
	ErrNotFound            = errors.New("short link not found")
	ErrExpired             = errors.New("short link expired")
	ErrForbidden           = errors.New("not the owner of this short link")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Kind 返回错误的稳定名字，用于响应体里的 error 字段。
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return "InvalidUrl"
	case errors.Is(err, ErrInvalidExpiry):
		return "InvalidExpiry"
	case errors.Is(err, ErrInvalidCode):
		return "InvalidCode"
	case errors.Is(err, ErrCodeTaken):
		return "CodeTaken"
	case errors.Is(err, ErrGenerationExhausted):
		return "GenerationExhausted"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrExpired):
		return "Expired"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	default:
		return "StoreUnavailable"
	}
}
