package gee

import "net/http"

// ErrorResponse 是所有失败响应的统一结构。
type ErrorResponse struct {
	Error     string `json:"error"`      // 错误类别，如 NotFound
	Message   string `json:"message"`    // 可读的错误信息
	RequestID string `json:"request_id"` // 请求序号，没有就空
}

func NewErrorResponse(c *Context, kind string, message string) ErrorResponse {
	return ErrorResponse{
		Error:     kind,
		Message:   message,
		RequestID: c.Req.Header.Get("X-Request-ID"),
	}
}

// KindForStatus 给没有业务错误类别的失败（鉴权、限流、坏请求）一个稳定的名字。
func KindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "BadRequest"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowed"
	case http.StatusRequestEntityTooLarge:
		return "PayloadTooLarge"
	case http.StatusTooManyRequests:
		return "RateLimited"
	default:
		return "Internal"
	}
}
