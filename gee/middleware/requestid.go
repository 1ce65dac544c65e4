package middleware

import (
	"github.com/google/uuid"
	"linkcore.local/gee"
)

const requestIDHeader = "X-Request-ID"

// maxRequestIDLen 上游传入的 ID 过长就重新生成，避免日志被灌大字段。
const maxRequestIDLen = 128

// ReqID 透传或生成 X-Request-ID，同时写回请求头（日志、错误响应从请求头读）和响应头。
func ReqID() gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id := ctx.Req.Header.Get(requestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = GenerateReqID()
			ctx.Req.Header.Set(requestIDHeader, id)
		}
		ctx.SetHeader(requestIDHeader, id)

		ctx.Next()
	}
}

func GenerateReqID() string {
	return uuid.NewString()
}
