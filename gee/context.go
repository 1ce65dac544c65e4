package gee

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
)

type H map[string]any

// abortIndex 要大于任何真实的 handler 下标，但不能大到嵌套 Next() 时 index++ 溢出。
const abortIndex = math.MaxInt32

type Context struct {
	Writer *ResponseWriter
	Req    *http.Request
	// 请求消息
	Path         string
	Method       string
	Params       map[string]string
	RoutePattern string // 命中的路由模式，如 /api/urls/:shortCode；未命中为空
	// 中间件
	handlers []HandlerFunc
	index    int
	// engine
	engine *Engine
}

func newContext(w http.ResponseWriter, req *http.Request) *Context {
	return &Context{
		Writer: NewResponseWriter(w),
		Req:    req,
		Path:   req.URL.Path,
		Method: req.Method,
		index:  -1,
	}
}

func (c *Context) Param(key string) string {
	return c.Params[key]
}

func (c *Context) Next() {
	c.index++
	s := len(c.handlers)
	for ; c.index < s && !c.IsAborted(); c.index++ {
		c.handlers[c.index](c)
	}
}

// Query 返回 URL 查询参数 key 的第一个值，不存在返回空串。
func (c *Context) Query(key string) string {
	return c.Req.URL.Query().Get(key)
}

// DefaultQuery 和 Query 一样，但参数缺失时返回 def。
func (c *Context) DefaultQuery(key, def string) string {
	if v, ok := c.Req.URL.Query()[key]; ok && len(v) > 0 {
		return v[0]
	}
	return def
}

func (c *Context) GetHeader(key string) string {
	return c.Req.Header.Get(key)
}

func (c *Context) Status(code int) {
	c.Writer.WriteHeader(code)
}

func (c *Context) SetHeader(key string, value string) {
	c.Writer.SetHeader(key, value)
}

func (c *Context) String(code int, format string, values ...any) {
	c.SetHeader("Content-Type", "text/plain; charset=utf-8")
	c.Status(code)
	c.Writer.Write([]byte(fmt.Sprintf(format, values...)))
}

// JSON 用 Encoder 直接写响应流。
func (c *Context) JSON(code int, obj any) {
	c.SetHeader("Content-Type", "application/json")
	c.Status(code)
	encoder := json.NewEncoder(c.Writer)
	if err := encoder.Encode(obj); err != nil {
		http.Error(c.Writer, err.Error(), 500)
	}
}

func (c *Context) Data(code int, data []byte) {
	c.Status(code)
	c.Writer.Write(data)
}

// Redirect 写 Location 头并返回 3xx，不带响应体。
func (c *Context) Redirect(code int, location string) {
	if code < http.StatusMultipleChoices || code > http.StatusPermanentRedirect {
		panic(fmt.Sprintf("gee: cannot redirect with status code %d", code))
	}
	c.SetHeader("Location", location)
	c.Status(code)
}

func (c *Context) Fail(code int, format string) {
	c.String(code, "%s", format)
	c.Abort()
}

func (c *Context) Abort() {
	c.index = abortIndex
}

func (c *Context) IsAborted() bool {
	return c.index >= abortIndex
}

func (c *Context) AbortWithStatus(code int) {
	c.Status(code)
	c.Abort()
}

func (c *Context) AbortWithStatusJSON(code int, obj any) {
	c.Abort()

	if c.Writer.Written() {
		return
	}

	bytes, err := json.Marshal(obj)
	if err != nil {
		code = http.StatusInternalServerError
		bytes = []byte(`{"error":"Internal","message":"Internal Server Error"}`)
	}
	c.SetHeader("Content-Type", "application/json")
	c.Status(code)
	c.Writer.Write(bytes)
}

// AbortWithError 用状态码推导错误类别，见 KindForStatus。
func (c *Context) AbortWithError(code int, message string) {
	c.AbortWithStatusJSON(code, NewErrorResponse(c, KindForStatus(code), message))
}

// AbortWithKind 显式指定错误类别，业务错误用这个。
func (c *Context) AbortWithKind(code int, kind, message string) {
	c.AbortWithStatusJSON(code, NewErrorResponse(c, kind, message))
}
