package gee

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// MaxBodyBytes 限制 JSON 请求体大小。
const MaxBodyBytes = 1 << 20

var ErrEmptyBody = errors.New("empty body")

// ShouldBindJSON 严格解析 JSON：拒绝未知字段和多余的值。
func (c *Context) ShouldBindJSON(dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Req.Body, MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON value")
	}
	return nil
}

// BindJSON 解析失败时直接写 400 并中止。
func (c *Context) BindJSON(dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithError(http.StatusRequestEntityTooLarge, "request body too large")
			return err
		}
		c.AbortWithError(http.StatusBadRequest, "invalid json: "+err.Error())
		return err
	}
	return nil
}
