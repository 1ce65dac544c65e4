package shortlink

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

const maxURLLength = 2048

// ValidateURL 校验用户输入的长链接。
//
// 规则：
// - 可解析的绝对 URI
// - scheme 必须是 http/https
// - host 不能为空，总长度不超过 2048
func ValidateURL(raw string) error {
	if raw == "" || len(raw) > maxURLLength || strings.TrimSpace(raw) != raw {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if strings.TrimSpace(u.Host) == "" {
		return ErrInvalidURL
	}
	return nil
}

var codeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// 与站点已有路由前缀冲突的短码不允许自定义（根路径 /:code 也能跳转）。
var reservedCodes = map[string]struct{}{
	"api":     {},
	"healthz": {},
	"readyz":  {},
	"metrics": {},
	"favicon": {},
	"version": {},
}

// ValidateCode 校验用户自定义短码：
// - 字母/数字/下划线/连字符，长度 3~32
// - 不能是保留字
func ValidateCode(code string) error {
	if !codeRe.MatchString(code) {
		return ErrInvalidCode
	}
	if _, ok := reservedCodes[strings.ToLower(code)]; ok {
		return ErrInvalidCode
	}
	return nil
}

// ParseExpiry 解析 RFC 3339 过期时间，必须严格晚于 now。
func ParseExpiry(raw string, now time.Time) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidExpiry
	}
	if !t.After(now) {
		return time.Time{}, ErrInvalidExpiry
	}
	return t.UTC(), nil
}
