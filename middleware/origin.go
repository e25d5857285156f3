package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"CareLink/tools/errs"

	"github.com/gin-gonic/gin"
)

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// AllowOrigins 返回来源校验函数。列表为空或包含 "*" 时放行所有来源；
// 没有 Origin 头的请求（非浏览器）也放行
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := len(origins) == 0
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			allowed[n] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		n, ok := normalizeOrigin(origin)
		if !ok {
			return false
		}
		_, ok = allowed[n]
		return ok
	}
}

// OriginPolicy 白名单可在运行时整体替换，Origin 中间件和 WebSocket 握手共用一份
type OriginPolicy struct {
	check atomic.Value // func(*http.Request) bool
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{}
	p.Set(origins)
	return p
}

func (p *OriginPolicy) Set(origins []string) {
	p.check.Store(AllowOrigins(origins))
}

func (p *OriginPolicy) Allow(r *http.Request) bool {
	return p.check.Load().(func(*http.Request) bool)(r)
}

// Origin 拒绝不在白名单里的浏览器来源
func Origin(check func(r *http.Request) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil && !check(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrForbidden)
			return
		}
	}
}
