package security

import (
	"context"
	"net/http"
	"strings"
	"time"

	"CareLink/module/chat/model"
	"CareLink/module/chat/store"
	"CareLink/tools/errs"
	toksec "CareLink/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context key
// 鉴权通过后写入 gin.Context，后续 handler 统一用这两个 key 读取
const (
	CtxUserIDKey  = "carelink.userId"  // string
	CtxProfileKey = "carelink.profile" // *model.Profile
)

type Options struct {
	JWT     toksec.Options
	Users   store.UserStore
	Timeout time.Duration // 查用户的超时，默认 3s
	Logger  *zap.Logger

	// OnReject 每次拒绝都会回调，reason: missing | invalid | unknown_user
	OnReject func(reason string)
}

// TokenFromRequest 依次读取 query token、Authorization: Bearer xxx、裸 authorization 头
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return authz
}

// Middleware 校验 JWT 并加载用户资料。
// 任何失败都返回同一个 401 响应体，不暴露具体原因
func Middleware(opts Options) gin.HandlerFunc {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger

	reject := func(c *gin.Context, reason string) {
		if opts.OnReject != nil {
			opts.OnReject(reason)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuthentication)
	}

	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			log.Debug("auth rejected: no token", zap.String("remote", c.ClientIP()))
			reject(c, "missing")
			return
		}

		claims, err := toksec.Verify(opts.JWT, token)
		if err != nil {
			log.Debug("auth rejected: bad token", zap.String("remote", c.ClientIP()), zap.Error(err))
			reject(c, "invalid")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Timeout)
		defer cancel()
		profile, err := opts.Users.GetUser(ctx, claims.Subject)
		if err != nil {
			if errs.ErrRecordNotFound.Is(err) {
				log.Debug("auth rejected: unknown user", zap.String("sub", claims.Subject))
			} else {
				log.Warn("auth rejected: user lookup failed", zap.String("sub", claims.Subject), zap.Error(err))
			}
			reject(c, "unknown_user")
			return
		}

		c.Set(CtxUserIDKey, profile.ID)
		c.Set(CtxProfileKey, profile)
		c.Next()
	}
}

// ProfileFrom 读取 Middleware 写入的用户资料
func ProfileFrom(c *gin.Context) (*model.Profile, bool) {
	v, ok := c.Get(CtxProfileKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*model.Profile)
	return p, ok && p != nil
}
