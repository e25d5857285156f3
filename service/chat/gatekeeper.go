package chat

import (
	"CareLink/middleware"
	midsec "CareLink/middleware/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gatekeeper 升级前的鉴权中间件：校验 JWT、加载用户资料，失败统一 401
func (s *Server) Gatekeeper() gin.HandlerFunc {
	return midsec.Middleware(midsec.Options{
		JWT:     s.opts.JWT,
		Users:   s.store,
		Timeout: s.opts.StoreTimeout,
		Logger:  s.log.Named("gatekeeper"),
		OnReject: func(reason string) {
			s.metrics.AuthFailed()
			s.log.Info("[WS] upgrade rejected", zap.String("reason", reason))
		},
	})
}

// Mount 注册 GET path：Gatekeeper -> HandleWS
func (s *Server) Mount(r gin.IRoutes, path string) {
	middleware.GET(r, path, s.HandleWS, middleware.RouteOpt{IsAuth: true, Auth: s.Gatekeeper()})
}
