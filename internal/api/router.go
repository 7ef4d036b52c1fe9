// Package api 注册跟进服务的 HTTP 路由
package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/casa-followups/internal/api/handler"
	"github.com/d60-Lab/casa-followups/internal/api/middleware"
)

// RouterOptions 路由配置
type RouterOptions struct {
	ServiceName string
	JWTSecret   string
	JWTIssuer   string
	Tracing     bool
}

func NewRouter(h *handler.Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLogger())
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", middleware.Auth(opts.JWTSecret, opts.JWTIssuer))
	{
		v1.POST("/case_contacts/:id/followups", h.CreateFollowup)
		v1.GET("/case_contacts/:id/followups", h.ListCaseContactFollowups)

		v1.GET("/followups/mine", h.ListMyOpenFollowups)
		v1.GET("/followups/:id", h.GetFollowup)
		v1.PATCH("/followups/:id/resolve", h.ResolveFollowup)

		v1.GET("/notifications", h.ListNotifications)
	}
	return r
}
