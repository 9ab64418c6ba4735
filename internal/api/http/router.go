// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"github.com/vs4vijay/microsoft-garage/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	metrics    bool
}

// NewRouter 创建新的 HTTP 路由器；默认暴露 /metrics
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw, metrics: true}
}

// SetMetrics 设置是否注册 /metrics（monitoring.prometheus.enable）
func (r *Router) SetMetrics(enabled bool) {
	r.metrics = enabled
}

// Build 创建 Hertz 实例并注册路由；opts 可附加 tracer 等服务端选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	h.Use(r.middleware.CORS(), r.middleware.AccessLog())

	if r.metrics {
		h.GET("/metrics", r.handler.Metrics)
	}

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/tools", r.handler.ListTools)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", r.handler.StartSession)
		sessions.GET("", r.handler.ListSessions)
		sessions.GET("/:id", r.handler.GetSession)
		sessions.DELETE("/:id", r.handler.DeleteSession)
		sessions.GET("/:id/events", r.handler.SessionEvents)
		sessions.POST("/:id/emergency", r.handler.Emergency)
		sessions.POST("/:id/save", r.handler.SaveSession)
	}

	api.GET("/archive/:id", r.handler.GetArchive)
	api.POST("/drone/reset", r.handler.ResetDrone)
	return h
}
