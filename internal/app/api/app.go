package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"github.com/vs4vijay/microsoft-garage/internal/api/http"
	"github.com/vs4vijay/microsoft-garage/internal/api/http/middleware"
	"github.com/vs4vijay/microsoft-garage/internal/app"
	"github.com/vs4vijay/microsoft-garage/pkg/log"
	"github.com/vs4vijay/microsoft-garage/pkg/utils"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 Runtime、HTTP Router、Handler、Middleware）
type App struct {
	config       *app.Bootstrap
	runtime      *app.Runtime
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	rt, err := app.NewRuntime(context.Background(), bootstrap)
	if err != nil {
		return nil, fmt.Errorf("初始化决策循环失败: %w", err)
	}
	handler := http.NewHandler(rt.Engine, rt.Interpreter, bootstrap.Logger.Logger)
	router := http.NewRouter(handler, middleware.NewMiddleware())
	router.SetMetrics(bootstrap.Config.Monitoring.Prometheus.Enable)
	return &App{
		config:  bootstrap,
		runtime: rt,
		router:  router,
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if a.config.Config.Log.File != "" {
		f, err := os.OpenFile(a.config.Config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(a.config.Config.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	// 可选：启用链路追踪（OpenTelemetry）
	tracing := a.config.Config.Monitoring.Tracing
	exportEndpoint := utils.CoalesceString(tracing.ExportEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if tracing.Enable && exportEndpoint != "" {
		serviceName := utils.CoalesceString(tracing.ServiceName, "drone-agent")
		opts := []provider.Option{
			provider.WithServiceName(serviceName),
			provider.WithExportEndpoint(exportEndpoint),
		}
		if tracing.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
		tracerOpt, cfg := hertztracing.NewServerTracer()
		a.hertz = a.router.Build(addr, tracerOpt)
		a.hertz.Use(hertztracing.ServerMiddleware(cfg))
		a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭：先对活跃 Session 触发紧急停止，再关闭 HTTP 与 archive
func (a *App) Shutdown(ctx context.Context) error {
	if s, ok := a.runtime.Engine.Active(); ok {
		a.config.Logger.Warn("关闭时存在活跃 Session，触发紧急停止", "session_id", s.ID)
		_ = a.runtime.Engine.Emergency(s.ID)
		_ = s.Wait(ctx)
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	var err error
	if a.hertz != nil {
		err = a.hertz.Shutdown(ctx)
	}
	a.runtime.Close()
	return err
}
