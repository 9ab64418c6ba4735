package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/app"
	"github.com/vs4vijay/microsoft-garage/internal/app/api"
	"github.com/vs4vijay/microsoft-garage/pkg/config"
	"github.com/vs4vijay/microsoft-garage/pkg/utils"
)

func main() {
	configPath := utils.CoalesceString(os.Getenv("DRONE_CONFIG"), "configs/drone.yaml")
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	bootstrap, err := app.NewBootstrap(cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer bootstrap.Close()
	logger := bootstrap.Logger

	application, err := api.NewApp(bootstrap)
	if err != nil {
		logger.Error("创建 API 应用失败", "error", err)
		os.Exit(1)
	}

	port := cfg.API.Port
	if port <= 0 {
		port = 8080
	}
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, port)

	errCh := make(chan error, 1)
	go func() {
		if err := application.Run(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("收到退出信号", "signal", sig.String())
	case err := <-errCh:
		logger.Error("API 服务异常退出", "error", err)
	}

	// 关闭时若有活跃 Session 会先触发紧急停止
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		logger.Error("关闭失败", "error", err)
	}
	logger.Info("API 服务已关闭")
}
