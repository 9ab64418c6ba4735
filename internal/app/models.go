package app

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/vs4vijay/microsoft-garage/internal/agent/planner"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/model/llm"
	modelvision "github.com/vs4vijay/microsoft-garage/internal/model/vision"
	"github.com/vs4vijay/microsoft-garage/pkg/config"
)

// 未显式配置 api_key 时，从密钥存储读取的键名
const (
	plannerKeyName = "OPENAI_API_KEY"
	visionKeyName  = "OPENAI_API_KEY"
)

// NewPlannerFromConfig 根据 planner.type 创建规划器：rule 为确定性规则规划器，llm 为 eino 工具调用模型
func NewPlannerFromConfig(ctx context.Context, b *Bootstrap, registry *tools.Registry) (planner.Planner, error) {
	cfg := b.Config.Planner
	switch cfg.Type {
	case "", "rule":
		return planner.NewRulePlanner(), nil
	case "llm":
	default:
		return nil, fmt.Errorf("不支持的 planner.type: %q", cfg.Type)
	}
	if cfg.Provider != "" && cfg.Provider != "openai" {
		return nil, fmt.Errorf("planner provider %q 不支持，仅支持 openai", cfg.Provider)
	}
	apiKey, err := b.APIKey(ctx, cfg.APIKey, plannerKeyName)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("planner 的 api_key 未配置")
	}

	temperature := float32(cfg.Temperature)
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      apiKey,
		BaseURL:     cfg.BaseURL,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 chat model 失败: %w", err)
	}
	p, err := planner.NewLLMPlanner(cm, registry.List())
	if err != nil {
		return nil, err
	}
	return planner.NewRateLimited(p, newLimiter(b.Config.RateLimits.Planner)), nil
}

// NewVisionClientFromConfig 根据 vision.type 创建视觉分析客户端
func NewVisionClientFromConfig(ctx context.Context, b *Bootstrap) (modelvision.Client, error) {
	cfg := b.Config.Vision
	switch cfg.Type {
	case "", "simulated":
		return modelvision.NewSimulatedClient(), nil
	case "llm":
	default:
		return nil, fmt.Errorf("不支持的 vision.type: %q", cfg.Type)
	}
	apiKey, err := b.APIKey(ctx, cfg.APIKey, visionKeyName)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, fmt.Errorf("vision 的 api_key 未配置")
	}
	client, err := llm.NewClient("openai", cfg.Model, apiKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	limited := llm.NewRateLimitedClient(client, newLimiter(b.Config.RateLimits.Vision), "vision")
	return modelvision.NewLLMClient(limited), nil
}

func newLimiter(c config.CollaboratorRateLimit) *llm.RateLimiter {
	return llm.NewRateLimiter(llm.LimitConfig{RequestsPerMinute: c.RequestsPerMinute, Burst: c.Burst})
}
