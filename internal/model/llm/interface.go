package llm

import (
	"context"
	"fmt"
)

// Client LLM 客户端接口
type Client interface {
	// ChatWithContext 使用上下文聊天
	ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	// JSON 要求模型只输出 JSON 对象（response_format=json_object）
	JSON bool `json:"json"`
}

// Image 随消息发送的图像
type Image struct {
	MIMEType string
	Data     []byte
}

// Message 聊天消息；带 Images 时按多模态内容发送
type Message struct {
	Role    string  `json:"role"` // system, user, assistant
	Content string  `json:"content"`
	Images  []Image `json:"-"`
}

// NewClient 创建新的 LLM 客户端；baseURL 用于 OpenAI 兼容端点，空则用默认或环境变量
func NewClient(provider, model, apiKey string, baseURL string) (Client, error) {
	switch provider {
	case "", "openai", "azure", "qwen":
		return NewOpenAIClientWithBaseURL(model, apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
