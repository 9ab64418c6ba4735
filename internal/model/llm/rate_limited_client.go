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

package llm

import (
	"context"
	"time"

	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

// RateLimitedClient 包装任意 LLM Client，在真实调用前执行限流控制。
type RateLimitedClient struct {
	inner       Client
	rateLimiter *RateLimiter
	name        string
}

// NewRateLimitedClient 创建带限流的 LLM 客户端。rateLimiter 为 nil 时退化为直接调用。
// name 用作等待时长指标的 collaborator 标签。
func NewRateLimitedClient(inner Client, rateLimiter *RateLimiter, name string) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, rateLimiter: rateLimiter, name: name}
}

// ChatWithContext 实现 Client.ChatWithContext，调用前执行限流。
func (c *RateLimitedClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	if c.rateLimiter != nil {
		start := time.Now()
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", err
		}
		if waited := time.Since(start); waited > 100*time.Millisecond {
			metrics.RateLimitWaitSeconds.WithLabelValues(c.name).Observe(waited.Seconds())
		}
	}
	return c.inner.ChatWithContext(ctx, messages, options)
}

// Model 返回底层 Client 的模型名称。
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

// Provider 返回底层 Client 的提供商名称。
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }
