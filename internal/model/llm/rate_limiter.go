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
	"fmt"

	"golang.org/x/time/rate"
)

// LimitConfig 外部协作方限流配置
type LimitConfig struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter 按分钟请求数限流；零值配置表示不限流
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter 创建限流器；RequestsPerMinute <= 0 时返回 nil（调用方按不限流处理）
func NewRateLimiter(cfg LimitConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)}
}

// Wait 等待获取执行许可（阻塞直到可以执行或 ctx 结束）
func (l *RateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("request rate limit wait failed: %w", err)
	}
	return nil
}

// Allow 检查是否允许执行（非阻塞）
func (l *RateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
