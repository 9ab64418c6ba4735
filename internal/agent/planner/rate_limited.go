package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/model/llm"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

// RateLimited 在调用底层 Planner 前执行限流
type RateLimited struct {
	inner   Planner
	limiter *llm.RateLimiter
}

// NewRateLimited 包装 Planner；limiter 为 nil 时直接调用
func NewRateLimited(inner Planner, limiter *llm.RateLimiter) *RateLimited {
	return &RateLimited{inner: inner, limiter: limiter}
}

// Next 实现 Planner
func (r *RateLimited) Next(ctx context.Context, req Request) (Proposal, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return Proposal{}, fmt.Errorf("%w: %w", ErrPlanner, err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		metrics.RateLimitWaitSeconds.WithLabelValues("planner").Observe(waited.Seconds())
	}
	return r.inner.Next(ctx, req)
}

// Forget 实现 Forgetter
func (r *RateLimited) Forget(sessionID string) {
	if f, ok := r.inner.(Forgetter); ok {
		f.Forget(sessionID)
	}
}
