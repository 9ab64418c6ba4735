package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/device"
	modelvision "github.com/vs4vijay/microsoft-garage/internal/model/vision"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

// ErrVision 拍照或分析失败；原始错误保留在链上
var ErrVision = errors.New("vision failure")

const defaultTimeout = 20 * time.Second

// Adapter 拍照并调用视觉模型，产出 ImageRecord；写入 State Store 由执行引擎完成
type Adapter struct {
	camera       device.Camera
	client       modelvision.Client
	defaultFocus string
	timeout      time.Duration
}

// Option 配置 Adapter
type Option func(*Adapter)

// WithDefaultFocus 未指定 focus 时使用的关注点
func WithDefaultFocus(focus string) Option {
	return func(a *Adapter) {
		if focus != "" {
			a.defaultFocus = focus
		}
	}
}

// WithTimeout 单次拍照 + 分析的时限
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAdapter 创建 Adapter
func NewAdapter(camera device.Camera, client modelvision.Client, opts ...Option) *Adapter {
	a := &Adapter{
		camera:       camera,
		client:       client,
		defaultFocus: tools.FocusObstacles,
		timeout:      defaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// DefaultFocus 返回默认关注点
func (a *Adapter) DefaultFocus() string { return a.defaultFocus }

// Observe 拍一帧并分析；所有失败都包装为 ErrVision
func (a *Adapter) Observe(ctx context.Context, focus, hint string) (state.ImageRecord, error) {
	if focus == "" {
		focus = a.defaultFocus
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.VisionDuration.Observe(time.Since(start).Seconds()) }()

	frame, err := a.camera.CaptureFrame(ctx)
	if err != nil {
		return state.ImageRecord{}, fmt.Errorf("%w: capture: %w", ErrVision, err)
	}
	analysis, err := a.client.Analyze(ctx, frame, focus, hint)
	if err != nil {
		return state.ImageRecord{}, fmt.Errorf("%w: analyze (%s): %w", ErrVision, a.client.Name(), err)
	}

	rec := state.ImageRecord{
		Time:        frame.CapturedAt,
		Focus:       focus,
		Description: analysis.Description,
		Objects:     append([]string(nil), analysis.Objects...),
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	for _, o := range analysis.Obstacles {
		rec.Obstacles = append(rec.Obstacles, state.Obstacle{
			Label:      o.Label,
			Direction:  o.Direction,
			DistanceCM: o.DistanceCM,
			Near:       o.Near,
		})
	}
	return rec, nil
}

// ObserveCall 执行 capture_image 调用
func (a *Adapter) ObserveCall(ctx context.Context, call tools.Call) (state.ImageRecord, error) {
	return a.Observe(ctx, call.StringParam(tools.ParamFocus), call.StringParam(tools.ParamObjectDescription))
}
