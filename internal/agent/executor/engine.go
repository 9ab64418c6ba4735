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

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/planner"
	"github.com/vs4vijay/microsoft-garage/internal/agent/safety"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/agent/vision"
	"github.com/vs4vijay/microsoft-garage/internal/device"
	"github.com/vs4vijay/microsoft-garage/internal/storage/archive"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

const resetBattery = 100

// Engine 执行引擎：持有一台设备，同一时刻最多一个 ACTIVE Session
type Engine struct {
	registry  *tools.Registry
	validator *safety.Validator
	planner   planner.Planner
	device    device.Device
	vision    *vision.Adapter
	cfg       Config
	sink      events.Sink
	archive   archive.Store
	logger    *slog.Logger
	// limiter 设备命令限流，nil 表示不限
	limiter *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	active   *Session
	// flight 跨 Session 延续的物理状态
	flight state.FlightState
	// pending 下一个 Session 开始时追加的 system 对话
	pending []state.Turn
}

// Option 引擎选项
type Option func(*Engine)

// WithConfig 设置引擎配置
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithSink 设置事件接收方
func WithSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithArchive 设置显式保存使用的归档存储
func WithArchive(store archive.Store) Option {
	return func(e *Engine) { e.archive = store }
}

// WithInitialFlight 设置第一个 Session 的初始飞行状态
func WithInitialFlight(f state.FlightState) Option {
	return func(e *Engine) { e.flight = f.Clone() }
}

// New 创建引擎
func New(registry *tools.Registry, validator *safety.Validator, p planner.Planner, dev device.Device, adapter *vision.Adapter, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		validator: validator,
		planner:   p,
		device:    dev,
		vision:    adapter,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		sessions:  make(map[string]*Session),
		flight:    state.FlightState{Battery: resetBattery},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	if e.cfg.DeviceRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(e.cfg.DeviceRate), max(1, int(e.cfg.DeviceRate)))
	}
	return e
}

// Registry 返回工具注册表
func (e *Engine) Registry() *tools.Registry { return e.registry }

// Flight 返回引擎当前延续的飞行状态（活动 Session 存在时取其最新值）
func (e *Engine) Flight() state.FlightState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active.store.Flight()
	}
	return e.flight.Clone()
}

// Start 以目标创建 Session 并异步运行决策循环
func (e *Engine) Start(ctx context.Context, goal command.Goal) (*Session, error) {
	if goal.Text == "" {
		return nil, &command.InputError{Reason: "empty goal"}
	}
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrSessionActive
	}
	initial := e.flight.Clone()
	initial.Obstacles = nil
	store := state.NewStore(initial, state.Options{
		HistoryWindow: e.cfg.HistoryWindow,
		ImageWindow:   e.cfg.ImageWindow,
		Logger:        e.logger,
	})
	for _, t := range e.pending {
		store.AppendTurn(t)
	}
	e.pending = nil
	store.AppendTurn(state.Turn{Role: state.RoleUser, Text: goal.Text, Time: time.Now()})

	s := newSession(ctx, goal.Text, goal.Source, store, e.sink)
	e.sessions[s.ID] = s
	e.order = append(e.order, s.ID)
	e.active = s
	e.mu.Unlock()

	metrics.ActiveSessions.Inc()
	e.logger.Info("session started", "session_id", s.ID, "goal", goal.Text, "source", goal.Source)
	s.transition(StateIdle, "", map[string]any{"goal": goal.Text})
	go e.run(s)
	return s, nil
}

// Run 同步运行目标直到终态；ctx 取消时发出紧急信号并等待强制动作完成
func (e *Engine) Run(ctx context.Context, goal command.Goal) (*Session, error) {
	s, err := e.Start(ctx, goal)
	if err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			s.signalEmergency()
			<-s.done
		}
		return s, err
	}
	return s, nil
}

// Emergency 向 Session 发出紧急信号；已结束的 Session 返回 ErrSessionEnded
func (e *Engine) Emergency(id string) error {
	s, err := e.Get(id)
	if err != nil {
		return err
	}
	if s.Terminal() {
		return ErrSessionEnded
	}
	e.logger.Warn("emergency signal", "session_id", id, "state", s.State())
	s.signalEmergency()
	return nil
}

// Get 按 ID 查找 Session
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Active 返回当前活动 Session
func (e *Engine) Active() (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.active != nil
}

// List 按创建顺序返回全部 Session
func (e *Engine) List() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.sessions[id])
	}
	return out
}

// Events 返回 Session 中 Seq 大于 after 的事件
func (e *Engine) Events(id string, after uint64) ([]events.Event, error) {
	s, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Events(after), nil
}

// Cleanup 销毁已结束的 Session，并释放 Planner 与事件接收方中的逐 Session 状态
func (e *Engine) Cleanup(id string) error {
	s, err := e.Get(id)
	if err != nil {
		return err
	}
	if !s.Terminal() {
		return ErrSessionNotTerminal
	}
	e.mu.Lock()
	e.removeLocked(id)
	e.mu.Unlock()
	e.forget(id)
	return nil
}

func (e *Engine) removeLocked(id string) {
	delete(e.sessions, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) forget(id string) {
	if f, ok := e.planner.(planner.Forgetter); ok {
		f.Forget(id)
	}
	if f, ok := e.sink.(interface{ Forget(string) }); ok {
		f.Forget(id)
	}
}

// Save 把 Session 的对话、图像分析、事件与飞行状态写入归档
func (e *Engine) Save(ctx context.Context, id string) error {
	if e.archive == nil {
		return ErrNoArchive
	}
	s, err := e.Get(id)
	if err != nil {
		return err
	}
	info := s.Info()
	snap := s.Snapshot()
	rec := archive.Record{
		SessionID: s.ID,
		Goal:      s.Goal,
		Source:    s.Source,
		Status:    string(info.Status),
		Reason:    info.Reason,
		Error:     info.Error,
		Steps:     info.Steps,
		Flight:    snap.Flight,
		Turns:     snap.Turns,
		Images:    snap.Images,
		Events:    s.Events(0),
		CreatedAt: s.CreatedAt,
		SavedAt:   time.Now(),
	}
	if info.EndedAt != nil {
		rec.EndedAt = *info.EndedAt
	}
	if err := e.archive.Save(ctx, rec); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	e.logger.Info("session saved", "session_id", id, "events", len(rec.Events))
	return nil
}

// Archive 返回归档存储（未配置时为 nil）
func (e *Engine) Archive() archive.Store { return e.archive }

// Reset 清空全部已结束的 Session，重新读取电量（不可用时视为 100）
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return ErrSessionActive
	}
	ids := append([]string(nil), e.order...)
	for _, id := range ids {
		e.removeLocked(id)
	}
	e.mu.Unlock()
	for _, id := range ids {
		e.forget(id)
	}

	flight := e.Flight()
	flight.Obstacles = nil
	flight.MovementCount = 0
	tel, err := e.callDevice(ctx, tools.Call{Tool: tools.GetDroneStatus}, 0)
	if err != nil {
		e.logger.Warn("status read failed during reset, assuming full battery", "error", err)
		flight.Battery = resetBattery
	} else {
		flight.Flying = tel.Flying
		flight.Battery = tel.Battery
		flight.Height = tel.Height
		flight.Speed = tel.Speed
	}
	metrics.BatteryPercent.Set(float64(flight.Battery))

	e.mu.Lock()
	e.flight = flight
	e.pending = []state.Turn{{
		Role: state.RoleSystem,
		Text: fmt.Sprintf("Session reset. Battery %d%%, flying=%t. Starting fresh.", flight.Battery, flight.Flying),
		Time: time.Now(),
	}}
	e.mu.Unlock()
	e.logger.Info("engine reset", "battery", flight.Battery, "flying", flight.Flying, "dropped_sessions", len(ids))
	return nil
}
