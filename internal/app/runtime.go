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

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/executor"
	"github.com/vs4vijay/microsoft-garage/internal/agent/safety"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/agent/vision"
	"github.com/vs4vijay/microsoft-garage/internal/device"
	"github.com/vs4vijay/microsoft-garage/internal/storage/archive"
	"github.com/vs4vijay/microsoft-garage/pkg/config"
	"github.com/vs4vijay/microsoft-garage/pkg/utils"
)

// Runtime 装配完成的决策循环及其协作方
type Runtime struct {
	Engine      *executor.Engine
	Broker      *events.Broker
	Simulator   *device.Simulator
	Interpreter *command.Interpreter

	closers []func()
}

// NewRuntime 按配置装配 Registry、Validator、Planner、Device、Vision、Archive 与 Engine
func NewRuntime(ctx context.Context, b *Bootstrap) (*Runtime, error) {
	cfg := b.Config
	logger := b.Logger.Logger

	registry := tools.NewBuiltinRegistry()
	validator := safety.NewValidator(registry, PolicyFromConfig(cfg.Safety))

	if cfg.Device.Type != "" && cfg.Device.Type != "simulator" {
		return nil, fmt.Errorf("不支持的 device.type: %q", cfg.Device.Type)
	}
	sim := device.NewSimulator(device.SimulatorConfig{
		Battery:       cfg.Device.Battery,
		BatteryDrain:  cfg.Device.BatteryDrain,
		TakeoffHeight: cfg.Device.TakeoffHeight,
		Latency:       config.ParseDuration(cfg.Device.Latency, 0),
	})

	p, err := NewPlannerFromConfig(ctx, b, registry)
	if err != nil {
		return nil, fmt.Errorf("初始化 planner 失败: %w", err)
	}
	vclient, err := NewVisionClientFromConfig(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("初始化 vision 失败: %w", err)
	}
	adapter := vision.NewAdapter(sim, vclient,
		vision.WithDefaultFocus(cfg.Vision.DefaultFocus),
		vision.WithTimeout(config.ParseDuration(cfg.Agent.VisionTimeout, 20*time.Second)),
	)

	rt := &Runtime{
		Broker:      events.NewBroker(),
		Simulator:   sim,
		Interpreter: command.NewInterpreter(0),
	}

	store, closeArchive, err := archive.New(ctx, archive.Config{
		Type:     cfg.Archive.Type,
		DSN:      cfg.Archive.DSN,
		Addr:     cfg.Archive.Addr,
		Password: cfg.Archive.Password,
		DB:       cfg.Archive.DB,
		TTL:      config.ParseDuration(cfg.Archive.TTL, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 archive 失败: %w", err)
	}
	rt.closers = append(rt.closers, closeArchive)

	opts := []executor.Option{
		executor.WithConfig(EngineConfig(cfg.Agent, cfg.RateLimits.Device)),
		executor.WithSink(events.Multi{rt.Broker, events.NewLogSink(logger)}),
		executor.WithLogger(logger),
		executor.WithInitialFlight(state.FlightState{Battery: sim.Battery()}),
	}
	if store != nil {
		opts = append(opts, executor.WithArchive(store))
	}
	rt.Engine = executor.New(registry, validator, p, sim, adapter, opts...)

	logger.Info("决策循环已装配",
		"planner", cfg.Planner.Type,
		"vision", vclient.Name(),
		"archive", utils.CoalesceString(cfg.Archive.Type, "memory"),
	)
	return rt, nil
}

// Close 释放 archive 连接等资源
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if r.closers[i] != nil {
			r.closers[i]()
		}
	}
	r.closers = nil
}

// PolicyFromConfig 将 safety 配置映射为校验策略，未配置的字段取默认值
func PolicyFromConfig(c config.SafetyConfig) safety.Policy {
	p := safety.DefaultPolicy()
	p.MaxStepDistance = utils.DefaultInt(c.MaxStepDistance, p.MaxStepDistance)
	p.MinBattery = c.MinBattery
	if c.MaxConsecutiveRejections > 0 {
		p.MaxConsecutiveRejections = c.MaxConsecutiveRejections
	}
	if c.MaxExecutionRetries >= 0 {
		p.MaxExecutionRetries = c.MaxExecutionRetries
	}
	p.LateralRequiresVision = config.BoolOr(c.LateralRequiresVision, true)
	p.ObstacleCheck = config.BoolOr(c.ObstacleCheck, true)
	if c.EmergencyAction != "" {
		p.EmergencyAction = c.EmergencyAction
	}
	p.AllowedTools = append([]string(nil), c.AllowedTools...)
	return p
}

// EngineConfig 将 agent 配置与设备限流映射为 Engine 配置
func EngineConfig(c config.AgentConfig, limit config.DeviceRateLimit) executor.Config {
	d := executor.DefaultConfig()
	if c.MaxSteps > 0 {
		d.MaxSteps = c.MaxSteps
	}
	d.HistoryWindow = utils.DefaultInt(c.HistoryWindow, d.HistoryWindow)
	d.ImageWindow = utils.DefaultInt(c.ImageWindow, d.ImageWindow)
	d.DeviceTimeout = config.ParseDuration(c.DeviceTimeout, d.DeviceTimeout)
	d.PlanTimeout = config.ParseDuration(c.PlanTimeout, d.PlanTimeout)
	d.RetryBackoff = config.ParseDuration(c.RetryBackoff, d.RetryBackoff)
	d.ObserveAfterMotion = config.BoolOr(c.ObserveMotion, true)
	if limit.CommandsPerSecond != 0 {
		d.DeviceRate = max(limit.CommandsPerSecond, 0)
	}
	return d
}
