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

// Package executor 执行引擎：持有决策循环与状态机，串行化设备调用，负责重试与状态更新
package executor

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/vs4vijay/microsoft-garage/pkg/errors"
)

// State 状态机状态
type State string

const (
	StateIdle       State = "IDLE"
	StatePlanning   State = "PLANNING"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateObserving  State = "OBSERVING"
	StateDone       State = "DONE"
	StateAborted    State = "ABORTED"
	StateEmergency  State = "EMERGENCY"
)

// Terminal DONE 与 ABORTED 为终态
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Status Session 状态
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusDone      Status = "DONE"
	StatusAborted   Status = "ABORTED"
	StatusEmergency Status = "EMERGENCY"
)

// 终止原因
const (
	ReasonGoalSatisfied   = "goal-satisfied"
	ReasonEmergency       = "emergency"
	ReasonBatteryCritical = "battery-critical"
	ReasonStepBudget      = "step-budget"
	ReasonRejectionBudget = "rejection-budget"
	ReasonPlannerFailure  = "planner-failure"
	ReasonVisionFailure   = "vision-failure"
	ReasonDeviceTimeout   = "device-timeout"
	ReasonDeviceFault     = "device-fault"
)

var (
	ErrSessionActive      = fmt.Errorf("%w: a session is already active", pkgerrors.ErrConflict)
	ErrSessionNotFound    = fmt.Errorf("session %w", pkgerrors.ErrNotFound)
	ErrSessionNotTerminal = fmt.Errorf("%w: session has not ended", pkgerrors.ErrConflict)
	ErrSessionEnded       = fmt.Errorf("%w: session has already ended", pkgerrors.ErrConflict)
	ErrNoArchive          = errors.New("no archive configured")

	// ErrBatteryCritical 电量低于强制降落阈值
	ErrBatteryCritical = errors.New("battery critical")
	ErrStepBudget      = errors.New("step budget exceeded")
	ErrRejectionBudget = errors.New("too many consecutive rejections")
)

// Config 引擎配置
type Config struct {
	MaxSteps      int
	HistoryWindow int
	ImageWindow   int
	DeviceTimeout time.Duration
	PlanTimeout   time.Duration
	RetryBackoff  time.Duration
	// ObserveAfterMotion 为 true 时，带 ObserveAfter 标记的工具执行后自动拍照分析
	ObserveAfterMotion bool
	// DeviceRate 每秒最多下发的设备命令数，0 表示不限
	DeviceRate float64
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxSteps:           30,
		HistoryWindow:      20,
		ImageWindow:        5,
		DeviceTimeout:      15 * time.Second,
		PlanTimeout:        30 * time.Second,
		RetryBackoff:       500 * time.Millisecond,
		ObserveAfterMotion: true,
		DeviceRate:         10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = d.DeviceTimeout
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = d.PlanTimeout
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.DeviceRate < 0 {
		c.DeviceRate = 0
	}
	return c
}
