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

package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	Battery       int
	BatteryDrain  int // 每次运动调用消耗的电量
	TakeoffHeight int
	Latency       time.Duration
}

// Simulator 无硬件的设备与相机实现（vision-only 模式），支持故障注入
type Simulator struct {
	mu      sync.Mutex
	cfg     SimulatorConfig
	flying  bool
	battery int
	height  int
	speed   int

	calls  []tools.Call
	faults map[string][]error
	frame  []byte
}

// NewSimulator 创建模拟器
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Battery <= 0 || cfg.Battery > 100 {
		cfg.Battery = 100
	}
	if cfg.TakeoffHeight <= 0 {
		cfg.TakeoffHeight = 80
	}
	return &Simulator{
		cfg:     cfg,
		battery: cfg.Battery,
		speed:   tools.MinSpeed,
		faults:  make(map[string][]error),
	}
}

// Inject 为 tool 排队注入错误，依次在后续调用中返回；tool 为 "*" 时匹配任意工具
func (s *Simulator) Inject(tool string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[tool] = append(s.faults[tool], errs...)
}

// SetBattery 直接设置电量，用于模拟低电量
func (s *Simulator) SetBattery(v int) {
	s.mu.Lock()
	s.battery = v
	s.mu.Unlock()
}

// Battery 当前电量
func (s *Simulator) Battery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// Calls 返回已收到的调用（含失败的）
func (s *Simulator) Calls() []tools.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tools.Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Execute 实现 Device
func (s *Simulator) Execute(ctx context.Context, call tools.Call) (Telemetry, error) {
	if err := s.wait(ctx); err != nil {
		return Telemetry{}, Timeout(call.Tool, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)

	if err := s.nextFault(call.Tool); err != nil {
		var de *Error
		if errors.As(err, &de) {
			return Telemetry{}, err
		}
		return Telemetry{}, Fault(call.Tool, err)
	}

	dist, _ := call.Int(tools.ParamDistance)
	switch call.Tool {
	case tools.Takeoff:
		if s.flying {
			return Telemetry{}, Fault(call.Tool, errors.New("already flying"))
		}
		s.flying = true
		s.height = s.cfg.TakeoffHeight
		s.drain()
	case tools.Land, tools.EmergencyStop:
		s.flying = false
		s.height = 0
	case tools.MoveUp:
		s.height += dist
		s.drain()
	case tools.MoveDown:
		s.height = max(0, s.height-dist)
		s.drain()
	case tools.MoveForward, tools.MoveBackward, tools.MoveLeft, tools.MoveRight,
		tools.RotateClockwise, tools.RotateCounterClockwise:
		if !s.flying {
			return Telemetry{}, Fault(call.Tool, errors.New("not flying"))
		}
		s.drain()
	case tools.SetSpeed:
		if v, ok := call.Int(tools.ParamSpeed); ok {
			s.speed = v
		}
	case tools.GetDroneStatus:
	default:
		return Telemetry{}, Fault(call.Tool, fmt.Errorf("unsupported command %q", call.Tool))
	}
	return s.telemetry(), nil
}

// CaptureFrame 实现 Camera，返回一张纯色 PNG
func (s *Simulator) CaptureFrame(ctx context.Context) (Frame, error) {
	if err := s.wait(ctx); err != nil {
		return Frame{}, Timeout(tools.CaptureImage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFault(tools.CaptureImage); err != nil {
		return Frame{}, Fault(tools.CaptureImage, err)
	}
	if s.frame == nil {
		data, err := blankPNG(64, 48)
		if err != nil {
			return Frame{}, Fault(tools.CaptureImage, err)
		}
		s.frame = data
	}
	return Frame{Data: s.frame, MIMEType: "image/png", Width: 64, Height: 48, CapturedAt: time.Now()}, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Simulator) nextFault(tool string) error {
	for _, key := range []string{tool, "*"} {
		if q := s.faults[key]; len(q) > 0 {
			s.faults[key] = q[1:]
			return q[0]
		}
	}
	return nil
}

func (s *Simulator) drain() {
	s.battery = max(0, s.battery-s.cfg.BatteryDrain)
}

func (s *Simulator) telemetry() Telemetry {
	return Telemetry{Flying: s.flying, Battery: s.battery, Height: s.height, Speed: s.speed}
}

func blankPNG(w, h int) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 128}.Y
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
