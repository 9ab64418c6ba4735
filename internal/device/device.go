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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

var (
	// ErrTimeout 设备未在时限内响应；可重试
	ErrTimeout = errors.New("device timeout")
	// ErrFault 设备报告硬故障；不可重试
	ErrFault = errors.New("device fault")
)

// Error 带工具名的设备错误，Kind 为 ErrTimeout 或 ErrFault
type Error struct {
	Tool string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Tool, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Timeout 构造超时错误
func Timeout(tool string, err error) *Error {
	return &Error{Tool: tool, Kind: ErrTimeout, Err: err}
}

// Fault 构造硬故障错误
func Fault(tool string, err error) *Error {
	return &Error{Tool: tool, Kind: ErrFault, Err: err}
}

// Telemetry 设备调用成功后的遥测
type Telemetry struct {
	Flying  bool `json:"flying"`
	Battery int  `json:"battery"`
	Height  int  `json:"height"`
	Speed   int  `json:"speed,omitempty"`
}

// Frame 一帧相机画面
type Frame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// Device 接受离散的运动原语；实现需自行处理重连与心跳
type Device interface {
	Execute(ctx context.Context, call tools.Call) (Telemetry, error)
}

// Camera 相机
type Camera interface {
	CaptureFrame(ctx context.Context) (Frame, error)
}
