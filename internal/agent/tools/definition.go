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

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
)

// Kind 工具类别
type Kind string

const (
	KindFlight   Kind = "flight"   // takeoff / land / emergency_stop
	KindMotion   Kind = "motion"   // 平移
	KindRotation Kind = "rotation" // 原地旋转
	KindConfig   Kind = "config"   // set_speed
	KindQuery    Kind = "query"    // get_drone_status
	KindVision   Kind = "vision"   // capture_image，由视觉适配器执行
)

// Direction 调用隐含的运动方向，供障碍物检查使用
type Direction string

const (
	DirNone     Direction = ""
	DirForward  Direction = "forward"
	DirBackward Direction = "backward"
	DirLeft     Direction = "left"
	DirRight    Direction = "right"
	DirUp       Direction = "up"
	DirDown     Direction = "down"
)

// ParamType 参数类型
type ParamType string

const (
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
)

// Param 单个参数的结构约束
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Min         int // 仅 integer，Min == Max == 0 表示无界
	Max         int
	Enum        []string // 仅 string
	Required    bool
}

func (p Param) bounded() bool { return p.Min != 0 || p.Max != 0 }

var (
	// ErrNotFlying 需要在空中执行的调用在地面提出
	ErrNotFlying = errors.New("drone is not flying")
	// ErrAlreadyFlying takeoff 在空中提出
	ErrAlreadyFlying = errors.New("drone is already flying")
)

// Definition 工具定义；启动时构建，之后只读共享
type Definition struct {
	Name        string
	Description string
	Kind        Kind
	Direction   Direction
	Params      []Param
	// Precondition 飞行状态前置条件，nil 表示任何状态均可
	Precondition func(state.FlightState) error
	SideEffect   string
	// ObserveAfter 成功执行后在 OBSERVING 阶段触发一次图像分析
	ObserveAfter bool
	// Movement 成功执行计入 movement_count
	Movement bool
}

// Param 按名称查找参数定义
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ParamError 参数结构校验失败
type ParamError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %s: param %s: %s", e.Tool, e.Param, e.Reason)
}

// CheckParams 只做结构校验（类型、上下界、枚举、必填、未知参数），从不修正取值
func (d Definition) CheckParams(params map[string]any) error {
	for name := range params {
		if _, ok := d.Param(name); !ok {
			return &ParamError{Tool: d.Name, Param: name, Reason: "unknown parameter"}
		}
	}
	for _, p := range d.Params {
		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return &ParamError{Tool: d.Name, Param: p.Name, Reason: "required"}
			}
			continue
		}
		switch p.Type {
		case TypeInteger:
			v, ok := toInt(raw)
			if !ok {
				return &ParamError{Tool: d.Name, Param: p.Name, Reason: fmt.Sprintf("must be an integer, got %v", raw)}
			}
			if p.bounded() && (v < p.Min || v > p.Max) {
				return &ParamError{Tool: d.Name, Param: p.Name, Reason: fmt.Sprintf("%d outside [%d, %d]", v, p.Min, p.Max)}
			}
		case TypeString:
			s, ok := raw.(string)
			if !ok {
				return &ParamError{Tool: d.Name, Param: p.Name, Reason: fmt.Sprintf("must be a string, got %T", raw)}
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return &ParamError{Tool: d.Name, Param: p.Name, Reason: fmt.Sprintf("%q not one of %v", s, p.Enum)}
			}
		}
	}
	return nil
}

// JSONSchema 参数的 JSON Schema 描述
func (d Definition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := make([]string, 0)
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.bounded() {
			prop["minimum"] = p.Min
			prop["maximum"] = p.Max
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Call 一次具体的工具调用提议
type Call struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Int 读取整数参数；JSON 解码得到的 float64 只有为整数值时才接受
func (c Call) Int(name string) (int, bool) {
	raw, ok := c.Params[name]
	if !ok {
		return 0, false
	}
	return toInt(raw)
}

// StringParam 读取字符串参数
func (c Call) StringParam(name string) string {
	s, _ := c.Params[name].(string)
	return s
}

// Summary 形如 move_forward(distance=50) 的可读表示，参数按名称排序
func (c Call) Summary() string {
	if len(c.Params) == 0 {
		return c.Tool + "()"
	}
	names := make([]string, 0, len(c.Params))
	for k := range c.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Params[k]))
	}
	return c.Tool + "(" + strings.Join(parts, ", ") + ")"
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
