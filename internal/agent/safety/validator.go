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

package safety

import (
	"errors"
	"fmt"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

// 拒绝原因
const (
	ReasonUnknownTool        = "unknown-tool"
	ReasonToolNotAllowed     = "tool-not-allowed"
	ReasonNotFlying          = "not-flying"
	ReasonAlreadyFlying      = "already-flying"
	ReasonPrecondition       = "precondition-failed"
	ReasonOutOfBounds        = "out-of-bounds"
	ReasonExceedsStepLimit   = "exceeds-step-limit"
	ReasonBatteryCritical    = "battery-critical"
	ReasonLateralNeedsVision = "lateral-needs-vision"
	ReasonObstacleDetected   = "obstacle-detected"
)

// Policy 安全策略
type Policy struct {
	MaxStepDistance          int
	MinBattery               int
	MaxConsecutiveRejections int
	MaxExecutionRetries      int
	// LateralRequiresVision 左右平移前必须有比最后一次移动更新的图像记录
	LateralRequiresVision bool
	// ObstacleCheck 最新图像在调用方向上标记了障碍物时拒绝
	ObstacleCheck bool
	// EmergencyAction land 或 emergency_stop
	EmergencyAction string
	// AllowedTools 非空时只放行列出的工具；强制动作不经过校验器
	AllowedTools []string
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxStepDistance:          tools.MaxDistance,
		MinBattery:               20,
		MaxConsecutiveRejections: 3,
		MaxExecutionRetries:      2,
		LateralRequiresVision:    true,
		ObstacleCheck:            true,
		EmergencyAction:          tools.Land,
	}
}

// Decision 校验结果
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Err 拒绝时返回 *ValidationError，批准时返回 nil
func (d Decision) Err(call tools.Call) error {
	if d.Approved {
		return nil
	}
	return &ValidationError{Tool: call.Tool, Reason: d.Reason, Detail: d.Detail}
}

// ValidationError 安全校验拒绝；可恢复，计入连续拒绝预算
type ValidationError struct {
	Tool   string
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s rejected: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("%s rejected: %s (%s)", e.Tool, e.Reason, e.Detail)
}

func approve() Decision { return Decision{Approved: true} }

func reject(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Validator 无副作用的安全校验器
type Validator struct {
	registry *tools.Registry
	policy   Policy
	allowed  map[string]struct{}
}

// NewValidator 创建 Validator
func NewValidator(registry *tools.Registry, policy Policy) *Validator {
	v := &Validator{registry: registry, policy: policy}
	if len(policy.AllowedTools) > 0 {
		v.allowed = make(map[string]struct{}, len(policy.AllowedTools))
		for _, name := range policy.AllowedTools {
			v.allowed[name] = struct{}{}
		}
	}
	return v
}

// Policy 返回当前策略
func (v *Validator) Policy() Policy { return v.policy }

// Validate 按顺序执行规则，第一条失败即返回；lastMovementSeq 为最后一次移动时的图像序号
func (v *Validator) Validate(call tools.Call, flight state.FlightState, images []state.ImageRecord, lastMovementSeq uint64) Decision {
	def, err := v.registry.Lookup(call.Tool)
	if err != nil {
		return reject(ReasonUnknownTool, call.Tool)
	}
	if v.allowed != nil {
		if _, ok := v.allowed[def.Name]; !ok {
			return reject(ReasonToolNotAllowed, def.Name)
		}
	}

	if d := v.checkFlightState(def, flight); !d.Approved {
		return d
	}
	if d := v.checkBounds(def, call); !d.Approved {
		return d
	}
	if d := v.checkBattery(def, flight); !d.Approved {
		return d
	}
	if d := v.checkLateral(def, images, lastMovementSeq); !d.Approved {
		return d
	}
	return v.checkObstacle(def, call, images)
}

func (v *Validator) checkFlightState(def tools.Definition, flight state.FlightState) Decision {
	if def.Precondition == nil {
		return approve()
	}
	err := def.Precondition(flight)
	switch {
	case err == nil:
		return approve()
	case errors.Is(err, tools.ErrNotFlying):
		return reject(ReasonNotFlying, err.Error())
	case errors.Is(err, tools.ErrAlreadyFlying):
		return reject(ReasonAlreadyFlying, err.Error())
	default:
		return reject(ReasonPrecondition, err.Error())
	}
}

func (v *Validator) checkBounds(def tools.Definition, call tools.Call) Decision {
	if err := def.CheckParams(call.Params); err != nil {
		return reject(ReasonOutOfBounds, err.Error())
	}
	if def.Kind != tools.KindMotion || v.policy.MaxStepDistance <= 0 {
		return approve()
	}
	if dist, ok := call.Int(tools.ParamDistance); ok && dist > v.policy.MaxStepDistance {
		return reject(ReasonExceedsStepLimit, fmt.Sprintf("%d > %d", dist, v.policy.MaxStepDistance))
	}
	return approve()
}

func (v *Validator) checkBattery(def tools.Definition, flight state.FlightState) Decision {
	if flight.Battery >= v.policy.MinBattery {
		return approve()
	}
	if def.Name == tools.Land || def.Name == tools.EmergencyStop {
		return approve()
	}
	return reject(ReasonBatteryCritical, fmt.Sprintf("battery %d%% < %d%%", flight.Battery, v.policy.MinBattery))
}

func (v *Validator) checkLateral(def tools.Definition, images []state.ImageRecord, lastMovementSeq uint64) Decision {
	if !v.policy.LateralRequiresVision {
		return approve()
	}
	if def.Name != tools.MoveLeft && def.Name != tools.MoveRight {
		return approve()
	}
	if len(images) == 0 {
		return reject(ReasonLateralNeedsVision, "no image captured yet")
	}
	if latest := images[len(images)-1]; latest.Seq <= lastMovementSeq {
		return reject(ReasonLateralNeedsVision, "no image captured since the last movement")
	}
	return approve()
}

func (v *Validator) checkObstacle(def tools.Definition, call tools.Call, images []state.ImageRecord) Decision {
	if !v.policy.ObstacleCheck || def.Direction == tools.DirNone || len(images) == 0 {
		return approve()
	}
	// land 方向为 down，但降落不能被地面上的障碍物阻止
	if def.Kind == tools.KindFlight {
		return approve()
	}
	dist, _ := call.Int(tools.ParamDistance)
	latest := images[len(images)-1]
	for _, o := range latest.Obstacles {
		if o.Direction != string(def.Direction) {
			continue
		}
		// 距离未知按阻挡处理
		if o.Near || o.DistanceCM <= 0 || o.DistanceCM <= dist {
			return reject(ReasonObstacleDetected, fmt.Sprintf("%s %s", o.Label, o.Direction))
		}
	}
	return approve()
}
