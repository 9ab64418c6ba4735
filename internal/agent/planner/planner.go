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

package planner

import (
	"context"
	"errors"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

// ErrPlanner 推理协作方失败（瞬时错误，引擎重试一次）
var ErrPlanner = errors.New("planner failure")

// 上一步的结果
const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
)

// Outcome 上一次提议的处理结果，供 Planner 调整下一步
type Outcome struct {
	Call   tools.Call `json:"call"`
	Status string     `json:"status"`           // executed | rejected
	Reason string     `json:"reason,omitempty"` // 拒绝原因
	Detail string     `json:"detail,omitempty"`
}

// Request 单步规划的输入
type Request struct {
	SessionID string
	Goal      string
	Step      int
	History   []state.Turn
	Images    []state.ImageRecord
	Flight    state.FlightState
	Tools     []tools.Definition
	Previous  *Outcome
}

// Proposal 要么是一个工具调用，要么是目标已满足
type Proposal struct {
	Call      *tools.Call
	Satisfied bool
	// Message 给用户的说明（可选）
	Message string
}

// Call 构造调用提议
func Call(c tools.Call) Proposal {
	return Proposal{Call: &c}
}

// Done 构造目标已满足
func Done(msg string) Proposal {
	return Proposal{Satisfied: true, Message: msg}
}

// Planner 决定下一步；每次只返回一个工具调用或"目标已满足"
type Planner interface {
	Next(ctx context.Context, req Request) (Proposal, error)
}

// Forgetter 可选接口：Session 清理时释放 Planner 内的逐 Session 状态
type Forgetter interface {
	Forget(sessionID string)
}
