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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/pkg/utils"
)

// GoalSatisfiedTool 模型用于宣告目标完成的虚拟工具
const GoalSatisfiedTool = "goal_satisfied"

const systemPrompt = `You are the flight planner of a small indoor drone. Decide the single next action that moves the drone toward the user's goal.
Call exactly one tool per turn. When the goal is fully achieved, call goal_satisfied with a short summary.
Rules:
- Take off before any movement. Land when the goal is done unless the user asked to stay airborne.
- Capture an image before moving left or right; prefer rotating and moving forward.
- Distances are in centimeters (20-100 per step). Split longer moves into several steps.
- If the previous step was rejected, adapt to the rejection reason instead of repeating the same call.
- Never invent tools.`

// LLMPlanner 基于 eino ToolCallingChatModel 的 Planner：工具目录绑定为 function tools
type LLMPlanner struct {
	model model.ToolCallingChatModel
}

// NewLLMPlanner 创建基于 LLM 的 Planner，defs 在创建时绑定为模型的工具
func NewLLMPlanner(cm model.ToolCallingChatModel, defs []tools.Definition) (*LLMPlanner, error) {
	if cm == nil {
		return nil, fmt.Errorf("planner: chat model is nil")
	}
	bound, err := cm.WithTools(ToolInfos(defs))
	if err != nil {
		return nil, fmt.Errorf("planner: bind tools: %w", err)
	}
	return &LLMPlanner{model: bound}, nil
}

// ToolInfos 把工具定义转换为 eino ToolInfo，并追加 goal_satisfied
func ToolInfos(defs []tools.Definition) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(defs)+1)
	for _, d := range defs {
		params := make(map[string]*schema.ParameterInfo, len(d.Params))
		for _, p := range d.Params {
			pi := &schema.ParameterInfo{Desc: p.Description, Required: p.Required, Enum: p.Enum}
			switch p.Type {
			case tools.TypeInteger:
				pi.Type = schema.Integer
				if p.Min != 0 || p.Max != 0 {
					pi.Desc = fmt.Sprintf("%s (%d-%d)", p.Description, p.Min, p.Max)
				}
			default:
				pi.Type = schema.String
			}
			params[p.Name] = pi
		}
		desc := d.Description
		if d.SideEffect != "" {
			desc += " Effect: " + d.SideEffect + "."
		}
		infos = append(infos, &schema.ToolInfo{
			Name:        d.Name,
			Desc:        desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	infos = append(infos, &schema.ToolInfo{
		Name: GoalSatisfiedTool,
		Desc: "Declare that the user's goal has been achieved.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"summary": {Type: schema.String, Desc: "one sentence for the user"},
		}),
	})
	return infos
}

// Next 实现 Planner
func (p *LLMPlanner) Next(ctx context.Context, req Request) (Proposal, error) {
	msg, err := p.model.Generate(ctx, buildMessages(req))
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: generate: %w", ErrPlanner, err)
	}
	if msg == nil {
		return Proposal{}, fmt.Errorf("%w: empty reply", ErrPlanner)
	}
	if len(msg.ToolCalls) == 0 {
		// 完成必须通过 goal_satisfied 显式声明；纯文本回复按规划失败处理
		return Proposal{}, fmt.Errorf("%w: reply has no tool call: %q", ErrPlanner, utils.Truncate(strings.TrimSpace(msg.Content), 120))
	}

	tc := msg.ToolCalls[0]
	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return Proposal{}, fmt.Errorf("%w: decode arguments of %s: %w", ErrPlanner, tc.Function.Name, err)
		}
	}
	if tc.Function.Name == GoalSatisfiedTool {
		summary, _ := args["summary"].(string)
		return Done(summary), nil
	}
	if len(args) == 0 {
		args = nil
	}
	return Call(tools.Call{Tool: tc.Function.Name, Params: args, SessionID: req.SessionID}), nil
}

func buildMessages(req Request) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.History)+3)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	for _, t := range req.History {
		switch t.Role {
		case state.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Text))
		case state.RoleAgent:
			msgs = append(msgs, schema.AssistantMessage(t.Text, nil))
		default:
			msgs = append(msgs, schema.SystemMessage(t.Text))
		}
	}
	msgs = append(msgs, schema.UserMessage(situation(req)))
	return msgs
}

// situation 汇总当前目标、飞行状态、最近的图像分析与上一步结果
func situation(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	f := req.Flight
	fmt.Fprintf(&b, "Drone: flying=%t battery=%d%% height=%dcm movements=%d", f.Flying, f.Battery, f.Height, f.MovementCount)
	if f.Speed > 0 {
		fmt.Fprintf(&b, " speed=%dcm/s", f.Speed)
	}
	b.WriteString("\n")
	if len(f.Obstacles) > 0 {
		fmt.Fprintf(&b, "Known obstacles: %s\n", strings.Join(f.Obstacles, ", "))
	}
	if len(req.Images) > 0 {
		b.WriteString("Recent camera analyses (oldest first):\n")
		for _, img := range req.Images {
			fmt.Fprintf(&b, "- #%d [%s] %s\n", img.Seq, img.Focus, img.Description)
		}
	}
	if prev := req.Previous; prev != nil {
		switch prev.Status {
		case OutcomeRejected:
			fmt.Fprintf(&b, "Previous proposal %s was REJECTED: %s", prev.Call.Summary(), prev.Reason)
			if prev.Detail != "" {
				fmt.Fprintf(&b, " (%s)", prev.Detail)
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "Previous action %s succeeded.\n", prev.Call.Summary())
		}
	}
	fmt.Fprintf(&b, "Step %d. Choose the next action.", req.Step)
	return b.String()
}
