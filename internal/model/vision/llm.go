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

package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vs4vijay/microsoft-garage/internal/device"
	"github.com/vs4vijay/microsoft-garage/internal/model/llm"
)

const systemPrompt = `You are the camera analyst of an indoor drone.
Answer with a single JSON object: {"description": string, "objects": [string], "obstacles": [{"label": string, "direction": "forward|backward|left|right|up|down", "distance_cm": int, "near": bool}]}.
Mark an obstacle "near" when it is closer than 50 cm. Omit distance_cm when you cannot estimate it.`

var focusPrompts = map[string]string{
	"obstacles":       "Analyze this drone camera view for navigation safety. Identify any obstacles, walls, or hazards that could interfere with drone movement. Provide specific distances if possible.",
	"objects":         "Describe all objects, furniture, and items visible in this drone camera view and their approximate positions relative to the drone.",
	"navigation":      "Evaluate this view for drone navigation. Assess the available space, lighting conditions and ceiling height.",
	"landing_spot":    "Analyze the area below and around the drone for suitable landing spots. Identify flat surfaces and potential hazards.",
	"specific_object": "Look for the following object and report whether and where it is visible: %s",
}

// LLMClient 使用多模态 chat 模型分析画面
type LLMClient struct {
	client llm.Client
}

// NewLLMClient 创建 LLMClient
func NewLLMClient(client llm.Client) *LLMClient {
	return &LLMClient{client: client}
}

// Analyze 实现 Client；模型未返回合法 JSON 时整段文本作为 description
func (c *LLMClient) Analyze(ctx context.Context, frame device.Frame, focus, hint string) (Analysis, error) {
	if len(frame.Data) == 0 {
		return Analysis{}, fmt.Errorf("empty frame")
	}
	prompt, ok := focusPrompts[focus]
	if !ok {
		prompt = "Analyze this drone camera view and describe what you see."
	}
	if focus == "specific_object" {
		prompt = fmt.Sprintf(prompt, hint)
	}

	out, err := c.client.ChatWithContext(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt, Images: []llm.Image{{MIMEType: frame.MIMEType, Data: frame.Data}}},
	}, llm.GenerateOptions{Temperature: 0.2, MaxTokens: 500, JSON: true})
	if err != nil {
		return Analysis{}, err
	}
	return parseAnalysis(out), nil
}

// Name 实现 Client
func (c *LLMClient) Name() string { return c.client.Model() }

func parseAnalysis(out string) Analysis {
	text := strings.TrimSpace(out)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var a Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &a); err != nil || a.Description == "" {
		return Analysis{Description: strings.TrimSpace(out)}
	}
	return a
}
