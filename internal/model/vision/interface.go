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

	"github.com/vs4vijay/microsoft-garage/internal/device"
)

// Obstacle 分析结果中的障碍物
type Obstacle struct {
	Label      string `json:"label"`
	Direction  string `json:"direction,omitempty"`
	DistanceCM int    `json:"distance_cm,omitempty"`
	Near       bool   `json:"near,omitempty"`
}

// Analysis 一帧画面的结构化描述
type Analysis struct {
	Description string     `json:"description"`
	Objects     []string   `json:"objects,omitempty"`
	Obstacles   []Obstacle `json:"obstacles,omitempty"`
}

// Client 视觉模型接口；hint 为 specific_object 时要找的物体描述
type Client interface {
	Analyze(ctx context.Context, frame device.Frame, focus, hint string) (Analysis, error)
	// Name 返回模型名称
	Name() string
}
