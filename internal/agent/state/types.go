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

package state

import "time"

// FlightState 设备可观测的飞行状态；只由执行引擎在设备调用成功后修改
type FlightState struct {
	Flying        bool     `json:"flying"`
	Battery       int      `json:"battery"`
	Height        int      `json:"height"`
	MovementCount int      `json:"movement_count"`
	Obstacles     []string `json:"obstacles,omitempty"`
	Speed         int      `json:"speed,omitempty"`
}

// Clone 深拷贝
func (f FlightState) Clone() FlightState {
	out := f
	if f.Obstacles != nil {
		out.Obstacles = append([]string(nil), f.Obstacles...)
	}
	return out
}

// Obstacle 单条障碍物标记
type Obstacle struct {
	Label      string `json:"label"`
	Direction  string `json:"direction,omitempty"` // forward|backward|left|right|up|down，空表示方位未知
	DistanceCM int    `json:"distance_cm,omitempty"`
	Near       bool   `json:"near,omitempty"`
}

// ImageRecord 一次图像分析的结果
type ImageRecord struct {
	Seq         uint64     `json:"seq"`
	Time        time.Time  `json:"time"`
	Focus       string     `json:"focus"`
	Description string     `json:"description"`
	Objects     []string   `json:"objects,omitempty"`
	Obstacles   []Obstacle `json:"obstacles,omitempty"`
}

func (r ImageRecord) clone() ImageRecord {
	out := r
	if r.Objects != nil {
		out.Objects = append([]string(nil), r.Objects...)
	}
	if r.Obstacles != nil {
		out.Obstacles = append([]Obstacle(nil), r.Obstacles...)
	}
	return out
}

// Role 对话角色
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn 一条对话记录
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Telemetry 设备调用返回的遥测，由引擎转换后交给 Apply
type Telemetry struct {
	Flying  bool
	Battery int
	Height  int
	Speed   int
}

// Result 一次成功执行对状态的影响
type Result struct {
	// Telemetry 为 nil 表示该调用不产生遥测（如 capture_image）
	Telemetry *Telemetry
	// Movement 为 true 时 movement_count +1，并使此前的图像记录对侧向移动失效
	Movement bool
	Image    *ImageRecord
}

// Snapshot Read 返回的只读副本
type Snapshot struct {
	Flight FlightState   `json:"flight"`
	Turns  []Turn        `json:"turns"`
	Images []ImageRecord `json:"images"`
	// LastMovementSeq 最后一次移动时已分配的最大图像序号
	LastMovementSeq uint64 `json:"last_movement_seq"`
}

// LatestImage 返回最新的图像记录
func (s Snapshot) LatestImage() (ImageRecord, bool) {
	if len(s.Images) == 0 {
		return ImageRecord{}, false
	}
	return s.Images[len(s.Images)-1], true
}
