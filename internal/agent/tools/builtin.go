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

import "github.com/vs4vijay/microsoft-garage/internal/agent/state"

// 内置工具名
const (
	Takeoff                = "takeoff"
	Land                   = "land"
	EmergencyStop          = "emergency_stop"
	MoveForward            = "move_forward"
	MoveBackward           = "move_backward"
	MoveLeft               = "move_left"
	MoveRight              = "move_right"
	MoveUp                 = "move_up"
	MoveDown               = "move_down"
	RotateClockwise        = "rotate_clockwise"
	RotateCounterClockwise = "rotate_counter_clockwise"
	SetSpeed               = "set_speed"
	GetDroneStatus         = "get_drone_status"
	CaptureImage           = "capture_image"
)

// 参数名
const (
	ParamDistance          = "distance"
	ParamAngle             = "angle"
	ParamSpeed             = "speed"
	ParamFocus             = "focus"
	ParamObjectDescription = "object_description"
)

// 图像分析关注点
const (
	FocusObstacles      = "obstacles"
	FocusObjects        = "objects"
	FocusNavigation     = "navigation"
	FocusSpecificObject = "specific_object"
	FocusLandingSpot    = "landing_spot"
)

// Focuses capture_image 支持的全部关注点
var Focuses = []string{FocusObstacles, FocusObjects, FocusNavigation, FocusSpecificObject, FocusLandingSpot}

// 原始 SDK 的取值范围
const (
	MinDistance = 20
	MaxDistance = 100
	MinAngle    = 30
	MaxAngle    = 180
	MinSpeed    = 10
	MaxSpeed    = 100
)

// RequireFlying 要求设备在空中
func RequireFlying(f state.FlightState) error {
	if !f.Flying {
		return ErrNotFlying
	}
	return nil
}

// RequireGrounded 要求设备在地面
func RequireGrounded(f state.FlightState) error {
	if f.Flying {
		return ErrAlreadyFlying
	}
	return nil
}

func distanceParam() Param {
	return Param{
		Name: ParamDistance, Type: TypeInteger, Required: true,
		Min: MinDistance, Max: MaxDistance,
		Description: "distance in centimeters",
	}
}

func move(name string, dir Direction, desc string) Definition {
	return Definition{
		Name:         name,
		Description:  desc,
		Kind:         KindMotion,
		Direction:    dir,
		Params:       []Param{distanceParam()},
		Precondition: RequireFlying,
		SideEffect:   "translates the drone " + string(dir),
		ObserveAfter: true,
		Movement:     true,
	}
}

func rotate(name, desc string) Definition {
	return Definition{
		Name:        name,
		Description: desc,
		Kind:        KindRotation,
		Params: []Param{{
			Name: ParamAngle, Type: TypeInteger, Required: true,
			Min: MinAngle, Max: MaxAngle,
			Description: "angle in degrees",
		}},
		Precondition: RequireFlying,
		SideEffect:   "changes heading in place",
		ObserveAfter: true,
	}
}

// Builtin 内置工具目录，顺序即注册顺序
func Builtin() []Definition {
	return []Definition{
		{
			Name:         Takeoff,
			Description:  "Take off and hover at the default height.",
			Kind:         KindFlight,
			Precondition: RequireGrounded,
			SideEffect:   "drone becomes airborne",
			ObserveAfter: true,
		},
		{
			Name:         Land,
			Description:  "Land at the current position.",
			Kind:         KindFlight,
			Direction:    DirDown,
			Precondition: RequireFlying,
			SideEffect:   "drone lands; height becomes 0",
		},
		{
			Name:        EmergencyStop,
			Description: "Stop all motors immediately. The drone falls if airborne.",
			Kind:        KindFlight,
			SideEffect:  "motors stop",
		},
		move(MoveForward, DirForward, "Move forward by the given distance."),
		move(MoveBackward, DirBackward, "Move backward by the given distance."),
		move(MoveLeft, DirLeft, "Move left by the given distance. Capture an image first."),
		move(MoveRight, DirRight, "Move right by the given distance. Capture an image first."),
		move(MoveUp, DirUp, "Climb by the given distance."),
		move(MoveDown, DirDown, "Descend by the given distance."),
		rotate(RotateClockwise, "Rotate clockwise by the given angle."),
		rotate(RotateCounterClockwise, "Rotate counter-clockwise by the given angle."),
		{
			Name:        SetSpeed,
			Description: "Set the translation speed.",
			Kind:        KindConfig,
			Params: []Param{{
				Name: ParamSpeed, Type: TypeInteger, Required: true,
				Min: MinSpeed, Max: MaxSpeed,
				Description: "speed in cm/s",
			}},
			SideEffect: "changes the speed of subsequent moves",
		},
		{
			Name:        GetDroneStatus,
			Description: "Read battery, height and flight status without moving.",
			Kind:        KindQuery,
		},
		{
			Name:        CaptureImage,
			Description: "Capture a camera frame and analyze it.",
			Kind:        KindVision,
			Params: []Param{
				{Name: ParamFocus, Type: TypeString, Enum: Focuses, Description: "what the analysis should focus on"},
				{Name: ParamObjectDescription, Type: TypeString, Description: "object to look for when focus is specific_object"},
			},
			SideEffect: "appends an image analysis record",
		},
	}
}

// NewBuiltinRegistry 注册内置目录并封闭
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtin() {
		// 内置目录名称唯一，不会失败
		_ = r.Register(d)
	}
	r.Seal()
	return r
}
