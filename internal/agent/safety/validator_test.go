package safety

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

var (
	grounded = state.FlightState{Battery: 100}
	airborne = state.FlightState{Battery: 100, Flying: true, Height: 80}
)

func newValidator(mut func(*Policy)) *Validator {
	p := DefaultPolicy()
	if mut != nil {
		mut(&p)
	}
	return NewValidator(tools.NewBuiltinRegistry(), p)
}

func call(name string, params map[string]any) tools.Call {
	return tools.Call{Tool: name, Params: params}
}

func TestValidate_UnknownTool(t *testing.T) {
	d := newValidator(nil).Validate(call("barrel_roll", nil), airborne, nil, 0)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonUnknownTool, d.Reason)
}

func TestValidate_FlightState(t *testing.T) {
	v := newValidator(nil)
	assert.Equal(t, ReasonNotFlying, v.Validate(call(tools.MoveForward, map[string]any{"distance": 50}), grounded, nil, 0).Reason)
	assert.Equal(t, ReasonNotFlying, v.Validate(call(tools.Land, nil), grounded, nil, 0).Reason)
	assert.Equal(t, ReasonAlreadyFlying, v.Validate(call(tools.Takeoff, nil), airborne, nil, 0).Reason)
	assert.True(t, v.Validate(call(tools.Takeoff, nil), grounded, nil, 0).Approved)
	assert.True(t, v.Validate(call(tools.GetDroneStatus, nil), grounded, nil, 0).Approved)
	assert.True(t, v.Validate(call(tools.SetSpeed, map[string]any{"speed": 30}), grounded, nil, 0).Approved)
}

// 越界参数总是被拒绝，不会被修正
func TestValidate_OutOfBoundsNeverClamped(t *testing.T) {
	v := newValidator(nil)
	cases := []tools.Call{
		call(tools.MoveForward, map[string]any{"distance": 19}),
		call(tools.MoveForward, map[string]any{"distance": 101}),
		call(tools.MoveUp, map[string]any{"distance": -5}),
		call(tools.RotateClockwise, map[string]any{"angle": 0}),
		call(tools.RotateClockwise, map[string]any{"angle": 10}),
		call(tools.RotateCounterClockwise, map[string]any{"angle": 270}),
		call(tools.RotateCounterClockwise, map[string]any{"angle": 361}),
		call(tools.SetSpeed, map[string]any{"speed": 9}),
		call(tools.SetSpeed, map[string]any{"speed": 101}),
	}
	for _, c := range cases {
		before := c.Params[firstKey(c.Params)]
		d := v.Validate(c, airborne, nil, 0)
		assert.False(t, d.Approved, c.Summary())
		assert.Equal(t, ReasonOutOfBounds, d.Reason, c.Summary())
		assert.Equal(t, before, c.Params[firstKey(c.Params)], "params must not be modified")
	}

	for _, angle := range []int{tools.MinAngle, 90, tools.MaxAngle} {
		assert.True(t, v.Validate(call(tools.RotateClockwise, map[string]any{"angle": angle}), airborne, nil, 0).Approved)
	}
	for dist := tools.MinDistance; dist <= tools.MaxDistance; dist += 10 {
		d := v.Validate(call(tools.MoveBackward, map[string]any{"distance": dist}), airborne, nil, 0)
		assert.True(t, d.Approved, "distance %d", dist)
	}
}

func TestValidate_StepLimit(t *testing.T) {
	v := newValidator(func(p *Policy) { p.MaxStepDistance = 50 })
	d := v.Validate(call(tools.MoveForward, map[string]any{"distance": 60}), airborne, nil, 0)
	assert.Equal(t, ReasonExceedsStepLimit, d.Reason)
	assert.True(t, v.Validate(call(tools.MoveForward, map[string]any{"distance": 50}), airborne, nil, 0).Approved)
}

func TestValidate_BatteryCritical(t *testing.T) {
	v := newValidator(nil)
	low := airborne
	low.Battery = 19

	for _, c := range []tools.Call{
		call(tools.MoveForward, map[string]any{"distance": 50}),
		call(tools.RotateClockwise, map[string]any{"angle": 90}),
		call(tools.GetDroneStatus, nil),
		call(tools.CaptureImage, map[string]any{"focus": "landing_spot"}),
	} {
		d := v.Validate(c, low, nil, 0)
		assert.Equal(t, ReasonBatteryCritical, d.Reason, c.Tool)
	}
	assert.True(t, v.Validate(call(tools.Land, nil), low, nil, 0).Approved)
	assert.True(t, v.Validate(call(tools.EmergencyStop, nil), low, nil, 0).Approved)

	low.Battery = 20
	assert.True(t, v.Validate(call(tools.GetDroneStatus, nil), low, nil, 0).Approved)
}

func TestValidate_LateralNeedsVision(t *testing.T) {
	v := newValidator(nil)
	right := call(tools.MoveRight, map[string]any{"distance": 30})

	d := v.Validate(right, airborne, nil, 0)
	assert.Equal(t, ReasonLateralNeedsVision, d.Reason)

	// 图像早于最后一次移动
	stale := []state.ImageRecord{{Seq: 2}}
	d = v.Validate(right, airborne, stale, 2)
	assert.Equal(t, ReasonLateralNeedsVision, d.Reason)

	fresh := []state.ImageRecord{{Seq: 3}}
	assert.True(t, v.Validate(right, airborne, fresh, 2).Approved)

	// 旋转和前后移动不需要图像
	assert.True(t, v.Validate(call(tools.RotateClockwise, map[string]any{"angle": 90}), airborne, nil, 0).Approved)
	assert.True(t, v.Validate(call(tools.MoveForward, map[string]any{"distance": 30}), airborne, nil, 0).Approved)

	relaxed := newValidator(func(p *Policy) { p.LateralRequiresVision = false })
	assert.True(t, relaxed.Validate(right, airborne, nil, 0).Approved)
}

func TestValidate_Obstacle(t *testing.T) {
	v := newValidator(nil)
	images := []state.ImageRecord{
		{Seq: 1, Obstacles: []state.Obstacle{{Label: "chair", Direction: "left", Near: true}}},
		{Seq: 2, Obstacles: []state.Obstacle{
			{Label: "wall", Direction: "forward", DistanceCM: 40},
			{Label: "lamp", Direction: "up"},
		}},
	}

	d := v.Validate(call(tools.MoveForward, map[string]any{"distance": 50}), airborne, images, 0)
	assert.Equal(t, ReasonObstacleDetected, d.Reason)
	assert.Contains(t, d.Detail, "wall")

	// 障碍物比请求距离更远
	assert.True(t, v.Validate(call(tools.MoveForward, map[string]any{"distance": 30}), airborne, images, 0).Approved)
	// 只看最新的记录
	assert.True(t, v.Validate(call(tools.MoveLeft, map[string]any{"distance": 30}), airborne, images, 0).Approved)
	// 距离未知的障碍物按阻挡处理
	d = v.Validate(call(tools.MoveUp, map[string]any{"distance": 20}), airborne, images, 0)
	assert.Equal(t, ReasonObstacleDetected, d.Reason)
	assert.Contains(t, d.Detail, "lamp")
	assert.True(t, v.Validate(call(tools.MoveDown, map[string]any{"distance": 20}), airborne, images, 0).Approved)
	assert.True(t, v.Validate(call(tools.Land, nil), airborne, images, 0).Approved)

	off := newValidator(func(p *Policy) { p.ObstacleCheck = false })
	assert.True(t, off.Validate(call(tools.MoveForward, map[string]any{"distance": 50}), airborne, images, 0).Approved)
}

func TestValidate_AllowedTools(t *testing.T) {
	v := newValidator(func(p *Policy) {
		p.AllowedTools = []string{tools.Takeoff, tools.Land, tools.MoveForward, tools.CaptureImage}
	})
	assert.True(t, v.Validate(call(tools.MoveForward, map[string]any{"distance": 30}), airborne, nil, 0).Approved)
	assert.True(t, v.Validate(call(tools.Land, nil), airborne, nil, 0).Approved)

	d := v.Validate(call(tools.RotateClockwise, map[string]any{"angle": 90}), airborne, nil, 0)
	assert.Equal(t, ReasonToolNotAllowed, d.Reason)
	assert.Equal(t, tools.RotateClockwise, d.Detail)

	// 白名单先于飞行状态检查，未知工具仍报 unknown-tool
	d = v.Validate(call(tools.GetDroneStatus, nil), grounded, nil, 0)
	assert.Equal(t, ReasonToolNotAllowed, d.Reason)
	assert.Equal(t, ReasonUnknownTool, v.Validate(call("flip", nil), airborne, nil, 0).Reason)

	// 空列表表示不限制
	assert.True(t, newValidator(nil).Validate(call(tools.RotateClockwise, map[string]any{"angle": 90}), airborne, nil, 0).Approved)
}

func TestValidate_RuleOrder(t *testing.T) {
	v := newValidator(nil)
	low := state.FlightState{Battery: 5}
	// 地面 + 越界 + 低电量：飞行状态优先
	d := v.Validate(call(tools.MoveRight, map[string]any{"distance": 500}), low, nil, 0)
	assert.Equal(t, ReasonNotFlying, d.Reason)

	low.Flying = true
	d = v.Validate(call(tools.MoveRight, map[string]any{"distance": 500}), low, nil, 0)
	assert.Equal(t, ReasonOutOfBounds, d.Reason)

	d = v.Validate(call(tools.MoveRight, map[string]any{"distance": 50}), low, nil, 0)
	assert.Equal(t, ReasonBatteryCritical, d.Reason)
}

func TestDecision_Err(t *testing.T) {
	c := call(tools.MoveRight, map[string]any{"distance": 30})
	d := newValidator(nil).Validate(c, airborne, nil, 0)
	err := d.Err(c)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ReasonLateralNeedsVision, ve.Reason)
	assert.Contains(t, err.Error(), "move_right rejected")

	assert.NoError(t, Decision{Approved: true}.Err(c))
}

func TestValidate_DoesNotMutateState(t *testing.T) {
	v := newValidator(nil)
	flight := state.FlightState{Battery: 50, Flying: true, Height: 80, Obstacles: []string{"wall"}}
	images := []state.ImageRecord{{Seq: 1, Obstacles: []state.Obstacle{{Label: "wall", Direction: "forward", Near: true}}}}
	before := flight.Clone()
	v.Validate(call(tools.MoveForward, map[string]any{"distance": 50}), flight, images, 0)
	assert.Equal(t, before, flight)
	assert.Len(t, images, 1)
}

func firstKey(m map[string]any) string {
	for k := range m {
		return k
	}
	return ""
}
