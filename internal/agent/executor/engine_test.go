package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/planner"
	"github.com/vs4vijay/microsoft-garage/internal/agent/safety"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/agent/vision"
	"github.com/vs4vijay/microsoft-garage/internal/device"
	modelvision "github.com/vs4vijay/microsoft-garage/internal/model/vision"
	"github.com/vs4vijay/microsoft-garage/internal/storage/archive"
	pkgerrors "github.com/vs4vijay/microsoft-garage/pkg/errors"
)

func TestEngine_TakeoffForwardLand(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})

	s, err := h.run(t, "take off, move forward 50, land")
	require.NoError(t, err)

	calls := h.sim.Calls()
	require.Equal(t, []string{tools.Takeoff, tools.MoveForward, tools.Land}, toolNames(calls))
	dist, ok := calls[1].Int(tools.ParamDistance)
	require.True(t, ok)
	assert.Equal(t, 50, dist)

	info := s.Info()
	assert.Equal(t, StatusDone, info.Status)
	assert.Equal(t, ReasonGoalSatisfied, info.Reason)
	assert.False(t, info.Flight.Flying)
	assert.Equal(t, 0, info.Flight.Height)
	assert.Equal(t, 1, info.Flight.MovementCount)

	evs := s.Events(0)
	assert.Equal(t, []string{
		"IDLE",
		"PLANNING", "VALIDATING", "EXECUTING", "OBSERVING",
		"PLANNING", "VALIDATING", "EXECUTING", "OBSERVING",
		"PLANNING", "VALIDATING", "EXECUTING", "OBSERVING",
		"PLANNING", "DONE",
	}, statesOf(evs))
	assert.Len(t, h.broker.History(s.ID, 0), len(evs))
	for i, e := range evs {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	// 起飞与前进之后各有一次图像分析，降落后没有
	var captures []any
	for _, e := range evs {
		if e.State == string(StateObserving) {
			captures = append(captures, e.Data["capture"])
		}
	}
	assert.Equal(t, []any{"capture_image(focus=obstacles)", "capture_image(focus=obstacles)", nil}, captures)
	images := s.Snapshot().Images
	require.Len(t, images, 2)
	assert.Equal(t, tools.FocusObstacles, images[1].Focus)
}

func TestEngine_LateralFirstCallRejected(t *testing.T) {
	p := script(planner.Call(move(tools.MoveRight, 30)))
	h := newHarness(t, p, harnessOpts{extra: []Option{
		WithInitialFlight(state.FlightState{Flying: true, Battery: 90, Height: 80}),
	}})

	s, err := h.run(t, "slide right 30")
	require.NoError(t, err)

	assert.Empty(t, h.sim.Calls())
	reqs := p.Requests()
	require.Len(t, reqs, 2)
	require.NotNil(t, reqs[1].Previous)
	assert.Equal(t, planner.OutcomeRejected, reqs[1].Previous.Status)
	assert.Equal(t, safety.ReasonLateralNeedsVision, reqs[1].Previous.Reason)

	evs := s.Events(0)
	assert.Equal(t, []string{"IDLE", "PLANNING", "VALIDATING", "PLANNING", "DONE"}, statesOf(evs))
	assert.Equal(t, safety.ReasonLateralNeedsVision, evs[3].Reason)
	assert.Equal(t, 0, countState(evs, StateExecuting))

	var sawSystemTurn bool
	for _, turn := range s.Snapshot().Turns {
		if turn.Role == state.RoleSystem {
			assert.Contains(t, turn.Text, safety.ReasonLateralNeedsVision)
			sawSystemTurn = true
		}
	}
	assert.True(t, sawSystemTurn)
}

func TestEngine_LateralAfterCapture(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{flying: true})

	s, err := h.run(t, "move right 30")
	require.NoError(t, err)

	assert.Equal(t, []string{tools.MoveRight}, h.calls())
	var executed []any
	for _, e := range s.Events(0) {
		if e.State == string(StateExecuting) {
			executed = append(executed, e.Data["call"])
		}
	}
	assert.Equal(t, []any{"capture_image(focus=obstacles)", "move_right(distance=30)"}, executed)
	assert.Equal(t, 1, s.Info().Flight.MovementCount)
}

func TestEngine_OutOfBoundsNeverClamped(t *testing.T) {
	p := script(planner.Call(move(tools.MoveForward, 150)))
	h := newHarness(t, p, harnessOpts{flying: true})

	_, err := h.run(t, "go forward a lot")
	require.NoError(t, err)

	assert.Empty(t, h.calls())
	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, safety.ReasonOutOfBounds, reqs[1].Previous.Reason)
	dist, _ := reqs[1].Previous.Call.Int(tools.ParamDistance)
	assert.Equal(t, 150, dist)
}

func TestEngine_RejectionBudgetAborts(t *testing.T) {
	p := always(move(tools.MoveForward, 50))
	h := newHarness(t, p, harnessOpts{})

	s, err := h.run(t, "move forward 50")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejectionBudget)
	var verr *safety.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, safety.ReasonNotFlying, verr.Reason)

	assert.Len(t, p.Requests(), safety.DefaultPolicy().MaxConsecutiveRejections)
	assert.Empty(t, h.sim.Calls())
	info := s.Info()
	assert.Equal(t, StatusAborted, info.Status)
	assert.Equal(t, ReasonRejectionBudget, info.Reason)
	assert.Equal(t, 3, info.Rejections)
	assert.Equal(t, 0, countState(s.Events(0), StateExecuting))
}

// 空中耗尽拒绝预算：中止前只下发一次降落
func TestEngine_RejectionBudgetAirborneLands(t *testing.T) {
	p := always(move(tools.MoveForward, 500))
	h := newHarness(t, p, harnessOpts{flying: true})

	s, err := h.run(t, "move forward 500")
	assert.ErrorIs(t, err, ErrRejectionBudget)

	assert.Len(t, p.Requests(), safety.DefaultPolicy().MaxConsecutiveRejections)
	assert.Equal(t, []string{tools.Land}, h.calls())
	info := s.Info()
	assert.Equal(t, StatusAborted, info.Status)
	assert.Equal(t, ReasonRejectionBudget, info.Reason)
	assert.False(t, info.Flight.Flying)
	assert.Equal(t, 0, countState(s.Events(0), StateExecuting))
}

func TestEngine_RejectionCounterResetsOnApproval(t *testing.T) {
	p := script(
		planner.Call(move(tools.MoveForward, 500)),
		planner.Call(move(tools.MoveForward, 500)),
		planner.Call(tools.Call{Tool: tools.GetDroneStatus}),
		planner.Call(move(tools.MoveForward, 500)),
		planner.Call(move(tools.MoveForward, 500)),
	)
	h := newHarness(t, p, harnessOpts{flying: true})

	s, err := h.run(t, "test the limits")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, s.Info().Status)
	assert.Equal(t, []string{tools.GetDroneStatus}, h.calls())
}

func TestEngine_EmergencyDuringPlanning(t *testing.T) {
	entered := make(chan struct{})
	p := &funcPlanner{fn: func(ctx context.Context, n int, _ planner.Request) (planner.Proposal, error) {
		if n == 0 {
			close(entered)
		}
		<-ctx.Done()
		return planner.Proposal{}, ctx.Err()
	}}
	h := newHarness(t, p, harnessOpts{flying: true})

	s := h.start(t, "hover and wait")
	<-entered
	require.NoError(t, h.engine.Emergency(s.ID))
	waitDone(t, s)

	require.NoError(t, s.Err())
	info := s.Info()
	assert.Equal(t, StatusDone, info.Status)
	assert.Equal(t, ReasonEmergency, info.Reason)
	assert.False(t, info.Flight.Flying)
	assert.Equal(t, []string{tools.Land}, h.calls())
	assert.Len(t, p.Requests(), 1)

	states := statesOf(s.Events(0))
	assert.Equal(t, []string{"EMERGENCY", "DONE"}, states[len(states)-2:])
	assert.ErrorIs(t, h.engine.Emergency(s.ID), ErrSessionEnded)
}

func TestEngine_EmergencyDuringExecuting(t *testing.T) {
	entered := make(chan struct{})
	dev := &fakeDevice{handler: func(ctx context.Context, call tools.Call) (device.Telemetry, error) {
		if call.Tool == tools.MoveForward {
			close(entered)
			<-ctx.Done()
			return device.Telemetry{}, ctx.Err()
		}
		return device.Telemetry{Battery: 80}, nil
	}}
	p := always(move(tools.MoveForward, 50))
	policy := safety.DefaultPolicy()
	policy.EmergencyAction = tools.EmergencyStop
	h := newHarness(t, p, harnessOpts{dev: dev, policy: &policy, extra: []Option{
		WithInitialFlight(state.FlightState{Flying: true, Battery: 80, Height: 80}),
	}})

	s := h.start(t, "move forward 50")
	<-entered
	require.NoError(t, h.engine.Emergency(s.ID))
	waitDone(t, s)

	assert.Equal(t, []string{tools.MoveForward, tools.EmergencyStop}, toolNames(dev.Calls()))
	assert.Len(t, p.Requests(), 1)
	assert.Equal(t, ReasonEmergency, s.Info().Reason)
	assert.Equal(t, StatusDone, s.Status())
}

// blockingVision 第一次分析时通知调用方，然后阻塞直到 ctx 结束
type blockingVision struct {
	entered chan struct{}
	once    sync.Once
}

func (v *blockingVision) Analyze(ctx context.Context, _ device.Frame, _, _ string) (modelvision.Analysis, error) {
	v.once.Do(func() { close(v.entered) })
	<-ctx.Done()
	return modelvision.Analysis{}, ctx.Err()
}

func (v *blockingVision) Name() string { return "blocking" }

func TestEngine_EmergencyDuringObserving(t *testing.T) {
	vc := &blockingVision{entered: make(chan struct{})}
	p := always(move(tools.MoveForward, 50))
	h := newHarness(t, p, harnessOpts{flying: true, vclient: vc})

	s := h.start(t, "move forward 50")
	<-vc.entered
	require.Equal(t, StateObserving, s.State())
	require.NoError(t, h.engine.Emergency(s.ID))
	waitDone(t, s)

	require.NoError(t, s.Err())
	assert.Equal(t, []string{tools.MoveForward, tools.Land}, h.calls())
	assert.Len(t, p.Requests(), 1)
	info := s.Info()
	assert.Equal(t, StatusDone, info.Status)
	assert.Equal(t, ReasonEmergency, info.Reason)
	assert.False(t, info.Flight.Flying)
	assert.Equal(t, 1, countState(s.Events(0), StateEmergency))
}

func TestEngine_EmergencyDuringValidating(t *testing.T) {
	p := always(move(tools.MoveForward, 50))
	var (
		h    *harness
		once sync.Once
	)
	onValidating := events.SinkFunc(func(ev events.Event) {
		if ev.State == string(StateValidating) {
			once.Do(func() { assert.NoError(t, h.engine.Emergency(ev.SessionID)) })
		}
	})
	broker := events.NewBroker()
	h = newHarness(t, p, harnessOpts{flying: true, extra: []Option{
		WithSink(events.Multi{broker, onValidating}),
	}})

	s := h.start(t, "move forward 50")
	waitDone(t, s)

	require.NoError(t, s.Err())
	assert.Equal(t, []string{tools.Land}, h.calls())
	assert.Len(t, p.Requests(), 1)
	assert.Equal(t, ReasonEmergency, s.Info().Reason)

	evs := s.Events(0)
	assert.Equal(t, 0, countState(evs, StateExecuting))
	assert.Equal(t, 1, countState(evs, StateEmergency))
	assert.Equal(t, []string{"IDLE", "PLANNING", "VALIDATING", "EMERGENCY", "DONE"}, statesOf(evs))
}

// 致命路径的尽力降落期间收到紧急信号：不再追加强制动作，保留原始错误
func TestEngine_EmergencyDuringAbortLanding(t *testing.T) {
	ids := make(chan string, 1)
	var h *harness
	dev := &fakeDevice{handler: func(ctx context.Context, call tools.Call) (device.Telemetry, error) {
		switch call.Tool {
		case tools.MoveForward:
			return device.Telemetry{}, device.Fault(call.Tool, errors.New("motor stall"))
		case tools.Land:
			assert.NoError(t, h.engine.Emergency(<-ids))
			return device.Telemetry{Battery: 80}, nil
		}
		return device.Telemetry{Flying: true, Battery: 80, Height: 80}, nil
	}}
	p := always(move(tools.MoveForward, 50))
	h = newHarness(t, p, harnessOpts{dev: dev, extra: []Option{
		WithInitialFlight(state.FlightState{Flying: true, Battery: 80, Height: 80}),
	}})

	s := h.start(t, "move forward 50")
	ids <- s.ID
	waitDone(t, s)

	assert.Equal(t, []string{tools.MoveForward, tools.Land}, toolNames(dev.Calls()))
	info := s.Info()
	assert.Equal(t, StatusAborted, info.Status)
	assert.Equal(t, ReasonDeviceFault, info.Reason)
	assert.ErrorIs(t, s.Err(), device.ErrFault)
	assert.False(t, info.Flight.Flying)
	assert.Equal(t, 0, countState(s.Events(0), StateEmergency))
}

func TestEngine_RunCancelledTriggersEmergency(t *testing.T) {
	p := &funcPlanner{fn: func(ctx context.Context, _ int, _ planner.Request) (planner.Proposal, error) {
		<-ctx.Done()
		return planner.Proposal{}, ctx.Err()
	}}
	h := newHarness(t, p, harnessOpts{flying: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s, err := h.engine.Run(ctx, command.Goal{Text: "wait forever"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, s)
	assert.True(t, s.Terminal())
	assert.Equal(t, ReasonEmergency, s.Info().Reason)
	assert.Equal(t, []string{tools.Land}, h.calls())
}

func TestEngine_BatteryCriticalForcesLanding(t *testing.T) {
	p := always(move(tools.MoveForward, 50))
	h := newHarness(t, p, harnessOpts{flying: true, battery: 15})

	s, err := h.run(t, "move forward 50")
	assert.ErrorIs(t, err, ErrBatteryCritical)

	assert.Empty(t, p.Requests())
	assert.Equal(t, []string{tools.Land}, h.calls())
	info := s.Info()
	assert.Equal(t, StatusAborted, info.Status)
	assert.Equal(t, ReasonBatteryCritical, info.Reason)
	assert.False(t, info.Flight.Flying)

	evs := s.Events(0)
	require.Equal(t, 1, countState(evs, StateExecuting))
	for _, e := range evs {
		if e.State == string(StateExecuting) {
			assert.Equal(t, ReasonBatteryCritical, e.Reason)
		}
	}
}

func TestEngine_BatteryDropsMidSession(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{
		sim: device.SimulatorConfig{Battery: 45, BatteryDrain: 30},
	})

	s, err := h.run(t, "take off, move forward 50, land")
	assert.ErrorIs(t, err, ErrBatteryCritical)
	assert.Equal(t, []string{tools.Takeoff, tools.Land}, h.calls())
	assert.Equal(t, ReasonBatteryCritical, s.Info().Reason)
	assert.Equal(t, 15, s.Info().Flight.Battery)
}

func TestEngine_BatteryCriticalGrounded(t *testing.T) {
	p := always(tools.Call{Tool: tools.Takeoff})
	h := newHarness(t, p, harnessOpts{extra: []Option{
		WithInitialFlight(state.FlightState{Battery: 10}),
	}})

	s, err := h.run(t, "take off")
	assert.ErrorIs(t, err, ErrBatteryCritical)
	assert.Empty(t, h.sim.Calls())
	assert.Empty(t, p.Requests())
	assert.Equal(t, StatusAborted, s.Status())
}

func TestEngine_DeviceTimeoutRetried(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})
	h.sim.Inject(tools.MoveForward, device.Timeout(tools.MoveForward, nil), device.Timeout(tools.MoveForward, nil))

	s, err := h.run(t, "take off, move forward 50, land")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.Takeoff, tools.MoveForward, tools.MoveForward, tools.MoveForward, tools.Land}, h.calls())
	assert.Equal(t, 1, s.Info().Flight.MovementCount)
}

func TestEngine_DeviceTimeoutExhausted(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})
	timeout := device.Timeout(tools.MoveForward, nil)
	h.sim.Inject(tools.MoveForward, timeout, timeout, timeout)

	s, err := h.run(t, "take off, move forward 50, land")
	assert.ErrorIs(t, err, device.ErrTimeout)
	info := s.Info()
	assert.Equal(t, StatusAborted, info.Status)
	assert.Equal(t, ReasonDeviceTimeout, info.Reason)
	// 重试耗尽后尽力降落
	assert.Equal(t, []string{tools.Takeoff, tools.MoveForward, tools.MoveForward, tools.MoveForward, tools.Land}, h.calls())
	assert.False(t, info.Flight.Flying)
}

func TestEngine_DeviceFaultAbortsImmediately(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})
	h.sim.Inject(tools.MoveForward, device.Fault(tools.MoveForward, errors.New("motor stall")))

	s, err := h.run(t, "take off, move forward 50, land")
	assert.ErrorIs(t, err, device.ErrFault)
	assert.Contains(t, err.Error(), "motor stall")
	assert.Equal(t, ReasonDeviceFault, s.Info().Reason)
	assert.Equal(t, []string{tools.Takeoff, tools.MoveForward, tools.Land}, h.calls())
}

func TestEngine_DeviceRateLimited(t *testing.T) {
	status := planner.Call(tools.Call{Tool: tools.GetDroneStatus})
	p := script(status, status, status, status, status, status)
	cfg := DefaultConfig()
	cfg.DeviceRate = 4
	h := newHarness(t, p, harnessOpts{cfg: &cfg})

	start := time.Now()
	_, err := h.run(t, "check status six times")
	require.NoError(t, err)
	// 前 4 次占满突发额度，其余两次各等待约 250ms
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, h.calls(), 6)
}

func TestEngine_PlannerFailureRetriedOnce(t *testing.T) {
	p := &funcPlanner{fn: func(_ context.Context, n int, _ planner.Request) (planner.Proposal, error) {
		if n == 0 {
			return planner.Proposal{}, errors.New("boom")
		}
		return planner.Done("ok"), nil
	}}
	h := newHarness(t, p, harnessOpts{})

	s, err := h.run(t, "anything")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, s.Status())
	assert.Len(t, p.Requests(), 2)
}

func TestEngine_PlannerFailsTwice(t *testing.T) {
	p := &funcPlanner{fn: func(context.Context, int, planner.Request) (planner.Proposal, error) {
		return planner.Proposal{}, errors.New("boom")
	}}
	h := newHarness(t, p, harnessOpts{})

	s, err := h.run(t, "anything")
	assert.ErrorIs(t, err, planner.ErrPlanner)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, ReasonPlannerFailure, s.Info().Reason)
	assert.Contains(t, s.Info().Error, "boom")
	assert.Len(t, p.Requests(), 2)
}

func TestEngine_VisionFailureAborts(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{vclient: failingVision{}})

	s, err := h.run(t, "take off, land")
	assert.ErrorIs(t, err, vision.ErrVision)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, ReasonVisionFailure, s.Info().Reason)
	assert.Equal(t, []string{tools.Takeoff, tools.Land}, h.calls())
}

func TestEngine_StepBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 3
	p := always(tools.Call{Tool: tools.GetDroneStatus})
	h := newHarness(t, p, harnessOpts{cfg: &cfg})

	s, err := h.run(t, "keep checking")
	assert.ErrorIs(t, err, ErrStepBudget)
	assert.Equal(t, ReasonStepBudget, s.Info().Reason)
	assert.Len(t, h.calls(), 3)
	assert.Equal(t, 3, countState(s.Events(0), StatePlanning))
}

func TestEngine_SingleActiveSession(t *testing.T) {
	entered := make(chan struct{})
	p := &funcPlanner{fn: func(ctx context.Context, n int, _ planner.Request) (planner.Proposal, error) {
		if n == 0 {
			close(entered)
		}
		<-ctx.Done()
		return planner.Proposal{}, ctx.Err()
	}}
	h := newHarness(t, p, harnessOpts{})

	s := h.start(t, "first")
	<-entered
	_, err := h.engine.Start(context.Background(), command.Goal{Text: "second"})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.ErrorIs(t, h.engine.Cleanup(s.ID), ErrSessionNotTerminal)
	assert.ErrorIs(t, h.engine.Reset(context.Background()), ErrSessionActive)

	active, ok := h.engine.Active()
	require.True(t, ok)
	assert.Equal(t, s.ID, active.ID)

	require.NoError(t, h.engine.Emergency(s.ID))
	waitDone(t, s)
	_, ok = h.engine.Active()
	assert.False(t, ok)
}

func TestEngine_FlightCarriesOverBetweenSessions(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})

	first, err := h.run(t, "take off")
	require.NoError(t, err)
	assert.True(t, first.Info().Flight.Flying)

	second, err := h.run(t, "land")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.Takeoff, tools.Land}, h.calls())
	assert.False(t, second.Info().Flight.Flying)
	assert.Equal(t, 1, countState(second.Events(0), StateValidating))
	assert.Empty(t, second.Snapshot().Images)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, h.engine.List(), 2)
}

func TestEngine_SaveAndCleanup(t *testing.T) {
	store := archive.NewMemoryStore()
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{extra: []Option{WithArchive(store)}})

	s, err := h.run(t, "take off, land")
	require.NoError(t, err)

	require.NoError(t, h.engine.Save(context.Background(), s.ID))
	rec, err := store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "DONE", rec.Status)
	assert.Equal(t, "take off, land", rec.Goal)
	assert.Len(t, rec.Events, len(s.Events(0)))
	require.NotEmpty(t, rec.Turns)
	assert.Equal(t, state.RoleUser, rec.Turns[0].Role)
	assert.False(t, rec.EndedAt.IsZero())

	require.NoError(t, h.engine.Cleanup(s.ID))
	_, err = h.engine.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	assert.Empty(t, h.broker.History(s.ID, 0))
	assert.ErrorIs(t, h.engine.Save(context.Background(), s.ID), ErrSessionNotFound)
}

func TestEngine_SaveWithoutArchive(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{})
	s, err := h.run(t, "status")
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.Save(context.Background(), s.ID), ErrNoArchive)
}

func TestEngine_Reset(t *testing.T) {
	h := newHarness(t, planner.NewRulePlanner(), harnessOpts{
		sim: device.SimulatorConfig{Battery: 100, BatteryDrain: 5},
	})
	_, err := h.run(t, "take off, land")
	require.NoError(t, err)
	assert.Equal(t, 95, h.engine.Flight().Battery)

	h.sim.SetBattery(70)
	require.NoError(t, h.engine.Reset(context.Background()))
	assert.Empty(t, h.engine.List())
	assert.Equal(t, 70, h.engine.Flight().Battery)
	assert.Equal(t, 0, h.engine.Flight().MovementCount)

	s, err := h.run(t, "check status")
	require.NoError(t, err)
	turns := s.Snapshot().Turns
	require.GreaterOrEqual(t, len(turns), 2)
	assert.Equal(t, state.RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Text, "Session reset")
	assert.Equal(t, state.RoleUser, turns[1].Role)
}

func TestEngine_ResetWithoutStatusAssumesFullBattery(t *testing.T) {
	dev := &fakeDevice{handler: func(context.Context, tools.Call) (device.Telemetry, error) {
		return device.Telemetry{}, device.Fault(tools.GetDroneStatus, errors.New("link down"))
	}}
	h := newHarness(t, script(), harnessOpts{dev: dev, extra: []Option{
		WithInitialFlight(state.FlightState{Battery: 40}),
	}})
	require.NoError(t, h.engine.Reset(context.Background()))
	assert.Equal(t, 100, h.engine.Flight().Battery)
}

func TestEngine_StartRejectsEmptyGoal(t *testing.T) {
	h := newHarness(t, script(), harnessOpts{})
	_, err := h.engine.Start(context.Background(), command.Goal{})
	var ie *command.InputError
	assert.ErrorAs(t, err, &ie)
	assert.Empty(t, h.engine.List())
}
