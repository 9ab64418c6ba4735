package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

func TestSimulator_FlightCycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(SimulatorConfig{BatteryDrain: 2})

	tel, err := sim.Execute(ctx, tools.Call{Tool: tools.Takeoff})
	require.NoError(t, err)
	assert.True(t, tel.Flying)
	assert.Equal(t, 80, tel.Height)
	assert.Equal(t, 98, tel.Battery)

	tel, err = sim.Execute(ctx, tools.Call{Tool: tools.MoveUp, Params: map[string]any{"distance": 30}})
	require.NoError(t, err)
	assert.Equal(t, 110, tel.Height)

	tel, err = sim.Execute(ctx, tools.Call{Tool: tools.GetDroneStatus})
	require.NoError(t, err)
	assert.Equal(t, 96, tel.Battery)

	tel, err = sim.Execute(ctx, tools.Call{Tool: tools.Land})
	require.NoError(t, err)
	assert.False(t, tel.Flying)
	assert.Equal(t, 0, tel.Height)
	assert.Len(t, sim.Calls(), 4)
}

func TestSimulator_FaultInjection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(SimulatorConfig{})
	sim.Inject(tools.Takeoff, Timeout(tools.Takeoff, nil), errors.New("motor stalled"))

	_, err := sim.Execute(ctx, tools.Call{Tool: tools.Takeoff})
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = sim.Execute(ctx, tools.Call{Tool: tools.Takeoff})
	assert.ErrorIs(t, err, ErrFault)
	assert.Contains(t, err.Error(), "motor stalled")

	_, err = sim.Execute(ctx, tools.Call{Tool: tools.Takeoff})
	assert.NoError(t, err)
}

func TestSimulator_LatencyHonoursContext(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sim.Execute(ctx, tools.Call{Tool: tools.Takeoff})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulator_CaptureFrame(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	f, err := sim.CaptureFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.MIMEType)
	assert.NotEmpty(t, f.Data)
}

func TestSimulator_MotionWhileGroundedFaults(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	_, err := sim.Execute(context.Background(), tools.Call{Tool: tools.MoveForward, Params: map[string]any{"distance": 50}})
	assert.ErrorIs(t, err, ErrFault)
}
