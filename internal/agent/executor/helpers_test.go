package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

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
)

// funcPlanner 以函数驱动的 Planner，记录每次请求
type funcPlanner struct {
	mu   sync.Mutex
	fn   func(ctx context.Context, n int, req planner.Request) (planner.Proposal, error)
	reqs []planner.Request
}

func (p *funcPlanner) Next(ctx context.Context, req planner.Request) (planner.Proposal, error) {
	p.mu.Lock()
	n := len(p.reqs)
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return p.fn(ctx, n, req)
}

func (p *funcPlanner) Requests() []planner.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]planner.Request(nil), p.reqs...)
}

// script 依次返回给定提议，用尽后返回 Done
func script(props ...planner.Proposal) *funcPlanner {
	return &funcPlanner{fn: func(_ context.Context, n int, _ planner.Request) (planner.Proposal, error) {
		if n < len(props) {
			return props[n], nil
		}
		return planner.Done("finished"), nil
	}}
}

// always 每次都提议同一个调用
func always(call tools.Call) *funcPlanner {
	return &funcPlanner{fn: func(context.Context, int, planner.Request) (planner.Proposal, error) {
		return planner.Call(call), nil
	}}
}

// fakeDevice 以 handler 驱动的设备，记录收到的调用
type fakeDevice struct {
	mu      sync.Mutex
	calls   []tools.Call
	handler func(ctx context.Context, call tools.Call) (device.Telemetry, error)
}

func (d *fakeDevice) Execute(ctx context.Context, call tools.Call) (device.Telemetry, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	return d.handler(ctx, call)
}

func (d *fakeDevice) Calls() []tools.Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]tools.Call(nil), d.calls...)
}

// failingVision 总是失败的视觉模型
type failingVision struct{}

func (failingVision) Analyze(context.Context, device.Frame, string, string) (modelvision.Analysis, error) {
	return modelvision.Analysis{}, errors.New("model unavailable")
}

func (failingVision) Name() string { return "failing" }

type harness struct {
	engine *Engine
	sim    *device.Simulator
	broker *events.Broker
	seeded int
}

type harnessOpts struct {
	policy  *safety.Policy
	cfg     *Config
	dev     device.Device
	vclient modelvision.Client
	sim     device.SimulatorConfig
	// flying 先让模拟器起飞，并以其遥测作为初始飞行状态
	flying  bool
	battery int
	extra   []Option
}

func newHarness(t *testing.T, p planner.Planner, o harnessOpts) *harness {
	t.Helper()
	reg := tools.NewBuiltinRegistry()
	policy := safety.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	if o.cfg != nil {
		cfg = *o.cfg
	}
	sim := device.NewSimulator(o.sim)
	if o.battery > 0 {
		sim.SetBattery(o.battery)
	}
	var seed []Option
	if o.flying {
		tel, err := sim.Execute(context.Background(), tools.Call{Tool: tools.Takeoff})
		require.NoError(t, err)
		seed = append(seed, WithInitialFlight(state.FlightState{Flying: tel.Flying, Battery: tel.Battery, Height: tel.Height}))
	}
	var dev device.Device = sim
	if o.dev != nil {
		dev = o.dev
	}
	var vc modelvision.Client = modelvision.NewSimulatedClient()
	if o.vclient != nil {
		vc = o.vclient
	}
	broker := events.NewBroker()
	opts := []Option{
		WithConfig(cfg),
		WithSink(broker),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	opts = append(opts, seed...)
	opts = append(opts, o.extra...)
	e := New(reg, safety.NewValidator(reg, policy), p, dev, vision.NewAdapter(sim, vc), opts...)
	return &harness{engine: e, sim: sim, broker: broker, seeded: len(seed)}
}

// calls 模拟器在 Session 中收到的调用（不含预置的起飞）
func (h *harness) calls() []string {
	return toolNames(h.sim.Calls()[h.seeded:])
}

func (h *harness) start(t *testing.T, goal string) *Session {
	t.Helper()
	s, err := h.engine.Start(context.Background(), command.Goal{Text: goal, Source: command.SourceText})
	require.NoError(t, err)
	return s
}

func (h *harness) run(t *testing.T, goal string) (*Session, error) {
	t.Helper()
	s := h.start(t, goal)
	waitDone(t, s)
	return s, s.Err()
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish, state %s", s.ID, s.State())
	}
}

func toolNames(calls []tools.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Tool)
	}
	return out
}

func statesOf(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.State)
	}
	return out
}

func countState(evs []events.Event, st State) int {
	n := 0
	for _, e := range evs {
		if e.State == string(st) {
			n++
		}
	}
	return n
}

func move(tool string, dist int) tools.Call {
	return tools.Call{Tool: tool, Params: map[string]any{tools.ParamDistance: dist}}
}
