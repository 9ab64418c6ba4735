package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/executor"
	"github.com/vs4vijay/microsoft-garage/internal/agent/planner"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	modelvision "github.com/vs4vijay/microsoft-garage/internal/model/vision"
	"github.com/vs4vijay/microsoft-garage/pkg/config"
	"github.com/vs4vijay/microsoft-garage/pkg/log"
	"github.com/vs4vijay/microsoft-garage/pkg/secrets"
)

func testBootstrap(t *testing.T, cfg *config.Config) *Bootstrap {
	t.Helper()
	return &Bootstrap{
		Config:  cfg,
		Logger:  &log.Logger{Logger: log.Discard()},
		Secrets: secrets.NewMemoryStore(),
	}
}

func TestNewRuntime_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Latency = ""
	b := testBootstrap(t, cfg)

	rt, err := NewRuntime(context.Background(), b)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Engine)
	assert.NotNil(t, rt.Engine.Archive())
	assert.Equal(t, 100, rt.Engine.Flight().Battery)
	assert.Len(t, rt.Engine.Registry().List(), len(tools.Builtin()))

	goal, err := rt.Interpreter.Interpret(command.Input{Text: "take off and land"})
	require.NoError(t, err)
	s, err := rt.Engine.Start(context.Background(), goal)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.Equal(t, executor.StatusDone, s.Status())
	assert.NotEmpty(t, rt.Broker.History(s.ID, 0))

	names := make([]string, 0)
	for _, c := range rt.Simulator.Calls() {
		names = append(names, c.Tool)
	}
	assert.Equal(t, []string{tools.Takeoff, tools.Land}, names)
}

func TestNewRuntime_UnsupportedTypes(t *testing.T) {
	cases := map[string]func(*config.Config){
		"device":  func(c *config.Config) { c.Device.Type = "tello" },
		"planner": func(c *config.Config) { c.Planner.Type = "oracle" },
		"vision":  func(c *config.Config) { c.Vision.Type = "lidar" },
		"archive": func(c *config.Config) { c.Archive.Type = "s3" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			_, err := NewRuntime(context.Background(), testBootstrap(t, cfg))
			assert.Error(t, err)
		})
	}
}

func TestNewPlannerFromConfig(t *testing.T) {
	ctx := context.Background()
	registry := tools.NewBuiltinRegistry()

	cfg := config.Default()
	p, err := NewPlannerFromConfig(ctx, testBootstrap(t, cfg), registry)
	require.NoError(t, err)
	assert.IsType(t, &planner.RulePlanner{}, p)

	cfg.Planner.Type = "llm"
	_, err = NewPlannerFromConfig(ctx, testBootstrap(t, cfg), registry)
	assert.Error(t, err, "missing api key")

	cfg.Planner.Provider = "anthropic"
	cfg.Planner.APIKey = "sk-test"
	_, err = NewPlannerFromConfig(ctx, testBootstrap(t, cfg), registry)
	assert.Error(t, err)

	cfg.Planner.Provider = "openai"
	p, err = NewPlannerFromConfig(ctx, testBootstrap(t, cfg), registry)
	require.NoError(t, err)
	assert.IsType(t, &planner.RateLimited{}, p)
}

func TestNewVisionClientFromConfig_SecretRef(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	b := testBootstrap(t, cfg)

	c, err := NewVisionClientFromConfig(ctx, b)
	require.NoError(t, err)
	assert.IsType(t, &modelvision.SimulatedClient{}, c)

	cfg.Vision.Type = "llm"
	cfg.Vision.APIKey = "secret://VISION_KEY"
	_, err = NewVisionClientFromConfig(ctx, b)
	assert.Error(t, err)

	require.NoError(t, b.Secrets.Set(ctx, "VISION_KEY", "sk-test"))
	c, err = NewVisionClientFromConfig(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, cfg.Vision.Model, c.Name())
}

func TestPolicyFromConfig(t *testing.T) {
	off := false
	p := PolicyFromConfig(config.SafetyConfig{
		MaxStepDistance:          50,
		MinBattery:               30,
		MaxConsecutiveRejections: 5,
		MaxExecutionRetries:      1,
		LateralRequiresVision:    &off,
		EmergencyAction:          tools.EmergencyStop,
		AllowedTools:             []string{tools.Takeoff, tools.Land},
	})
	assert.Equal(t, 50, p.MaxStepDistance)
	assert.Equal(t, 30, p.MinBattery)
	assert.Equal(t, 5, p.MaxConsecutiveRejections)
	assert.Equal(t, 1, p.MaxExecutionRetries)
	assert.False(t, p.LateralRequiresVision)
	assert.True(t, p.ObstacleCheck)
	assert.Equal(t, tools.EmergencyStop, p.EmergencyAction)
	assert.Equal(t, []string{tools.Takeoff, tools.Land}, p.AllowedTools)
	assert.Empty(t, PolicyFromConfig(config.SafetyConfig{}).AllowedTools)
}

func TestEngineConfig(t *testing.T) {
	off := false
	c := EngineConfig(config.AgentConfig{
		MaxSteps:      10,
		DeviceTimeout: "2s",
		PlanTimeout:   "bogus",
		ObserveMotion: &off,
	}, config.DeviceRateLimit{CommandsPerSecond: 5})
	assert.Equal(t, 10, c.MaxSteps)
	assert.Equal(t, 2*time.Second, c.DeviceTimeout)
	assert.Equal(t, executor.DefaultConfig().PlanTimeout, c.PlanTimeout)
	assert.False(t, c.ObserveAfterMotion)
	assert.Equal(t, 5.0, c.DeviceRate)

	assert.Equal(t, executor.DefaultConfig().DeviceRate, EngineConfig(config.AgentConfig{}, config.DeviceRateLimit{}).DeviceRate)
	assert.Zero(t, EngineConfig(config.AgentConfig{}, config.DeviceRateLimit{CommandsPerSecond: -1}).DeviceRate)
}
