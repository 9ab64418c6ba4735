package vision

import (
	"context"
	"fmt"

	"github.com/vs4vijay/microsoft-garage/internal/device"
)

// SimulatedClient 不调用模型，按关注点返回固定描述（vision-only 模式）
type SimulatedClient struct {
	analyses map[string]Analysis
}

// NewSimulatedClient 创建模拟客户端
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{analyses: map[string]Analysis{
		"obstacles": {
			Description: "A chair 200 cm ahead. Clear path for the next meter.",
			Objects:     []string{"chair"},
			Obstacles:   []Obstacle{{Label: "chair", Direction: "forward", DistanceCM: 200}},
		},
		"objects": {
			Description: "I can see a desk with computer monitor and laptop. Some cables and office equipment visible. No people in view.",
			Objects:     []string{"desk", "monitor", "laptop", "cables"},
		},
		"navigation": {
			Description: "Room appears spacious with good lighting. Safe to move forward up to 1.5 meters before encountering furniture.",
			Objects:     []string{"furniture"},
		},
		"landing_spot": {
			Description: "Current area has flat surface suitable for landing. No obstacles directly below.",
		},
	}}
}

// Set 覆盖某个关注点的返回值
func (c *SimulatedClient) Set(focus string, a Analysis) {
	c.analyses[focus] = a
}

// Analyze 实现 Client
func (c *SimulatedClient) Analyze(ctx context.Context, _ device.Frame, focus, hint string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if focus == "specific_object" {
		if a, ok := c.analyses[focus]; ok {
			return a, nil
		}
		return Analysis{Description: fmt.Sprintf("Looking for %s: object not clearly visible in the current view.", hint)}, nil
	}
	if a, ok := c.analyses[focus]; ok {
		return a, nil
	}
	return Analysis{Description: "Image captured and analyzed - environment looks good."}, nil
}

// Name 实现 Client
func (c *SimulatedClient) Name() string { return "simulated" }
