package planner

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
)

const defaultDistance = 50

var (
	segmentSep = regexp.MustCompile(`(?i)\s*(?:,|;|\.\s|\bthen\b|\band\b|\bafter that\b)\s*`)
	reMove     = regexp.MustCompile(`(?i)\b(forward|ahead|backward|back|left|right|up|down)\b(?:\D*?(\d+))?`)
	reRotate   = regexp.MustCompile(`(?i)\b(?:rotate|turn|spin)\b\s*(counter[- ]?clockwise|anti[- ]?clockwise|ccw|clockwise|cw|left|right)?\D*?(\d+)?`)
	reSpeed    = regexp.MustCompile(`(?i)\bspeed\b\D*?(\d+)`)
	reFind     = regexp.MustCompile(`(?i)\b(?:find|look for|search for|locate)\s+(?:the\s+|a\s+|an\s+)?(.+)`)
	reNumber   = regexp.MustCompile(`\d+`)
)

// RulePlanner 规则规划器：不调用 LLM，把复合指令（"take off, move forward 50, land"）
// 解析为步骤序列，并根据上一步的结果推进或插入补救步骤
type RulePlanner struct {
	mu    sync.Mutex
	plans map[string][]tools.Call
}

// NewRulePlanner 创建规则规划器
func NewRulePlanner() *RulePlanner {
	return &RulePlanner{plans: make(map[string][]tools.Call)}
}

// Next 实现 Planner
func (p *RulePlanner) Next(ctx context.Context, req Request) (Proposal, error) {
	if err := ctx.Err(); err != nil {
		return Proposal{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	queue, ok := p.plans[req.SessionID]
	if !ok {
		queue = ParseGoal(req.Goal)
		if len(queue) == 0 {
			p.plans[req.SessionID] = nil
			return Done("no actionable step in goal"), nil
		}
	}
	queue = advance(queue, req.Previous)
	p.plans[req.SessionID] = queue

	if len(queue) == 0 {
		return Done("all steps completed"), nil
	}
	next := queue[0]
	next.SessionID = req.SessionID
	return Call(next), nil
}

// Forget 实现 Forgetter
func (p *RulePlanner) Forget(sessionID string) {
	p.mu.Lock()
	delete(p.plans, sessionID)
	p.mu.Unlock()
}

// advance 根据上一步结果更新队列：执行成功则出队；被拒绝时按原因插入补救步骤或跳过
func advance(queue []tools.Call, prev *Outcome) []tools.Call {
	if prev == nil || len(queue) == 0 || queue[0].Tool != prev.Call.Tool {
		return queue
	}
	if prev.Status == OutcomeExecuted {
		return queue[1:]
	}
	switch prev.Reason {
	case "not-flying":
		if prev.Call.Tool != tools.Land && prev.Call.Tool != tools.Takeoff {
			return append([]tools.Call{{Tool: tools.Takeoff}}, queue...)
		}
	case "lateral-needs-vision":
		capture := tools.Call{Tool: tools.CaptureImage, Params: map[string]any{tools.ParamFocus: tools.FocusObstacles}}
		return append([]tools.Call{capture}, queue...)
	}
	return queue[1:]
}

// ParseGoal 把自然语言目标拆成工具调用序列；无法识别的片段被忽略
func ParseGoal(goal string) []tools.Call {
	var out []tools.Call
	for _, seg := range segmentSep.Split(strings.TrimSpace(goal), -1) {
		seg = strings.TrimSpace(strings.ToLower(seg))
		if seg == "" {
			continue
		}
		if c, ok := parseSegment(seg); ok {
			out = append(out, c)
		}
	}
	return out
}

func parseSegment(seg string) (tools.Call, bool) {
	switch {
	case strings.Contains(seg, "emergency"):
		return tools.Call{Tool: tools.EmergencyStop}, true
	case strings.Contains(seg, "take off") || strings.Contains(seg, "takeoff") || strings.Contains(seg, "launch"):
		return tools.Call{Tool: tools.Takeoff}, true
	case strings.Contains(seg, "status") || strings.Contains(seg, "battery"):
		return tools.Call{Tool: tools.GetDroneStatus}, true
	case reFind.MatchString(seg):
		m := reFind.FindStringSubmatch(seg)
		return tools.Call{Tool: tools.CaptureImage, Params: map[string]any{
			tools.ParamFocus:             tools.FocusSpecificObject,
			tools.ParamObjectDescription: strings.TrimSpace(m[1]),
		}}, true
	case isCapture(seg):
		return tools.Call{Tool: tools.CaptureImage, Params: map[string]any{tools.ParamFocus: captureFocus(seg)}}, true
	case strings.Contains(seg, "land"):
		return tools.Call{Tool: tools.Land}, true
	case reSpeed.MatchString(seg):
		v, _ := strconv.Atoi(reSpeed.FindStringSubmatch(seg)[1])
		return tools.Call{Tool: tools.SetSpeed, Params: map[string]any{tools.ParamSpeed: v}}, true
	case reRotate.MatchString(seg):
		return parseRotate(seg)
	case reMove.MatchString(seg):
		return parseMove(seg)
	}
	return tools.Call{}, false
}

func isCapture(seg string) bool {
	for _, kw := range []string{"look", "capture", "photo", "picture", "scan", "see", "check"} {
		if strings.Contains(seg, kw) {
			return true
		}
	}
	return false
}

func captureFocus(seg string) string {
	switch {
	case strings.Contains(seg, "landing"):
		return tools.FocusLandingSpot
	case strings.Contains(seg, "object"), strings.Contains(seg, "what"):
		return tools.FocusObjects
	case strings.Contains(seg, "navigat"), strings.Contains(seg, "path"):
		return tools.FocusNavigation
	default:
		return tools.FocusObstacles
	}
}

func parseMove(seg string) (tools.Call, bool) {
	m := reMove.FindStringSubmatch(seg)
	dist := defaultDistance
	if m[2] != "" {
		dist, _ = strconv.Atoi(m[2])
	}
	var name string
	switch m[1] {
	case "forward", "ahead":
		name = tools.MoveForward
	case "backward", "back":
		name = tools.MoveBackward
	case "left":
		name = tools.MoveLeft
	case "right":
		name = tools.MoveRight
	case "up":
		name = tools.MoveUp
	case "down":
		name = tools.MoveDown
	}
	return tools.Call{Tool: name, Params: map[string]any{tools.ParamDistance: dist}}, true
}

func parseRotate(seg string) (tools.Call, bool) {
	m := reRotate.FindStringSubmatch(seg)
	angle := 90
	if n := reNumber.FindString(seg); n != "" {
		angle, _ = strconv.Atoi(n)
	}
	name := tools.RotateClockwise
	switch strings.ReplaceAll(strings.ReplaceAll(m[1], "-", ""), " ", "") {
	case "counterclockwise", "anticlockwise", "ccw", "left":
		name = tools.RotateCounterClockwise
	}
	return tools.Call{Tool: name, Params: map[string]any{tools.ParamAngle: angle}}, true
}
