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

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/planner"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/internal/agent/tools"
	"github.com/vs4vijay/microsoft-garage/internal/agent/vision"
	"github.com/vs4vijay/microsoft-garage/internal/device"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
	"github.com/vs4vijay/microsoft-garage/pkg/tracing"
)

// ending 循环的终止结果
type ending struct {
	status Status
	reason string
	err    error
	// landed 已下发过收尾的强制动作，之后不再追加紧急动作
	landed bool
}

// stepResult 单步的结果；end 非空表示 Session 结束
type stepResult struct {
	outcome   *planner.Outcome
	analysis  string
	planErr   error
	preempted bool
	end       *ending
}

func (r stepResult) err() error {
	if r.end != nil {
		return r.end.err
	}
	return r.planErr
}

// run Session 的循环 goroutine，是该 Session 唯一的设备调用方
func (e *Engine) run(s *Session) {
	ctx, span := tracing.StartSessionSpan(s.ctx, s.ID, s.Goal)
	end := e.loop(ctx, s)
	if !end.landed && end.reason != ReasonEmergency && s.emergencyRequested() {
		end = e.emergencyStop(s)
	}
	tracing.EndSpan(span, end.err)
	if end.err != nil {
		s.fail(end.err)
	}

	flight := s.store.Flight()
	e.mu.Lock()
	e.flight = flight.Clone()
	if e.active == s {
		e.active = nil
	}
	e.mu.Unlock()

	data := map[string]any{"flight": flight, "steps": s.Info().Steps}
	if end.err != nil {
		data["error"] = end.err.Error()
	}
	to := StateDone
	if end.status == StatusAborted {
		to = StateAborted
	}
	s.transition(to, end.reason, data)
	s.cancel()

	metrics.ActiveSessions.Dec()
	metrics.SessionTotal.WithLabelValues(strings.ToLower(string(end.status))).Inc()
	if end.err != nil {
		e.logger.Warn("session ended", "session_id", s.ID, "status", end.status, "reason", end.reason, "error", end.err)
	} else {
		e.logger.Info("session ended", "session_id", s.ID, "status", end.status, "reason", end.reason)
	}
	close(s.done)
}

func (e *Engine) loop(ctx context.Context, s *Session) ending {
	policy := e.validator.Policy()
	var (
		prev       *planner.Outcome
		analysis   string
		planFailed bool
	)
	for {
		if s.emergencyRequested() {
			return e.emergencyStop(s)
		}
		if flight := s.store.Flight(); flight.Battery < policy.MinBattery {
			return e.forceLanding(ctx, s, flight)
		}

		step := s.nextStep()
		if step > e.cfg.MaxSteps {
			return e.abort(s, ReasonStepBudget, fmt.Errorf("%w: limit %d", ErrStepBudget, e.cfg.MaxSteps))
		}
		data := map[string]any{"step": step}
		reason := ""
		if prev != nil && prev.Status == planner.OutcomeRejected {
			reason = prev.Reason
			data["rejected"] = prev.Call.Summary()
		}
		if analysis != "" {
			data["analysis"] = analysis
		}
		s.transition(StatePlanning, reason, data)

		r := e.step(ctx, s, step, prev)
		if r.end != nil {
			return *r.end
		}
		if r.preempted {
			continue
		}
		if r.planErr != nil {
			if s.emergencyRequested() {
				continue
			}
			if planFailed {
				return e.abort(s, ReasonPlannerFailure, r.planErr)
			}
			planFailed = true
			e.logger.Warn("planner failed, retrying", "session_id", s.ID, "step", step, "error", r.planErr)
			continue
		}
		planFailed = false
		prev, analysis = r.outcome, r.analysis
	}
}

// step PLANNING -> VALIDATING -> EXECUTING -> OBSERVING
func (e *Engine) step(ctx context.Context, s *Session, n int, prev *planner.Outcome) (r stepResult) {
	ctx, span := tracing.StartStepSpan(ctx, s.ID, n)
	defer func() { tracing.EndSpan(span, r.err()) }()

	prop, err := e.plan(ctx, s, n, prev)
	if err != nil {
		r.planErr = err
		return r
	}
	if prop.Satisfied {
		msg := prop.Message
		if msg == "" {
			msg = "Goal satisfied."
		}
		s.store.AppendTurn(state.Turn{Role: state.RoleAgent, Text: msg, Time: time.Now()})
		r.end = &ending{status: StatusDone, reason: ReasonGoalSatisfied}
		return r
	}

	call := *prop.Call
	call.SessionID = s.ID
	text := "Next: " + call.Summary()
	if prop.Message != "" {
		text = prop.Message + " " + text
	}
	s.store.AppendTurn(state.Turn{Role: state.RoleAgent, Text: text, Time: time.Now()})
	if s.emergencyRequested() {
		r.preempted = true
		return r
	}

	s.transition(StateValidating, "", map[string]any{"call": call.Summary()})
	snap := s.store.Read()
	d := e.validator.Validate(call, snap.Flight, snap.Images, snap.LastMovementSeq)
	if !d.Approved {
		metrics.RejectionTotal.WithLabelValues(d.Reason).Inc()
		count := s.reject()
		verr := d.Err(call)
		s.store.AppendTurn(state.Turn{Role: state.RoleSystem, Text: verr.Error(), Time: time.Now()})
		e.logger.Info("call rejected", "session_id", s.ID, "call", call.Summary(), "reason", d.Reason, "consecutive", count)
		r.outcome = &planner.Outcome{Call: call, Status: planner.OutcomeRejected, Reason: d.Reason, Detail: d.Detail}
		if count >= e.validator.Policy().MaxConsecutiveRejections {
			end := e.abort(s, ReasonRejectionBudget, fmt.Errorf("%w: %w", ErrRejectionBudget, verr))
			r.end = &end
		}
		return r
	}
	s.approve()
	if s.emergencyRequested() {
		r.preempted = true
		return r
	}

	def, _ := e.registry.Lookup(call.Tool)
	analysis, err := e.execute(ctx, s, def, call, "")
	if err != nil {
		if s.emergencyRequested() {
			r.preempted = true
			return r
		}
		end := e.abort(s, failureReason(err), err)
		r.end = &end
		return r
	}
	r.outcome = &planner.Outcome{Call: call, Status: planner.OutcomeExecuted}

	data := map[string]any{"call": call.Summary(), "flight": s.store.Flight()}
	if analysis != "" {
		data["analysis"] = analysis
	}
	observeAfter := def.ObserveAfter && e.cfg.ObserveAfterMotion && e.vision != nil
	var capture tools.Call
	if observeAfter {
		capture = tools.Call{
			Tool:      tools.CaptureImage,
			SessionID: s.ID,
			Params:    map[string]any{tools.ParamFocus: e.vision.DefaultFocus()},
		}
		data["capture"] = capture.Summary()
	}
	s.transition(StateObserving, "", data)
	if observeAfter {
		rec, err := e.observe(ctx, s, capture)
		if err != nil {
			if s.emergencyRequested() {
				r.preempted = true
				return r
			}
			end := e.abort(s, ReasonVisionFailure, err)
			r.end = &end
			return r
		}
		r.analysis = rec.Description
	}
	return r
}

func (e *Engine) plan(ctx context.Context, s *Session, n int, prev *planner.Outcome) (planner.Proposal, error) {
	snap := s.store.Read()
	req := planner.Request{
		SessionID: s.ID,
		Goal:      s.Goal,
		Step:      n,
		History:   snap.Turns,
		Images:    snap.Images,
		Flight:    snap.Flight,
		Tools:     e.registry.List(),
		Previous:  prev,
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PlanTimeout)
	defer cancel()

	start := time.Now()
	prop, err := e.planner.Next(ctx, req)
	metrics.PlannerDuration.Observe(time.Since(start).Seconds())
	if err == nil && !prop.Satisfied && prop.Call == nil {
		err = errors.New("empty proposal")
	}
	if err != nil {
		if !errors.Is(err, planner.ErrPlanner) {
			err = fmt.Errorf("%w: %w", planner.ErrPlanner, err)
		}
		return planner.Proposal{}, err
	}
	return prop, nil
}

// execute EXECUTING 状态：capture_image 交给视觉适配器，其余工具交给设备
func (e *Engine) execute(ctx context.Context, s *Session, def tools.Definition, call tools.Call, reason string) (string, error) {
	s.transition(StateExecuting, reason, map[string]any{"call": call.Summary()})
	if call.Tool == tools.CaptureImage {
		if e.vision == nil {
			return "", fmt.Errorf("%w: no vision adapter configured", vision.ErrVision)
		}
		rec, err := e.observe(ctx, s, call)
		if err != nil {
			return "", err
		}
		return rec.Description, nil
	}
	tel, err := e.dispatch(ctx, s, call)
	if err != nil {
		return "", err
	}
	e.applyTelemetry(s, def, tel)
	return "", nil
}

// dispatch 调用设备；超时按策略重试同一调用，硬故障立即返回
func (e *Engine) dispatch(ctx context.Context, s *Session, call tools.Call) (device.Telemetry, error) {
	retries := e.validator.Policy().MaxExecutionRetries
	for attempt := 0; ; attempt++ {
		tel, err := e.callDevice(ctx, call, attempt)
		if err == nil {
			return tel, nil
		}
		if s.emergencyRequested() || !errors.Is(err, device.ErrTimeout) || attempt >= retries {
			return device.Telemetry{}, err
		}
		metrics.DeviceRetryTotal.WithLabelValues(call.Tool).Inc()
		e.logger.Warn("device timeout, retrying", "session_id", s.ID, "tool", call.Tool, "attempt", attempt+1, "error", err)
		if wait := e.cfg.RetryBackoff * time.Duration(attempt+1); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return device.Telemetry{}, err
			case <-t.C:
			}
		}
	}
}

// callDevice 单次设备调用，带超时上限；未分类的错误归一为 ErrTimeout 或 ErrFault
func (e *Engine) callDevice(ctx context.Context, call tools.Call, attempt int) (device.Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DeviceTimeout)
	defer cancel()
	if e.limiter != nil {
		start := time.Now()
		err := e.limiter.Wait(ctx)
		metrics.RateLimitWaitSeconds.WithLabelValues("device").Observe(time.Since(start).Seconds())
		if err != nil {
			return device.Telemetry{}, device.Timeout(call.Tool, fmt.Errorf("device rate limit wait failed: %w", err))
		}
	}
	ctx, span := tracing.StartDeviceSpan(ctx, call.Tool, attempt)

	start := time.Now()
	tel, err := e.device.Execute(ctx, call)
	metrics.DeviceCallDuration.WithLabelValues(call.Tool).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, device.ErrTimeout) && !errors.Is(err, device.ErrFault) {
		if errors.Is(err, context.DeadlineExceeded) {
			err = device.Timeout(call.Tool, err)
		} else {
			err = device.Fault(call.Tool, err)
		}
	}
	tracing.EndSpan(span, err)
	return tel, err
}

func (e *Engine) applyTelemetry(s *Session, def tools.Definition, tel device.Telemetry) {
	s.store.Apply(state.Result{
		Telemetry: &state.Telemetry{Flying: tel.Flying, Battery: tel.Battery, Height: tel.Height, Speed: tel.Speed},
		Movement:  def.Movement,
	})
	metrics.BatteryPercent.Set(float64(s.store.Flight().Battery))
}

// observe 执行一次 capture_image 并写入图像窗口；失败重试一次
func (e *Engine) observe(ctx context.Context, s *Session, call tools.Call) (state.ImageRecord, error) {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var rec state.ImageRecord
		rec, err = e.vision.ObserveCall(ctx, call)
		if err == nil {
			stored, _ := s.store.Apply(state.Result{Image: &rec})
			return stored, nil
		}
		if s.emergencyRequested() {
			break
		}
		e.logger.Warn("vision failed", "session_id", s.ID, "attempt", attempt, "error", err)
	}
	return state.ImageRecord{}, err
}

// forceLanding 电量低于阈值：空中则绕过 Planner 合成 land，地面则直接结束
func (e *Engine) forceLanding(ctx context.Context, s *Session, flight state.FlightState) ending {
	threshold := e.validator.Policy().MinBattery
	cause := fmt.Errorf("%w: %d%% < %d%%", ErrBatteryCritical, flight.Battery, threshold)
	if !flight.Flying {
		return ending{status: StatusAborted, reason: ReasonBatteryCritical, err: cause}
	}
	e.logger.Warn("battery critical, forcing landing", "session_id", s.ID, "battery", flight.Battery)
	def, err := e.registry.Lookup(tools.Land)
	if err != nil {
		def = tools.Definition{Name: tools.Land}
	}
	call := tools.Call{Tool: tools.Land, SessionID: s.ID}
	if _, err := e.execute(ctx, s, def, call, ReasonBatteryCritical); err != nil {
		if s.emergencyRequested() {
			return e.emergencyStop(s)
		}
		return ending{status: StatusAborted, reason: ReasonBatteryCritical, err: fmt.Errorf("%w; forced landing failed: %w", cause, err), landed: true}
	}
	s.store.AppendTurn(state.Turn{Role: state.RoleSystem, Text: "Battery critical: landed.", Time: time.Now()})
	return ending{status: StatusAborted, reason: ReasonBatteryCritical, err: cause, landed: true}
}

// abort 致命路径：空中时尽力降落，失败只记录日志
func (e *Engine) abort(s *Session, reason string, err error) ending {
	end := ending{status: StatusAborted, reason: reason, err: err}
	if s.store.Flight().Flying {
		e.bestEffort(s, tools.Land)
		end.landed = true
	}
	return end
}

// emergencyStop 进入 EMERGENCY，强制动作只下发一次，结果不影响控制流
func (e *Engine) emergencyStop(s *Session) ending {
	action := e.validator.Policy().EmergencyAction
	if action == "" {
		action = tools.Land
	}
	s.transition(StateEmergency, ReasonEmergency, map[string]any{"action": action})
	e.bestEffort(s, action)
	s.store.AppendTurn(state.Turn{Role: state.RoleSystem, Text: "Emergency: " + action + " dispatched.", Time: time.Now()})
	return ending{status: StatusDone, reason: ReasonEmergency, landed: true}
}

// bestEffort 在独立于 Session 取消的上下文中下发一次调用
func (e *Engine) bestEffort(s *Session, tool string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), e.cfg.DeviceTimeout)
	defer cancel()
	call := tools.Call{Tool: tool, SessionID: s.ID}
	tel, err := e.callDevice(ctx, call, 0)
	if err != nil {
		e.logger.Error("forced dispatch failed", "session_id", s.ID, "tool", tool, "error", err)
		return
	}
	def, lerr := e.registry.Lookup(tool)
	if lerr != nil {
		def = tools.Definition{Name: tool}
	}
	e.applyTelemetry(s, def, tel)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, device.ErrTimeout):
		return ReasonDeviceTimeout
	case errors.Is(err, vision.ErrVision):
		return ReasonVisionFailure
	default:
		return ReasonDeviceFault
	}
}
