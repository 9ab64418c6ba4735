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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	"github.com/vs4vijay/microsoft-garage/pkg/metrics"
)

// Session 一次目标追求；由 Engine 独占，循环 goroutine 是唯一的写入方
type Session struct {
	ID        string
	Goal      string
	Source    string
	CreatedAt time.Time

	store *state.Store
	sink  events.Sink

	ctx       context.Context
	cancel    context.CancelFunc
	emergency chan struct{}
	emOnce    sync.Once
	done      chan struct{}

	mu         sync.RWMutex
	state      State
	status     Status
	reason     string
	err        error
	steps      int
	rejections int
	endedAt    time.Time
	seq        uint64
	events     []events.Event
}

// Info Session 的只读视图
type Info struct {
	ID         string            `json:"id"`
	Goal       string            `json:"goal"`
	Source     string            `json:"source,omitempty"`
	State      State             `json:"state"`
	Status     Status            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Steps      int               `json:"steps"`
	Rejections int               `json:"rejections"`
	Flight     state.FlightState `json:"flight"`
	CreatedAt  time.Time         `json:"created_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
}

func newSession(ctx context.Context, goal, source string, store *state.Store, sink events.Sink) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Session{
		ID:        "session-" + uuid.New().String(),
		Goal:      goal,
		Source:    source,
		CreatedAt: time.Now(),
		store:     store,
		sink:      sink,
		ctx:       sctx,
		cancel:    cancel,
		emergency: make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
		status:    StatusActive,
	}
}

// Wait 等待 Session 结束，返回其致命错误（DONE 时为 nil）
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done Session 结束时关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot 当前状态存储的深拷贝
func (s *Session) Snapshot() state.Snapshot { return s.store.Read() }

// State 当前状态机状态
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status 当前 Session 状态
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err 致命错误，原样保留协作方返回的错误
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Terminal 是否已进入终态
func (s *Session) Terminal() bool {
	return s.State().Terminal()
}

// Info 返回只读视图
func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		ID:         s.ID,
		Goal:       s.Goal,
		Source:     s.Source,
		State:      s.state,
		Status:     s.status,
		Reason:     s.reason,
		Steps:      s.steps,
		Rejections: s.rejections,
		CreatedAt:  s.CreatedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		info.EndedAt = &t
	}
	s.mu.RUnlock()
	info.Flight = s.store.Flight()
	return info
}

// Events 返回 Seq 大于 after 的事件
func (s *Session) Events(after uint64) []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// signalEmergency 幂等；取消运行上下文以抢占当前挂起点
func (s *Session) signalEmergency() {
	s.emOnce.Do(func() {
		close(s.emergency)
		s.cancel()
	})
}

func (s *Session) emergencyRequested() bool {
	select {
	case <-s.emergency:
		return true
	default:
		return false
	}
}

// transition 进入新状态并发布一条事件
func (s *Session) transition(to State, reason string, data map[string]any) {
	s.mu.Lock()
	s.state = to
	switch to {
	case StateEmergency:
		s.status = StatusEmergency
	case StateDone:
		s.status = StatusDone
		s.reason = reason
		s.endedAt = time.Now()
	case StateAborted:
		s.status = StatusAborted
		s.reason = reason
		s.endedAt = time.Now()
	}
	s.seq++
	e := events.Event{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		Seq:       s.seq,
		State:     string(to),
		Reason:    reason,
		Data:      data,
		Time:      time.Now(),
	}
	s.events = append(s.events, e)
	s.mu.Unlock()

	metrics.StepTotal.WithLabelValues(string(to)).Inc()
	if s.sink != nil {
		s.sink.Publish(e)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Session) nextStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps++
	return s.steps
}

func (s *Session) reject() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections++
	return s.rejections
}

func (s *Session) approve() {
	s.mu.Lock()
	s.rejections = 0
	s.mu.Unlock()
}
