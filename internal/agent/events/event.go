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

package events

import (
	"context"
	"log/slog"
	"time"
)

// Event 一次状态迁移的输出；UI/语音等协作方订阅，核心不解释其内容
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	State     string         `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Time      time.Time      `json:"time"`
}

// Sink 事件接收方；Publish 不得阻塞执行循环
type Sink interface {
	Publish(e Event)
}

// SinkFunc 函数适配
type SinkFunc func(Event)

// Publish 实现 Sink
func (f SinkFunc) Publish(e Event) { f(e) }

// Multi 依次投递给多个 Sink
type Multi []Sink

// Publish 实现 Sink
func (m Multi) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Forget 转发给实现了 Forget 的 Sink
func (m Multi) Forget(sessionID string) {
	for _, s := range m {
		if f, ok := s.(interface{ Forget(string) }); ok {
			f.Forget(sessionID)
		}
	}
}

// LogSink 把每个事件写成一条结构化日志
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 创建 LogSink
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish 实现 Sink
func (l *LogSink) Publish(e Event) {
	attrs := []any{"session_id", e.SessionID, "seq", e.Seq, "state", e.State}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	for k, v := range e.Data {
		attrs = append(attrs, k, v)
	}
	level := slog.LevelInfo
	switch e.State {
	case "ABORTED", "EMERGENCY":
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "session transition", attrs...)
}
