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

package state

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultHistoryWindow = 20
	defaultImageWindow   = 5
	fullBattery          = 100
)

// Options 窗口大小；0 表示使用默认值（对话 20 条，图像 5 条）
type Options struct {
	HistoryWindow int
	ImageWindow   int
	Logger        *slog.Logger
}

// Store 单个 Session 的状态存储：飞行状态、有界对话窗口、有界图像窗口
// Apply 只由执行引擎调用；AppendTurn 可由任意组件调用
type Store struct {
	mu sync.RWMutex

	flight  FlightState
	turns   []Turn
	images  []ImageRecord
	seq     uint64
	lastMov uint64

	maxTurns  int
	maxImages int
	logger    *slog.Logger
}

// NewStore 以初始飞行状态创建 Store
func NewStore(initial FlightState, opts Options) *Store {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.ImageWindow <= 0 {
		opts.ImageWindow = defaultImageWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		flight:    initial.Clone(),
		maxTurns:  opts.HistoryWindow,
		maxImages: opts.ImageWindow,
		logger:    logger,
	}
}

// Read 返回当前状态的深拷贝
func (s *Store) Read() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Flight:          s.flight.Clone(),
		Turns:           make([]Turn, len(s.turns)),
		Images:          make([]ImageRecord, len(s.images)),
		LastMovementSeq: s.lastMov,
	}
	copy(snap.Turns, s.turns)
	for i, r := range s.images {
		snap.Images[i] = r.clone()
	}
	return snap
}

// Flight 返回当前飞行状态
func (s *Store) Flight() FlightState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flight.Clone()
}

// AppendTurn 追加一条对话，超过窗口时丢弃最旧的
func (s *Store) AppendTurn(t Turn) {
	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	if len(s.turns) > s.maxTurns {
		s.turns = append([]Turn(nil), s.turns[len(s.turns)-s.maxTurns:]...)
	}
}

// Apply 原子地应用一次执行结果，返回写入的图像记录（若有，含分配的序号）
func (s *Store) Apply(r Result) (ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := r.Telemetry; t != nil {
		s.applyTelemetry(*t)
	}
	if r.Movement {
		s.flight.MovementCount++
		s.lastMov = s.seq
	}
	if r.Image == nil {
		return ImageRecord{}, false
	}

	s.seq++
	rec := r.Image.clone()
	rec.Seq = s.seq
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	s.images = append(s.images, rec)
	if len(s.images) > s.maxImages {
		s.images = append([]ImageRecord(nil), s.images[len(s.images)-s.maxImages:]...)
	}

	labels := make([]string, 0, len(rec.Obstacles))
	for _, o := range rec.Obstacles {
		labels = append(labels, o.Label)
	}
	s.flight.Obstacles = labels
	return rec.clone(), true
}

// 电量只减不增；遥测报告更高的值时保留当前值
func (s *Store) applyTelemetry(t Telemetry) {
	s.flight.Flying = t.Flying
	s.flight.Height = max(t.Height, 0)
	if !t.Flying {
		s.flight.Height = 0
	}
	if t.Speed > 0 {
		s.flight.Speed = t.Speed
	}
	battery := min(max(t.Battery, 0), fullBattery)
	if battery > s.flight.Battery {
		s.logger.Warn("忽略上升的电量读数", "current", s.flight.Battery, "reported", battery)
		return
	}
	s.flight.Battery = battery
}
