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

// Package archive 显式保存已结束的 Session（对话、图像分析、事件与最终飞行状态）
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/state"
	pkgerrors "github.com/vs4vijay/microsoft-garage/pkg/errors"
)

// ErrNotFound 归档不存在
var ErrNotFound = fmt.Errorf("archive: %w", pkgerrors.ErrNotFound)

// Record 一个 Session 的完整归档
type Record struct {
	SessionID string              `json:"session_id"`
	Goal      string              `json:"goal"`
	Source    string              `json:"source,omitempty"`
	Status    string              `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Error     string              `json:"error,omitempty"`
	Steps     int                 `json:"steps"`
	Flight    state.FlightState   `json:"flight"`
	Turns     []state.Turn        `json:"turns"`
	Images    []state.ImageRecord `json:"images"`
	Events    []events.Event      `json:"events"`
	CreatedAt time.Time           `json:"created_at"`
	EndedAt   time.Time           `json:"ended_at,omitempty"`
	SavedAt   time.Time           `json:"saved_at"`
}

// Store 归档存储；Save 对同一 SessionID 覆盖写
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, sessionID string) (Record, error)
	// List 按保存时间升序返回 SessionID
	List(ctx context.Context) ([]string, error)
}

// Config 归档存储配置
type Config struct {
	Type     string        // memory | redis | postgres
	DSN      string        // postgres
	Addr     string        // redis
	Password string        // redis
	DB       int           // redis
	TTL      time.Duration // redis，0 不过期
}

// New 按类型创建 Store；返回的 closer 在退出时调用
func New(ctx context.Context, cfg Config) (Store, func(), error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), func() {}, nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}

func validate(rec Record) error {
	if rec.SessionID == "" {
		return fmt.Errorf("archive: %w: empty session id", pkgerrors.ErrInvalidArg)
	}
	return nil
}
