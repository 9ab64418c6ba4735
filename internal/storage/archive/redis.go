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

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "drone:archive:"
	redisIndexKey  = "drone:archive:index"
)

// redisCmd RedisStore 用到的命令子集，测试可替换
type redisCmd interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisStore 以 JSON 保存归档，另用有序集合按保存时间索引
type RedisStore struct {
	cmd    redisCmd
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并 Ping；ttl<=0 表示不过期
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("archive: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{cmd: client, client: client, ttl: max(ttl, 0)}, nil
}

func newRedisStoreWith(cmd redisCmd, ttl time.Duration) *RedisStore {
	return &RedisStore{cmd: cmd, ttl: ttl}
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Save 实现 Store
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.cmd.Set(ctx, redisKeyPrefix+rec.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("archive save %s: %w", rec.SessionID, err)
	}
	z := redis.Z{Score: float64(rec.SavedAt.UnixMilli()), Member: rec.SessionID}
	if err := s.cmd.ZAdd(ctx, redisIndexKey, z).Err(); err != nil {
		return fmt.Errorf("archive index %s: %w", rec.SessionID, err)
	}
	return nil
}

// Load 实现 Store；键过期后同样返回 ErrNotFound
func (s *RedisStore) Load(ctx context.Context, sessionID string) (Record, error) {
	data, err := s.cmd.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive load %s: %w", sessionID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List 实现 Store；索引可能包含已过期的 SessionID
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.cmd.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("archive list: %w", err)
	}
	return ids, nil
}
