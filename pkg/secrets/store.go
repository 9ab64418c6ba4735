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

// Secret management abstraction

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound secret 不存在
var ErrNotFound = errors.New("secret not found")

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值；不存在时返回包装了 ErrNotFound 的错误
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error
}

// Config Secret Store 配置
type Config struct {
	Provider string      `mapstructure:"provider"` // vault | env | memory
	Vault    VaultConfig `mapstructure:"vault"`
}

// NewStore 创建 Secret Store
// vault provider 总是以环境变量作为兜底
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "", "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		vs, err := NewVaultStore(config.Vault)
		if err != nil {
			return nil, err
		}
		return NewFallbackStore(vs, NewEnvStore()), nil
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

const refPrefix = "secret://"

// Resolve 解析配置值：形如 secret://NAME 的引用从 store 读取，其它值原样返回
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !strings.HasPrefix(value, refPrefix) {
		return value, nil
	}
	key := strings.TrimPrefix(value, refPrefix)
	if key == "" {
		return "", fmt.Errorf("empty secret reference")
	}
	if store == nil {
		return "", fmt.Errorf("resolve %s: no secret store configured", key)
	}
	return store.Get(ctx, key)
}

type fallbackStore struct {
	stores []Store
}

// NewFallbackStore 依次查询各 store，返回第一个命中的值；写入只进入第一个 store
func NewFallbackStore(stores ...Store) Store {
	return &fallbackStore{stores: stores}
}

func (f *fallbackStore) Get(ctx context.Context, key string) (string, error) {
	var lastErr error
	for _, s := range f.stores {
		v, err := s.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return "", lastErr
}

func (f *fallbackStore) Set(ctx context.Context, key string, value string) error {
	if len(f.stores) == 0 {
		return fmt.Errorf("no secret store configured")
	}
	return f.stores[0].Set(ctx, key, value)
}
