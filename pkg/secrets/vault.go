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

// HashiCorp Vault secret store (KV v2)

package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
// 所有 key 作为同一个 KV v2 secret（Mount/Path）下的字段存放
type VaultConfig struct {
	Address string `mapstructure:"address"` // e.g. http://vault:8200
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"` // KV v2 mount，默认 secret
	Path    string `mapstructure:"path"`  // 默认 drone-agent
}

type vaultStore struct {
	kv   *vault.KVv2
	path string

	mu    sync.RWMutex
	cache map[string]string
}

// NewVaultStore 创建 Vault secret store
func NewVaultStore(config VaultConfig) (Store, error) {
	cfg := vault.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}

	mount := config.Mount
	if mount == "" {
		mount = "secret"
	}
	path := config.Path
	if path == "" {
		path = "drone-agent"
	}

	return &vaultStore{
		kv:    client.KVv2(mount),
		path:  path,
		cache: make(map[string]string),
	}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	if val, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return val, nil
	}
	v.mu.RUnlock()

	secret, err := v.kv.Get(ctx, v.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: vault %s", ErrNotFound, v.path)
		}
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}

	raw, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("%w: vault %s#%s", ErrNotFound, v.path, key)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault %s#%s is not a string", v.path, key)
	}

	v.mu.Lock()
	v.cache[key] = val
	v.mu.Unlock()
	return val, nil
}

// Set 以 patch 方式写入单个字段，保留同一 secret 下的其它字段
func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	if _, err := v.kv.Patch(ctx, v.path, map[string]interface{}{key: value}); err != nil {
		if !errors.Is(err, vault.ErrSecretNotFound) {
			return fmt.Errorf("failed to write secret to vault: %w", err)
		}
		if _, err := v.kv.Put(ctx, v.path, map[string]interface{}{key: value}); err != nil {
			return fmt.Errorf("failed to write secret to vault: %w", err)
		}
	}

	v.mu.Lock()
	v.cache[key] = value
	v.mu.Unlock()
	return nil
}
