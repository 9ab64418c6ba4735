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

package app

import (
	"context"
	"fmt"

	"github.com/vs4vijay/microsoft-garage/pkg/config"
	"github.com/vs4vijay/microsoft-garage/pkg/log"
	"github.com/vs4vijay/microsoft-garage/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 dronectl 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Secrets secrets.Store
}

// NewBootstrap 根据配置创建 Bootstrap（日志 + 密钥来源）；cfg 为 nil 时使用默认配置
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	store, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Vault: secrets.VaultConfig{
			Address: cfg.Secrets.Vault.Address,
			Token:   cfg.Secrets.Vault.Token,
			Mount:   cfg.Secrets.Vault.Mount,
			Path:    cfg.Secrets.Vault.Path,
		},
	})
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("初始化密钥存储失败: %w", err)
	}

	return &Bootstrap{Config: cfg, Logger: logger, Secrets: store}, nil
}

// APIKey 解析 secret:// 引用；值为空时按 fallbackKey 从密钥存储读取
func (b *Bootstrap) APIKey(ctx context.Context, value, fallbackKey string) (string, error) {
	if value == "" && fallbackKey != "" {
		v, err := b.Secrets.Get(ctx, fallbackKey)
		if err != nil {
			return "", fmt.Errorf("api key %s: %w", fallbackKey, err)
		}
		return v, nil
	}
	return secrets.Resolve(ctx, b.Secrets, value)
}

// Close 释放日志文件
func (b *Bootstrap) Close() error {
	return b.Logger.Close()
}
