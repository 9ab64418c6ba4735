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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Vision     VisionConfig     `mapstructure:"vision"`
	Device     DeviceConfig     `mapstructure:"device"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// AgentConfig 决策循环配置：步数预算、历史窗口、外部调用超时
type AgentConfig struct {
	MaxSteps      int    `mapstructure:"max_steps"`      // 单个 Session 最大步数，超过即 ABORTED
	HistoryWindow int    `mapstructure:"history_window"` // 对话历史窗口
	ImageWindow   int    `mapstructure:"image_window"`   // 图像分析历史窗口（K）
	DeviceTimeout string `mapstructure:"device_timeout"` // 如 "15s"
	PlanTimeout   string `mapstructure:"plan_timeout"`
	VisionTimeout string `mapstructure:"vision_timeout"`
	RetryBackoff  string `mapstructure:"retry_backoff"`  // 设备超时重试前等待
	ObserveMotion *bool  `mapstructure:"observe_motion"` // 运动后是否自动拍照分析；未配置时默认 true
}

// SafetyConfig 安全策略
type SafetyConfig struct {
	MaxStepDistance          int      `mapstructure:"max_step_distance"`
	MinBattery               int      `mapstructure:"min_battery"`
	MaxConsecutiveRejections int      `mapstructure:"max_consecutive_rejections"`
	MaxExecutionRetries      int      `mapstructure:"max_execution_retries"`
	LateralRequiresVision    *bool    `mapstructure:"lateral_requires_vision"` // 未配置时默认 true
	ObstacleCheck            *bool    `mapstructure:"obstacle_check"`          // 未配置时默认 true
	EmergencyAction          string   `mapstructure:"emergency_action"`        // land | emergency_stop
	AllowedTools             []string `mapstructure:"allowed_tools"`           // 空表示不限制
}

// PlannerConfig 规划器配置
type PlannerConfig struct {
	Type        string  `mapstructure:"type"` // rule | llm
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
}

// VisionConfig 视觉协作方配置
type VisionConfig struct {
	Type         string `mapstructure:"type"` // simulated | llm
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultFocus string `mapstructure:"default_focus"`
}

// DeviceConfig 设备协作方配置（仅内置模拟器；真实传输协议由外部适配）
type DeviceConfig struct {
	Type          string `mapstructure:"type"` // simulator
	Battery       int    `mapstructure:"battery"`
	BatteryDrain  int    `mapstructure:"battery_drain"`
	TakeoffHeight int    `mapstructure:"takeoff_height"`
	Latency       string `mapstructure:"latency"`
}

// ArchiveConfig 显式保存 Session 的存储配置
type ArchiveConfig struct {
	Type     string `mapstructure:"type"` // memory | redis | postgres
	DSN      string `mapstructure:"dsn"`  // postgres 连接串
	Addr     string `mapstructure:"addr"` // redis 地址
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      string `mapstructure:"ttl"` // redis 过期时间，空则不过期
}

// SecretsConfig 密钥来源配置
type SecretsConfig struct {
	Provider string      `mapstructure:"provider"` // env | memory | vault
	Vault    VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Mount   string `mapstructure:"mount"`
	Path    string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// RateLimitsConfig 外部协作方限流配置
type RateLimitsConfig struct {
	Planner CollaboratorRateLimit `mapstructure:"planner"`
	Vision  CollaboratorRateLimit `mapstructure:"vision"`
	Device  DeviceRateLimit       `mapstructure:"device"`
}

// DeviceRateLimit 设备命令限流；负数表示不限
type DeviceRateLimit struct {
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
}

// CollaboratorRateLimit 单个协作方的限流
type CollaboratorRateLimit struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// Default 返回内置默认配置（模拟器 + 规则规划器 + 内存归档）
func Default() *Config {
	return &Config{
		API: APIConfig{Port: 8080, Timeout: "30s"},
		Agent: AgentConfig{
			MaxSteps:      30,
			HistoryWindow: 20,
			ImageWindow:   5,
			DeviceTimeout: "15s",
			PlanTimeout:   "30s",
			VisionTimeout: "20s",
			RetryBackoff:  "500ms",
		},
		Safety: SafetyConfig{
			MaxStepDistance:          100,
			MinBattery:               20,
			MaxConsecutiveRejections: 3,
			MaxExecutionRetries:      2,
			EmergencyAction:          "land",
		},
		Planner: PlannerConfig{Type: "rule", Provider: "openai", Model: "gpt-4o", Temperature: 0.2},
		Vision:  VisionConfig{Type: "simulated", Model: "gpt-4o", DefaultFocus: "obstacles"},
		Device:  DeviceConfig{Type: "simulator", Battery: 100, BatteryDrain: 1, TakeoffHeight: 80},
		Archive: ArchiveConfig{Type: "memory"},
		Secrets: SecretsConfig{Provider: "env"},
		RateLimits: RateLimitsConfig{
			Device: DeviceRateLimit{CommandsPerSecond: 10},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Monitoring: MonitoringConfig{
			Prometheus: PrometheusConfig{Enable: true},
			Tracing:    TracingConfig{ServiceName: "drone-agent"},
		},
	}
}

// LoadConfig 加载配置文件；文件中缺省的字段保留 Default() 的值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadOrDefault path 为空或文件不存在时返回默认配置
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return Default(), nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadConfig(configPath)
}

// replaceEnvVars 替换 ${VAR} 形式的密钥引用
func replaceEnvVars(config *Config) {
	config.Planner.APIKey = expandEnv(config.Planner.APIKey)
	config.Vision.APIKey = expandEnv(config.Vision.APIKey)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
	config.Archive.DSN = expandEnv(config.Archive.DSN)
	config.Archive.Password = expandEnv(config.Archive.Password)
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// Validate 检查相互约束的字段
func (c *Config) Validate() error {
	if c.Safety.MinBattery < 0 || c.Safety.MinBattery > 100 {
		return fmt.Errorf("safety.min_battery 需在 0..100 之间: %d", c.Safety.MinBattery)
	}
	if c.Safety.MaxConsecutiveRejections <= 0 {
		return fmt.Errorf("safety.max_consecutive_rejections 需大于 0")
	}
	if c.Safety.MaxExecutionRetries < 0 {
		return fmt.Errorf("safety.max_execution_retries 不能为负")
	}
	switch c.Safety.EmergencyAction {
	case "", "land", "emergency_stop":
	default:
		return fmt.Errorf("safety.emergency_action 仅支持 land | emergency_stop: %q", c.Safety.EmergencyAction)
	}
	for name, d := range map[string]string{
		"agent.device_timeout": c.Agent.DeviceTimeout,
		"agent.plan_timeout":   c.Agent.PlanTimeout,
		"agent.vision_timeout": c.Agent.VisionTimeout,
		"agent.retry_backoff":  c.Agent.RetryBackoff,
		"archive.ttl":          c.Archive.TTL,
		"device.latency":       c.Device.Latency,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s 不是合法时长 %q: %w", name, d, err)
		}
	}
	return nil
}

// BoolOr 解析可选布尔配置，未配置时返回 def
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
