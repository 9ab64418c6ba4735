package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 与 CLI 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		SessionTotal, StepTotal, RejectionTotal,
		DeviceCallDuration, DeviceRetryTotal,
		PlannerDuration, VisionDuration,
		BatteryPercent, ActiveSessions,
		RateLimitWaitSeconds,
	)
}

// SessionTotal 结束的 Session 数（按终态）
var SessionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "drone_session_total",
		Help: "结束的 Session 总数（按终态）",
	},
	[]string{"status"}, // done | aborted
)

// StepTotal 状态机迁移次数（按进入的状态）
var StepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "drone_step_total",
		Help: "状态机迁移次数",
	},
	[]string{"state"},
)

// RejectionTotal 安全校验拒绝次数（按原因）
var RejectionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "drone_rejection_total",
		Help: "安全校验拒绝次数",
	},
	[]string{"reason"},
)

// DeviceCallDuration 设备调用耗时（秒）
var DeviceCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "drone_device_call_duration_seconds",
		Help:    "设备调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// DeviceRetryTotal 设备超时重试次数
var DeviceRetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "drone_device_retry_total",
		Help: "设备超时重试次数",
	},
	[]string{"tool"},
)

// PlannerDuration Planner 调用耗时（秒）
var PlannerDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "drone_planner_duration_seconds",
		Help:    "Planner 调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// VisionDuration 拍照 + 分析耗时（秒）
var VisionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "drone_vision_duration_seconds",
		Help:    "拍照与图像分析耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// BatteryPercent 最近一次遥测的电量
var BatteryPercent = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "drone_battery_percent",
		Help: "最近一次遥测的电量百分比",
	},
)

// ActiveSessions 当前未结束的 Session 数
var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "drone_active_sessions",
		Help: "当前未结束的 Session 数",
	},
)

// RateLimitWaitSeconds 外部协作方与设备命令的限流等待时长（秒）
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "drone_rate_limit_wait_seconds",
		Help:    "外部协作方限流等待时长（秒）",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"collaborator"}, // planner | vision | device
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
