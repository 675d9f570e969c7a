// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 健康状态汇总 - 根据连接快照生成 HealthStatus
// =============================================================================
package metrics

import (
	"fmt"
	"time"
)

// HealthReporter 根据连接统计给出健康状态
type HealthReporter struct {
	provider  ConnectionStats
	version   string
	startTime time.Time

	// 写错误占比超过该值视为降级
	writeErrorRatio float64
}

// NewHealthReporter 创建健康状态汇总器
func NewHealthReporter(provider ConnectionStats, version string) *HealthReporter {
	return &HealthReporter{
		provider:        provider,
		version:         version,
		startTime:       time.Now(),
		writeErrorRatio: 0.1,
	}
}

// Check 生成当前健康状态, 可直接交给 MetricsServer.SetHealthCheck
func (h *HealthReporter) Check() HealthStatus {
	st := h.provider.Stats()

	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime),
		Components: make(map[string]ComponentHealth),
	}

	sock := ComponentHealth{Status: StatusHealthy}
	attempts := st.PacketsSent + st.WriteErrors
	if attempts > 0 && float64(st.WriteErrors)/float64(attempts) > h.writeErrorRatio {
		sock = ComponentHealth{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("写错误 %d/%d", st.WriteErrors, attempts),
		}
		status.Status = StatusDegraded
	}
	status.Components["socket"] = sock

	status.Components["peers"] = ComponentHealth{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d 个 peer", st.Peers),
	}
	return status
}
