// =============================================================================
// 文件: internal/congestion/rtt.go
// 描述: RTT 测量与重传超时估算 (指数平滑)
// =============================================================================
package congestion

import (
	"sync"
	"time"
)

const (
	// RTT 常量
	rttAlpha       = 0.9 // 旧值权重
	defaultInitRTT = 125 * time.Millisecond
	rttSampleSize  = 32 // 抖动计算用的采样数量
)

// RTTConfig 重传超时参数
type RTTConfig struct {
	InitialRTT       time.Duration
	ResendFactor     float64
	MinResendTimeout time.Duration
	MaxResendTimeout time.Duration
}

// DefaultRTTConfig 默认参数
func DefaultRTTConfig() RTTConfig {
	return RTTConfig{
		InitialRTT:       defaultInitRTT,
		ResendFactor:     4,
		MinResendTimeout: 100 * time.Millisecond,
		MaxResendTimeout: 3 * time.Second,
	}
}

// RTTEstimator RTT 估算器
type RTTEstimator struct {
	cfg RTTConfig

	smoothedRTT time.Duration
	minRTT      time.Duration
	latestRTT   time.Duration
	maxRTT      time.Duration
	jitter      time.Duration

	// 采样历史
	samples     []time.Duration
	sampleIdx   int
	sampleCount int

	totalSamples uint64

	mu sync.RWMutex
}

// NewRTTEstimator 创建 RTT 估算器
func NewRTTEstimator(cfg RTTConfig) *RTTEstimator {
	if cfg.InitialRTT <= 0 {
		cfg.InitialRTT = defaultInitRTT
	}
	if cfg.ResendFactor <= 0 {
		cfg.ResendFactor = 4
	}
	return &RTTEstimator{
		cfg:         cfg,
		smoothedRTT: cfg.InitialRTT,
		samples:     make([]time.Duration, rttSampleSize),
	}
}

// Update 记录一次 RTT 采样
// rtt' = rtt*0.9 + sample*0.1
func (r *RTTEstimator) Update(sample time.Duration) {
	if sample <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.totalSamples > 0 {
		diff := sample - r.latestRTT
		if diff < 0 {
			diff = -diff
		}
		// 抖动同样做平滑
		r.jitter = time.Duration(float64(r.jitter)*rttAlpha + float64(diff)*(1-rttAlpha))
	}

	r.latestRTT = sample
	r.totalSamples++

	r.samples[r.sampleIdx] = sample
	r.sampleIdx = (r.sampleIdx + 1) % rttSampleSize
	if r.sampleCount < rttSampleSize {
		r.sampleCount++
	}

	if r.minRTT == 0 || sample < r.minRTT {
		r.minRTT = sample
	}
	if sample > r.maxRTT {
		r.maxRTT = sample
	}

	r.smoothedRTT = time.Duration(float64(r.smoothedRTT)*rttAlpha + float64(sample)*(1-rttAlpha))
}

// GetSmoothedRTT 获取平滑 RTT
func (r *RTTEstimator) GetSmoothedRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.smoothedRTT
}

// GetMinRTT 获取最小 RTT
func (r *RTTEstimator) GetMinRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.minRTT == 0 {
		return r.smoothedRTT
	}
	return r.minRTT
}

// GetMaxRTT 获取最大 RTT
func (r *RTTEstimator) GetMaxRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxRTT
}

// GetLatestRTT 获取最新 RTT
func (r *RTTEstimator) GetLatestRTT() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestRTT
}

// GetJitter 获取平滑抖动
func (r *RTTEstimator) GetJitter() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jitter
}

// GetRecentAverage 最近采样的平均值
func (r *RTTEstimator) GetRecentAverage() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.sampleCount == 0 {
		return r.smoothedRTT
	}
	var sum time.Duration
	for i := 0; i < r.sampleCount; i++ {
		sum += r.samples[i]
	}
	return sum / time.Duration(r.sampleCount)
}

// GetResendTimeout 重传超时 = clamp(rtt*factor, min, max)
func (r *RTTEstimator) GetResendTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resendTimeoutLocked()
}

func (r *RTTEstimator) resendTimeoutLocked() time.Duration {
	rto := time.Duration(float64(r.smoothedRTT) * r.cfg.ResendFactor)
	if r.cfg.MinResendTimeout > 0 && rto < r.cfg.MinResendTimeout {
		rto = r.cfg.MinResendTimeout
	}
	if r.cfg.MaxResendTimeout > 0 && rto > r.cfg.MaxResendTimeout {
		rto = r.cfg.MaxResendTimeout
	}
	return rto
}

// SampleCount 已记录的采样数
func (r *RTTEstimator) SampleCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalSamples
}

// Reset 重置
func (r *RTTEstimator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.smoothedRTT = r.cfg.InitialRTT
	r.minRTT = 0
	r.latestRTT = 0
	r.maxRTT = 0
	r.jitter = 0
	r.sampleIdx = 0
	r.sampleCount = 0
	r.totalSamples = 0
}

// GetStats 获取统计信息
func (r *RTTEstimator) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"srtt_ms":           r.smoothedRTT.Milliseconds(),
		"min_rtt_ms":        r.minRTT.Milliseconds(),
		"latest_rtt_ms":     r.latestRTT.Milliseconds(),
		"max_rtt_ms":        r.maxRTT.Milliseconds(),
		"jitter_ms":         r.jitter.Milliseconds(),
		"resend_timeout_ms": r.resendTimeoutLocked().Milliseconds(),
		"total_samples":     r.totalSamples,
	}
}
