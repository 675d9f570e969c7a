// =============================================================================
// 文件: internal/congestion/loss_estimator.go
// 描述: 丢包率估算器 - 超时重传计为丢失, 首次 ACK 计为送达
// =============================================================================
package congestion

import (
	"sync"
)

const (
	ewmaShortAlpha = 0.125  // 短期 EWMA 权重 (1/8)
	ewmaLongAlpha  = 0.0625 // 长期 EWMA 权重 (1/16)

	lossWindowSize = 64
	burstThreshold = 0.3 // 短期窗口内 30% 丢失视为突发
)

// LossEstimator 丢包率估算器
type LossEstimator struct {
	ewmaShort float64
	ewmaLong  float64

	window *SlidingWindow

	totalAcked uint64
	totalLost  uint64

	mu sync.RWMutex
}

// SlidingWindow 最近 N 个事件的环形窗口
type SlidingWindow struct {
	size      int
	events    []bool // true = loss
	lossCount int
	head      int
	count     int
}

// NewLossEstimator 创建丢包率估算器
func NewLossEstimator() *LossEstimator {
	return &LossEstimator{window: NewSlidingWindow(lossWindowSize)}
}

// NewSlidingWindow 创建滑动窗口
func NewSlidingWindow(size int) *SlidingWindow {
	if size < 1 {
		size = 1
	}
	return &SlidingWindow{size: size, events: make([]bool, size)}
}

// OnPacketAcked 可靠包被确认
func (e *LossEstimator) OnPacketAcked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalAcked++
	e.record(false)
}

// OnPacketLost 可靠包超时需要重传
func (e *LossEstimator) OnPacketLost() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalLost++
	e.record(true)
}

func (e *LossEstimator) record(isLoss bool) {
	v := 0.0
	if isLoss {
		v = 1.0
	}
	if e.totalAcked+e.totalLost == 1 {
		e.ewmaShort = v
		e.ewmaLong = v
	} else {
		e.ewmaShort += ewmaShortAlpha * (v - e.ewmaShort)
		e.ewmaLong += ewmaLongAlpha * (v - e.ewmaLong)
	}
	e.window.Add(isLoss)
}

// GetLossRate 平滑丢包率, 取短期与长期 EWMA 的较大者
func (e *LossEstimator) GetLossRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ewmaShort > e.ewmaLong {
		return e.ewmaShort
	}
	return e.ewmaLong
}

// GetInstantLossRate 滑动窗口内的丢包率
func (e *LossEstimator) GetInstantLossRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.GetLossRate()
}

// IsInBurst 最近窗口是否处于突发丢包
func (e *LossEstimator) IsInBurst() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.window.count >= e.window.size/4 && e.window.GetLossRate() >= burstThreshold
}

// GetStats 获取统计
func (e *LossEstimator) GetStats() LossStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return LossStats{
		ShortEWMA:   e.ewmaShort,
		LongEWMA:    e.ewmaLong,
		InstantLoss: e.window.GetLossRate(),
		TotalAcked:  e.totalAcked,
		TotalLost:   e.totalLost,
	}
}

// Reset 重置
func (e *LossEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ewmaShort, e.ewmaLong = 0, 0
	e.totalAcked, e.totalLost = 0, 0
	e.window = NewSlidingWindow(e.window.size)
}

// LossStats 丢包统计
type LossStats struct {
	ShortEWMA   float64
	LongEWMA    float64
	InstantLoss float64
	TotalAcked  uint64
	TotalLost   uint64
}

// Add 记录一个事件, 窗口满时覆盖最旧的
func (w *SlidingWindow) Add(isLoss bool) {
	if w.count == w.size {
		if w.events[w.head] {
			w.lossCount--
		}
	} else {
		w.count++
	}
	w.events[w.head] = isLoss
	if isLoss {
		w.lossCount++
	}
	w.head = (w.head + 1) % w.size
}

// GetLossRate 窗口内丢包率
func (w *SlidingWindow) GetLossRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.lossCount) / float64(w.count)
}
