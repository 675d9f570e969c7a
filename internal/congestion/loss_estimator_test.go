// =============================================================================
// 文件: internal/congestion/loss_estimator_test.go
// 描述: 丢包率估算器测试
// =============================================================================
package congestion

import (
	"math"
	"testing"
)

func TestLossEstimatorNoLoss(t *testing.T) {
	e := NewLossEstimator()
	for i := 0; i < 100; i++ {
		e.OnPacketAcked()
	}
	if got := e.GetLossRate(); got != 0 {
		t.Errorf("无丢包时丢包率 = %v, want 0", got)
	}
	if e.IsInBurst() {
		t.Error("无丢包时不应处于突发")
	}
}

func TestLossEstimatorFirstSample(t *testing.T) {
	e := NewLossEstimator()
	e.OnPacketLost()

	st := e.GetStats()
	if st.ShortEWMA != 1 || st.LongEWMA != 1 {
		t.Errorf("首个样本应直接作为初值, got short=%v long=%v", st.ShortEWMA, st.LongEWMA)
	}
	if st.TotalLost != 1 || st.TotalAcked != 0 {
		t.Errorf("计数错误: %+v", st)
	}
}

func TestLossEstimatorConverges(t *testing.T) {
	e := NewLossEstimator()
	// 每 4 个丢 1 个
	for i := 0; i < 400; i++ {
		if i%4 == 0 {
			e.OnPacketLost()
		} else {
			e.OnPacketAcked()
		}
	}

	if got := e.GetInstantLossRate(); math.Abs(got-0.25) > 0.02 {
		t.Errorf("窗口丢包率 = %v, want ~0.25", got)
	}
	if got := e.GetLossRate(); got < 0.15 || got > 0.45 {
		t.Errorf("平滑丢包率 = %v, want 0.15-0.45", got)
	}
}

func TestLossEstimatorBurst(t *testing.T) {
	e := NewLossEstimator()
	for i := 0; i < lossWindowSize; i++ {
		e.OnPacketAcked()
	}
	for i := 0; i < lossWindowSize/2; i++ {
		e.OnPacketLost()
	}
	if !e.IsInBurst() {
		t.Errorf("连续丢包后应检测到突发, instant=%v", e.GetInstantLossRate())
	}

	e.Reset()
	if e.GetLossRate() != 0 || e.GetInstantLossRate() != 0 {
		t.Error("Reset 后应清零")
	}
}

func TestSlidingWindowOverwrite(t *testing.T) {
	w := NewSlidingWindow(4)
	for i := 0; i < 4; i++ {
		w.Add(true)
	}
	if w.GetLossRate() != 1 {
		t.Fatalf("全丢 = %v, want 1", w.GetLossRate())
	}
	w.Add(false)
	w.Add(false)
	if got := w.GetLossRate(); got != 0.5 {
		t.Errorf("覆盖两个后 = %v, want 0.5", got)
	}
}
