// =============================================================================
// 文件: internal/transport/send_window.go
// 描述: 可靠 UDP 传输 - 发送窗口 (逐包确认 + 超时重传)
// =============================================================================
package transport

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

// BufferedPacket 等待确认的可靠包
type BufferedPacket struct {
	Seqnum      uint16
	Data        []byte // 完整数据报
	Address     net.Addr
	SentTime    time.Time // 最近一次发送
	FirstSent   time.Time
	ResendCount int
}

// SendWindow 发送窗口
// base 为最小未确认序列号, nextSeq-base 不超过 size
type SendWindow struct {
	entries map[uint16]*BufferedPacket
	size    int
	base    uint16
	nextSeq uint16

	// 统计
	totalSent     uint64
	totalResent   uint64
	totalAcked    uint64
	ignoredAcks   uint64
	maxOccupation int

	mu sync.RWMutex
}

// NewSendWindow 创建发送窗口
func NewSendWindow(size int, initialSeq uint16) *SendWindow {
	if size < 1 {
		size = 1
	}
	if size > protocol.MaxReliableWindow {
		size = protocol.MaxReliableWindow
	}
	return &SendWindow{
		entries: make(map[uint16]*BufferedPacket, size),
		size:    size,
		base:    initialSeq,
		nextSeq: initialSeq,
	}
}

// Add 分配下一个序列号并登记, encode 根据序列号生成完整数据报
// 窗口已满时返回 false
func (w *SendWindow) Add(addr net.Addr, encode func(seq uint16) []byte) (*BufferedPacket, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if int(w.nextSeq-w.base) >= w.size {
		return nil, false
	}

	seq := w.nextSeq
	now := time.Now()
	p := &BufferedPacket{
		Seqnum:    seq,
		Data:      encode(seq),
		Address:   addr,
		SentTime:  now,
		FirstSent: now,
	}

	w.entries[seq] = p
	w.nextSeq++
	w.totalSent++
	if n := int(w.nextSeq - w.base); n > w.maxOccupation {
		w.maxOccupation = n
	}

	return p, true
}

// OnAck 确认单个序列号
// 未知或已确认的序列号返回 nil; wasFull 表示确认前窗口已满
func (w *SendWindow) OnAck(seq uint16) (p *BufferedPacket, wasFull bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !protocol.SeqnumInWindow(seq, w.base, int(w.nextSeq-w.base)) {
		w.ignoredAcks++
		return nil, false
	}

	p, ok := w.entries[seq]
	if !ok {
		w.ignoredAcks++
		return nil, false
	}

	wasFull = int(w.nextSeq-w.base) >= w.size
	delete(w.entries, seq)
	w.totalAcked++

	// 推进窗口基
	for w.base != w.nextSeq {
		if _, pending := w.entries[w.base]; pending {
			break
		}
		w.base++
	}

	return p, wasFull
}

// TakeResends 取出超时未确认的包, 最早到期的优先, 最多 limit 个
// 取出的包记为已重传
func (w *SendWindow) TakeResends(now time.Time, timeout time.Duration, limit int) []*BufferedPacket {
	if limit <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	due := w.dueLocked(now, timeout)
	if len(due) > limit {
		due = due[:limit]
	}
	for _, p := range due {
		w.markLocked(p, now)
	}
	return due
}

// DueResends 超时未确认的包, 最早到期的在前, 不修改状态
// 跨通道分配重传配额时先汇总再逐个 MarkResent
func (w *SendWindow) DueResends(now time.Time, timeout time.Duration) []*BufferedPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dueLocked(now, timeout)
}

// MarkResent 记为已重传, 包已被确认时返回 false
func (w *SendWindow) MarkResent(p *BufferedPacket, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cur, ok := w.entries[p.Seqnum]; !ok || cur != p {
		return false
	}
	w.markLocked(p, now)
	return true
}

func (w *SendWindow) dueLocked(now time.Time, timeout time.Duration) []*BufferedPacket {
	var due []*BufferedPacket
	for _, p := range w.entries {
		if now.Sub(p.SentTime) > timeout {
			due = append(due, p)
		}
	}
	sortOldestDue(due)
	return due
}

func (w *SendWindow) markLocked(p *BufferedPacket, now time.Time) {
	p.SentTime = now
	p.ResendCount++
	w.totalResent++
}

// sortOldestDue 按上次发送时间升序, 相同时序列号小的在前
func sortOldestDue(pkts []*BufferedPacket) {
	sort.SliceStable(pkts, func(i, j int) bool {
		if pkts[i].SentTime.Equal(pkts[j].SentTime) {
			return protocol.SeqnumHigher(pkts[j].Seqnum, pkts[i].Seqnum)
		}
		return pkts[i].SentTime.Before(pkts[j].SentTime)
	})
}

// Len 在途包数量
func (w *SendWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Occupation 窗口占用 (nextSeq - base)
func (w *SendWindow) Occupation() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return int(w.nextSeq - w.base)
}

// IsFull 窗口是否已满
func (w *SendWindow) IsFull() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return int(w.nextSeq-w.base) >= w.size
}

// Size 窗口大小
func (w *SendWindow) Size() int {
	return w.size
}

// NextSeqnum 下一个待分配的序列号
func (w *SendWindow) NextSeqnum() uint16 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.nextSeq
}

// Clear 丢弃所有在途包, 返回丢弃数量
func (w *SendWindow) Clear() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.entries)
	w.entries = make(map[uint16]*BufferedPacket)
	w.base = w.nextSeq
	return n
}

// GetStats 获取统计
func (w *SendWindow) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"window_size":    w.size,
		"in_flight":      len(w.entries),
		"occupation":     int(w.nextSeq - w.base),
		"max_occupation": w.maxOccupation,
		"base":           w.base,
		"next_seq":       w.nextSeq,
		"total_sent":     w.totalSent,
		"total_resent":   w.totalResent,
		"total_acked":    w.totalAcked,
		"ignored_acks":   w.ignoredAcks,
	}
}
