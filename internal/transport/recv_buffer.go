// =============================================================================
// 文件: internal/transport/recv_buffer.go
// 描述: 可靠 UDP 传输 - 接收重排缓冲区
// =============================================================================
package transport

import (
	"sync"

	"github.com/mrcgq/rudp/internal/protocol"
)

// ReorderStatus 插入结果
type ReorderStatus uint8

const (
	// ReorderReady 正是期望的序列号, 可以按序读取
	ReorderReady ReorderStatus = iota
	// ReorderBuffered 超前但在窗口内, 已缓存
	ReorderBuffered
	// ReorderDuplicate 已交付或已缓存过
	ReorderDuplicate
	// ReorderOutOfWindow 超前过多, 丢弃
	ReorderOutOfWindow
)

func (s ReorderStatus) String() string {
	switch s {
	case ReorderReady:
		return "READY"
	case ReorderBuffered:
		return "BUFFERED"
	case ReorderDuplicate:
		return "DUPLICATE"
	case ReorderOutOfWindow:
		return "OUT_OF_WINDOW"
	default:
		return "UNKNOWN"
	}
}

// ShouldAck 是否需要回 ACK
func (s ReorderStatus) ShouldAck() bool {
	return s != ReorderOutOfWindow
}

// ReorderBuffer 接收重排缓冲区
type ReorderBuffer struct {
	entries  map[uint16]*protocol.Frame
	size     int
	expected uint16

	// 统计
	totalReceived   uint64
	totalDelivered  uint64
	totalDuplicate  uint64
	totalOutOfOrder uint64
	totalDropped    uint64

	mu sync.Mutex
}

// NewReorderBuffer 创建重排缓冲区
func NewReorderBuffer(size int, initialSeq uint16) *ReorderBuffer {
	if size < 1 {
		size = 1
	}
	if size > protocol.MaxReliableWindow {
		size = protocol.MaxReliableWindow
	}
	return &ReorderBuffer{
		entries:  make(map[uint16]*protocol.Frame),
		size:     size,
		expected: initialSeq,
	}
}

// Insert 插入一个可靠帧
func (b *ReorderBuffer) Insert(seq uint16, f *protocol.Frame) ReorderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 落后于期望值: 已交付过
	if protocol.SeqnumHigher(b.expected, seq) {
		b.totalDuplicate++
		return ReorderDuplicate
	}

	if !protocol.SeqnumInWindow(seq, b.expected, b.size) {
		b.totalDropped++
		return ReorderOutOfWindow
	}

	if _, exists := b.entries[seq]; exists {
		b.totalDuplicate++
		return ReorderDuplicate
	}

	b.entries[seq] = f
	b.totalReceived++

	if seq != b.expected {
		b.totalOutOfOrder++
		return ReorderBuffered
	}
	return ReorderReady
}

// ReadOrdered 按序取出从期望值开始的连续帧
func (b *ReorderBuffer) ReadOrdered() []*protocol.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []*protocol.Frame
	for {
		f, ok := b.entries[b.expected]
		if !ok {
			break
		}
		result = append(result, f)
		delete(b.entries, b.expected)
		b.expected++
		b.totalDelivered++
	}
	return result
}

// Expected 期望的下一个序列号
func (b *ReorderBuffer) Expected() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expected
}

// Buffered 已缓存的乱序帧数量
func (b *ReorderBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// HasGaps 是否存在空洞
func (b *ReorderBuffer) HasGaps() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) > 0
}

// Clear 清空
func (b *ReorderBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[uint16]*protocol.Frame)
}

// GetStats 获取统计
func (b *ReorderBuffer) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"expected":           b.expected,
		"buffered":           len(b.entries),
		"total_received":     b.totalReceived,
		"total_delivered":    b.totalDelivered,
		"total_duplicate":    b.totalDuplicate,
		"total_out_of_order": b.totalOutOfOrder,
		"total_dropped":      b.totalDropped,
	}
}
