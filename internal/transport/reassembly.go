// =============================================================================
// 文件: internal/transport/reassembly.go
// 描述: 可靠 UDP 传输 - 分片重组
// =============================================================================
package transport

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mrcgq/rudp/internal/protocol"
)

const (
	// 已完成分片过滤器参数
	completedBloomItems         = 4096
	completedBloomFalsePositive = 0.0001
)

// splitEntry 未完成的分片组
type splitEntry struct {
	chunkCount uint16
	chunks     [][]byte
	received   int
	reliable   bool
	updated    time.Time
}

// FeedStatus 分片输入结果
type FeedStatus uint8

const (
	// FeedComplete 分片组已完整
	FeedComplete FeedStatus = iota
	// FeedPartial 已记录, 等待其余分片
	FeedPartial
	// FeedDuplicate 重复分片
	FeedDuplicate
	// FeedRejected 分片数不一致或超限
	FeedRejected
)

// Reassembler 单通道的分片重组表
// 不可靠分片组超时后被清理; 最近完成的不可靠分片组号记录在两段轮换的布隆过滤器中,
// 迟到的重复分片不会再开启新的分片组
type Reassembler struct {
	entries   map[uint16]*splitEntry
	maxChunks int
	timeout   time.Duration

	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	rotateAt time.Time

	// 统计
	totalCompleted uint64
	totalExpired   uint64
	totalRejected  uint64

	mu sync.Mutex
}

// NewReassembler 创建重组表
func NewReassembler(maxChunks int, timeout time.Duration) *Reassembler {
	return &Reassembler{
		entries:   make(map[uint16]*splitEntry),
		maxChunks: maxChunks,
		timeout:   timeout,
		current:   bloom.NewWithEstimates(completedBloomItems, completedBloomFalsePositive),
		previous:  bloom.NewWithEstimates(completedBloomItems, completedBloomFalsePositive),
		rotateAt:  time.Now().Add(timeout),
	}
}

// Feed 输入一个分片, 完整时返回按索引拼接的负载
func (r *Reassembler) Feed(f *protocol.Frame, reliable bool, now time.Time) ([]byte, FeedStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(f.ChunkCount) > r.maxChunks || f.ChunkIndex >= f.ChunkCount {
		r.totalRejected++
		return nil, FeedRejected
	}

	entry, ok := r.entries[f.SplitSeqnum]
	if !ok {
		if !reliable && r.recentlyCompleted(f.SplitSeqnum) {
			return nil, FeedDuplicate
		}
		entry = &splitEntry{
			chunkCount: f.ChunkCount,
			chunks:     make([][]byte, f.ChunkCount),
			reliable:   reliable,
		}
		r.entries[f.SplitSeqnum] = entry
	}

	if entry.chunkCount != f.ChunkCount {
		r.totalRejected++
		return nil, FeedRejected
	}
	if entry.chunks[f.ChunkIndex] != nil {
		return nil, FeedDuplicate
	}

	chunk := make([]byte, len(f.Data))
	copy(chunk, f.Data)
	entry.chunks[f.ChunkIndex] = chunk
	entry.received++
	entry.updated = now
	// 可靠分片一旦出现, 整组不再超时清理
	if reliable {
		entry.reliable = true
	}

	if entry.received < int(entry.chunkCount) {
		return nil, FeedPartial
	}

	delete(r.entries, f.SplitSeqnum)
	r.totalCompleted++
	if !entry.reliable {
		r.markCompleted(f.SplitSeqnum)
	}

	size := 0
	for _, c := range entry.chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range entry.chunks {
		data = append(data, c...)
	}
	return data, FeedComplete
}

// Sweep 清理超时的不可靠分片组, 并按需轮换过滤器
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for seq, e := range r.entries {
		if !e.reliable && now.Sub(e.updated) > r.timeout {
			delete(r.entries, seq)
			removed++
		}
	}
	r.totalExpired += uint64(removed)

	if now.After(r.rotateAt) {
		r.previous, r.current = r.current, r.previous
		r.current.ClearAll()
		r.rotateAt = now.Add(r.timeout)
	}
	return removed
}

// Pending 未完成的分片组数量
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear 清空
func (r *Reassembler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[uint16]*splitEntry)
}

func (r *Reassembler) recentlyCompleted(seq uint16) bool {
	key := splitKey(seq)
	return r.current.Test(key) || r.previous.Test(key)
}

func (r *Reassembler) markCompleted(seq uint16) {
	r.current.Add(splitKey(seq))
}

func splitKey(seq uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], seq)
	return b[:]
}

// GetStats 获取统计
func (r *Reassembler) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]interface{}{
		"pending":         len(r.entries),
		"total_completed": r.totalCompleted,
		"total_expired":   r.totalExpired,
		"total_rejected":  r.totalRejected,
	}
}
