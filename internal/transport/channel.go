// =============================================================================
// 文件: internal/transport/channel.go
// 描述: 可靠 UDP 传输 - 逻辑通道状态
// =============================================================================
package transport

import (
	"sync"

	"github.com/mrcgq/rudp/internal/protocol"
)

// Channel 单个逻辑通道
// 发送窗口只在发送引擎中增长, 重排缓冲区只在接收引擎中修改
type Channel struct {
	index uint8

	window      *SendWindow
	reorder     *ReorderBuffer
	reassembler *Reassembler

	// 等待窗口空位的可靠内层帧
	pending      [][]byte
	nextSplitSeq uint16

	mu sync.Mutex
}

func newChannel(index uint8, cfg ConnConfig) *Channel {
	return &Channel{
		index:        index,
		window:       NewSendWindow(cfg.WindowSize, protocol.SeqnumInitial),
		reorder:      NewReorderBuffer(cfg.WindowSize, protocol.SeqnumInitial),
		reassembler:  NewReassembler(cfg.MaxSplitChunks, cfg.SplitTimeout),
		nextSplitSeq: protocol.SeqnumInitial,
	}
}

// Index 通道号
func (ch *Channel) Index() uint8 { return ch.index }

// Window 发送窗口
func (ch *Channel) Window() *SendWindow { return ch.window }

// Reorder 重排缓冲区
func (ch *Channel) Reorder() *ReorderBuffer { return ch.reorder }

// Reassembler 分片重组表
func (ch *Channel) Reassembler() *Reassembler { return ch.reassembler }

// allocSplitSeq 分配分片组号
func (ch *Channel) allocSplitSeq() uint16 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	seq := ch.nextSplitSeq
	ch.nextSplitSeq++
	return seq
}

// enqueue 追加等待发送的可靠帧
func (ch *Channel) enqueue(frames ...[]byte) {
	ch.mu.Lock()
	ch.pending = append(ch.pending, frames...)
	ch.mu.Unlock()
}

// popPending 取出队首帧
func (ch *Channel) popPending() ([]byte, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.pending) == 0 {
		return nil, false
	}
	f := ch.pending[0]
	ch.pending[0] = nil
	ch.pending = ch.pending[1:]
	return f, true
}

// unpop 窗口已满时把帧放回队首
func (ch *Channel) unpop(f []byte) {
	ch.mu.Lock()
	ch.pending = append([][]byte{f}, ch.pending...)
	ch.mu.Unlock()
}

// PendingLen 排队中的可靠帧数量
func (ch *Channel) PendingLen() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

// clear 丢弃全部在途和排队数据
func (ch *Channel) clear() int {
	ch.mu.Lock()
	n := len(ch.pending)
	ch.pending = nil
	ch.mu.Unlock()

	n += ch.window.Clear()
	ch.reorder.Clear()
	ch.reassembler.Clear()
	return n
}
