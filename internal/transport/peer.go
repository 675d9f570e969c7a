// =============================================================================
// 文件: internal/transport/peer.go
// 描述: 可靠 UDP 传输 - peer 状态
// =============================================================================
package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/mrcgq/rudp/internal/congestion"
	"github.com/mrcgq/rudp/internal/protocol"
)

// PeerState peer 连接状态
type PeerState int32

const (
	// PeerHalfOpen 已创建, 对端尚未确认分配的 ID
	PeerHalfOpen PeerState = iota
	// PeerFullyOpen 对端已使用分配的 ID
	PeerFullyOpen
)

func (s PeerState) String() string {
	switch s {
	case PeerHalfOpen:
		return "HALF_OPEN"
	case PeerFullyOpen:
		return "FULLY_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Peer 远端
type Peer struct {
	id       protocol.PeerID
	addr     net.Addr
	channels [protocol.ChannelCount]*Channel
	rtt      *congestion.RTTEstimator
	loss     *congestion.LossEstimator

	state     atomic.Int32
	createdAt time.Time

	// UnixNano 时间戳
	lastActivity atomic.Int64
	lastSend     atomic.Int64
	lastPing     atomic.Int64

	closed atomic.Bool
}

func newPeer(id protocol.PeerID, addr net.Addr, cfg ConnConfig) *Peer {
	now := time.Now()
	p := &Peer{
		id:        id,
		addr:      addr,
		rtt:       congestion.NewRTTEstimator(cfg.rttConfig()),
		loss:      congestion.NewLossEstimator(),
		createdAt: now,
	}
	for i := range p.channels {
		p.channels[i] = newChannel(uint8(i), cfg)
	}
	p.lastActivity.Store(now.UnixNano())
	p.lastSend.Store(now.UnixNano())
	p.lastPing.Store(now.UnixNano())
	return p
}

// ID peer ID
func (p *Peer) ID() protocol.PeerID { return p.id }

// Address 对端地址
func (p *Peer) Address() net.Addr { return p.addr }

// Channel 按通道号取通道
func (p *Peer) Channel(i uint8) *Channel {
	if int(i) >= len(p.channels) {
		return nil
	}
	return p.channels[i]
}

// RTT RTT 估算器
func (p *Peer) RTT() *congestion.RTTEstimator { return p.rtt }

// Loss 丢包率估算器
func (p *Peer) Loss() *congestion.LossEstimator { return p.loss }

// State 当前状态
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// promote 半开 -> 全开, 返回是否发生了状态变化
func (p *Peer) promote() bool {
	return p.state.CompareAndSwap(int32(PeerHalfOpen), int32(PeerFullyOpen))
}

// CreatedAt 创建时间
func (p *Peer) CreatedAt() time.Time { return p.createdAt }

// LastActivity 最近一次收到数据的时间
func (p *Peer) LastActivity() time.Time { return time.Unix(0, p.lastActivity.Load()) }

func (p *Peer) touch(now time.Time) { p.lastActivity.Store(now.UnixNano()) }

func (p *Peer) markSent(now time.Time) { p.lastSend.Store(now.UnixNano()) }

// needsPing 距离上次发送和上次 ping 都已超过 interval
func (p *Peer) needsPing(now time.Time, interval time.Duration) bool {
	return now.Sub(time.Unix(0, p.lastSend.Load())) >= interval &&
		now.Sub(time.Unix(0, p.lastPing.Load())) >= interval
}

func (p *Peer) markPinged(now time.Time) { p.lastPing.Store(now.UnixNano()) }

// timedOut 超过 timeout 未收到任何数据
func (p *Peer) timedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastActivity()) > timeout
}

// close 标记关闭并丢弃所有缓存, 返回丢弃的可靠包数量
func (p *Peer) close() int {
	if !p.closed.CompareAndSwap(false, true) {
		return 0
	}
	n := 0
	for _, ch := range p.channels {
		n += ch.clear()
	}
	return n
}

// IsClosed 是否已关闭
func (p *Peer) IsClosed() bool { return p.closed.Load() }

// InFlight 所有通道在途可靠包数量
func (p *Peer) InFlight() int {
	n := 0
	for _, ch := range p.channels {
		n += ch.window.Len()
	}
	return n
}

// GetStats 获取统计
func (p *Peer) GetStats() map[string]interface{} {
	channels := make([]map[string]interface{}, 0, len(p.channels))
	for _, ch := range p.channels {
		channels = append(channels, map[string]interface{}{
			"index":       ch.Index(),
			"window":      ch.Window().GetStats(),
			"reorder":     ch.Reorder().GetStats(),
			"reassembler": ch.Reassembler().GetStats(),
			"pending":     ch.PendingLen(),
		})
	}
	return map[string]interface{}{
		"id":            p.id,
		"address":       p.addr.String(),
		"state":         p.State().String(),
		"rtt":           p.rtt.GetStats(),
		"loss":          p.loss.GetStats(),
		"last_activity": p.LastActivity(),
		"channels":      channels,
	}
}
