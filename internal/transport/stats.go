// =============================================================================
// 文件: internal/transport/stats.go
// 描述: 可靠 UDP 传输 - 连接统计
// =============================================================================
package transport

import (
	"sync/atomic"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

// Stats 连接级统计
type Stats struct {
	Peers           int
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	WriteErrors     uint64
	Retransmits     uint64
	Dropped         uint64
	Delivered       uint64
	PendingCommands int
	PendingEvents   int
}

// PeerStats 单个 peer 的统计
type PeerStats struct {
	ID            protocol.PeerID
	Address       string
	State         PeerState
	RTT           time.Duration
	ResendTimeout time.Duration
	Jitter        time.Duration
	LossRate      float64
	InFlight      int
	Queued        int
	LastActivity  time.Time
}

// Stats 获取连接统计
func (c *Connection) Stats() Stats {
	st := Stats{
		Peers:           c.registry.Len(),
		Retransmits:     atomic.LoadUint64(&c.retransmits),
		Dropped:         atomic.LoadUint64(&c.dropped),
		Delivered:       atomic.LoadUint64(&c.delivered),
		PendingCommands: c.commands.Len(),
		PendingEvents:   c.events.Len(),
	}
	if s := c.sock.Load(); s != nil {
		ss := s.getStats()
		st.PacketsSent = ss["packets_sent"]
		st.PacketsReceived = ss["packets_recv"]
		st.BytesSent = ss["bytes_sent"]
		st.BytesReceived = ss["bytes_recv"]
		st.WriteErrors = ss["write_errors"]
	}
	return st
}

// PeerStats 获取所有 peer 的统计 (按 ID 升序)
func (c *Connection) PeerStats() []PeerStats {
	ids := c.registry.IDs()
	out := make([]PeerStats, 0, len(ids))
	for _, id := range ids {
		p := c.registry.Lookup(id)
		if p == nil {
			continue
		}
		queued := 0
		for _, ch := range p.channels {
			queued += ch.PendingLen()
		}
		out = append(out, PeerStats{
			ID:            p.id,
			Address:       p.addr.String(),
			State:         p.State(),
			RTT:           p.rtt.GetSmoothedRTT(),
			ResendTimeout: p.rtt.GetResendTimeout(),
			Jitter:        p.rtt.GetJitter(),
			LossRate:      p.loss.GetLossRate(),
			InFlight:      p.InFlight(),
			Queued:        queued,
			LastActivity:  p.LastActivity(),
		})
	}
	return out
}

// GetStats 获取统计信息 (调试输出用)
func (c *Connection) GetStats() map[string]interface{} {
	peers := make(map[protocol.PeerID]interface{})
	c.registry.Range(func(p *Peer) bool {
		peers[p.id] = p.GetStats()
		return true
	})

	stats := map[string]interface{}{
		"role":      c.roleName(),
		"peer_id":   c.localPeerID(),
		"connected": c.connected.Load(),
		"registry":  c.registry.GetStats(),
		"peers":     peers,
		"summary":   c.Stats(),
	}
	if s := c.sock.Load(); s != nil {
		stats["socket"] = s.getStats()
		stats["local_addr"] = s.localAddr().String()
	}
	return stats
}

func (c *Connection) roleName() string {
	switch c.role.Load() {
	case roleServer:
		return "server"
	case roleClient:
		return "client"
	default:
		return "idle"
	}
}
