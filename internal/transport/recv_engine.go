// =============================================================================
// 文件: internal/transport/recv_engine.go
// 描述: 可靠 UDP 传输 - 接收引擎 (解码/peer 解析/帧分发/超时扫描)
// =============================================================================
package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

// recvLoop 接收引擎主循环
func (c *Connection) recvLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-c.bound:
	}

	s := c.sock.Load()
	buf := make([]byte, 65535)
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, addr, err := s.readFrom(buf)
		now := time.Now()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.log(2, "读取失败: %v", err)
		} else if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.metrics.RecordPacketReceived(n)
			c.handleDatagram(data, addr, now)
		}

		if now.Sub(lastSweep) >= c.cfg.SweepInterval {
			c.sweep(now)
			lastSweep = now
		}
	}
}

// handleDatagram 处理单个数据报
func (c *Connection) handleDatagram(data []byte, addr net.Addr, now time.Time) {
	pkt, err := protocol.Decode(data, c.cfg.ProtocolID)
	if err != nil {
		reason := DropMalformed
		if errors.Is(err, protocol.ErrProtocolMismatch) {
			reason = DropProtocolMismatch
		}
		c.drop(reason, "来自 %s: %v", addr, err)
		return
	}

	p := c.resolvePeer(pkt, addr)
	if p == nil {
		return
	}
	p.touch(now)

	if c.role.Load() == roleServer && pkt.PeerID == p.id && p.promote() {
		c.log(2, "peer %d 已完全打开", p.id)
	}

	ch := p.Channel(pkt.Channel)
	if !pkt.Reliable {
		c.logResult(p, ch, c.dispatch(p, ch, pkt.Frame, false, now))
		return
	}

	status := ch.reorder.Insert(pkt.Seqnum, pkt.Frame)
	switch status {
	case ReorderReady:
		for _, f := range ch.reorder.ReadOrdered() {
			c.logResult(p, ch, c.dispatch(p, ch, f, true, now))
		}
	case ReorderBuffered:
		c.log(2, "乱序缓存: peer=%d ch=%d seq=%d expected=%d",
			p.id, ch.index, pkt.Seqnum, ch.reorder.Expected())
	case ReorderDuplicate:
		c.metrics.RecordDrop(DropDuplicate)
	case ReorderOutOfWindow:
		c.drop(DropOutOfWindow, "peer=%d ch=%d seq=%d 超出接收窗口", p.id, ch.index, pkt.Seqnum)
	}

	// 重复包同样确认, 对端的 ACK 可能丢了
	if status.ShouldAck() && !p.IsClosed() {
		_ = c.sendFrame(p, ch.index, protocol.AckFrame(pkt.Seqnum))
	}
}

// resolvePeer 根据头部 peer ID 和来源地址找到 peer, 服务器端为新地址创建半开 peer
func (c *Connection) resolvePeer(pkt *protocol.Packet, addr net.Addr) *Peer {
	switch c.role.Load() {
	case roleServer:
		if pkt.PeerID == protocol.PeerIDNil {
			if p := c.registry.LookupAddr(addr); p != nil {
				return p
			}
			// 游离的 ACK/PING/DISCONNECT 不建立新 peer
			if !pkt.Reliable && pkt.Frame.Type == protocol.PacketTypeControl {
				c.drop(DropUnknownPeer, "未知地址 %s 的控制包 %s", addr, pkt.Frame.Control)
				return nil
			}
			return c.acceptPeer(addr)
		}
		p := c.registry.Lookup(pkt.PeerID)
		if p == nil {
			c.drop(DropUnknownPeer, "未知 peer %d 来自 %s", pkt.PeerID, addr)
			return nil
		}
		if p.addr.String() != addr.String() {
			c.drop(DropAddressMismatch, "peer %d 地址不符: %s != %s", pkt.PeerID, addr, p.addr)
			return nil
		}
		return p

	case roleClient:
		if pkt.PeerID != protocol.PeerIDServer {
			c.drop(DropUnknownPeer, "非服务器 peer %d 来自 %s", pkt.PeerID, addr)
			return nil
		}
		p := c.registry.Lookup(protocol.PeerIDServer)
		if p == nil {
			c.drop(DropUnknownPeer, "服务器 peer 不存在")
			return nil
		}
		if p.addr.String() != addr.String() {
			c.drop(DropAddressMismatch, "服务器地址不符: %s != %s", addr, p.addr)
			return nil
		}
		return p
	}
	return nil
}

// acceptPeer 服务器端: 创建半开 peer, 发出 PeerAdded, 可靠地下发 SET_PEER_ID
func (c *Connection) acceptPeer(addr net.Addr) *Peer {
	p, err := c.registry.Create(addr)
	if err != nil {
		c.drop(DropPeerIDExhausted, "拒绝 %s: %v", addr, err)
		return nil
	}

	// 先入队 SET_PEER_ID, 回调里的 Send 只能排在它之后
	c.commands.Push(ConnectionCommand{
		Type:     CommandSend,
		PeerID:   p.id,
		Channel:  0,
		Reliable: true,
		frame:    protocol.SetPeerIDFrame(p.id),
	})
	c.metrics.RecordPeerAdded()
	c.emit(ConnectionEvent{Type: EventPeerAdded, PeerID: p.id, Address: addr})
	c.log(1, "新 peer %d: %s", p.id, addr)
	return p
}

// dispatch 处理一个已按序的帧
func (c *Connection) dispatch(p *Peer, ch *Channel, f *protocol.Frame, reliable bool, now time.Time) DispatchResult {
	switch f.Type {
	case protocol.PacketTypeControl:
		return c.dispatchControl(p, ch, f, now)

	case protocol.PacketTypeOriginal:
		if len(f.Data) == 0 {
			return handled("握手")
		}
		c.deliver(p, ch.index, f.Data)
		return delivered(f.Data)

	case protocol.PacketTypeSplit:
		data, status := ch.reassembler.Feed(f, reliable, now)
		switch status {
		case FeedComplete:
			c.deliver(p, ch.index, data)
			return delivered(data)
		case FeedPartial:
			return buffered("分片未齐")
		case FeedDuplicate:
			c.metrics.RecordDrop(DropDuplicate)
			return dropped("重复分片 split=%d idx=%d", f.SplitSeqnum, f.ChunkIndex)
		default:
			c.metrics.RecordDrop(DropSplit)
			return dropped("分片无效 split=%d count=%d", f.SplitSeqnum, f.ChunkCount)
		}
	}
	return dropped("未知帧类型 %s", f.Type)
}

func (c *Connection) dispatchControl(p *Peer, ch *Channel, f *protocol.Frame, now time.Time) DispatchResult {
	switch f.Control {
	case protocol.ControlAck:
		pkt, wasFull := ch.window.OnAck(f.AckSeqnum)
		if pkt == nil {
			c.metrics.RecordDrop(DropUnknownAck)
			return dropped("未知 ACK seq=%d", f.AckSeqnum)
		}
		// 重传过的包无法判断 ACK 对应哪一次发送, 不采样
		if pkt.ResendCount == 0 {
			p.loss.OnPacketAcked()
			sample := now.Sub(pkt.FirstSent)
			p.rtt.Update(sample)
			c.metrics.RecordAckRTT(sample)
		}
		if wasFull {
			c.notifyWindowFreed()
		}
		return handled("ack")

	case protocol.ControlSetPeerID:
		if c.role.Load() != roleClient || p.id != protocol.PeerIDServer {
			return dropped("非客户端收到 SET_PEER_ID")
		}
		c.ownID.Store(uint32(f.NewPeerID))
		if p.promote() {
			c.connected.Store(true)
			c.metrics.RecordPeerAdded()
			c.emit(ConnectionEvent{Type: EventPeerAdded, PeerID: p.id, Address: p.addr})
			c.log(1, "已连接服务器 %s, 本端 ID=%d", p.addr, f.NewPeerID)
		}
		return handled("set_peer_id")

	case protocol.ControlPing:
		return handled("ping")

	case protocol.ControlDisconnect:
		c.removePeer(p, false, "对端断开")
		return handled("disconnect")
	}
	return dropped("未知控制类型 %s", f.Control)
}

func (c *Connection) deliver(p *Peer, channel uint8, data []byte) {
	atomic.AddUint64(&c.delivered, 1)
	c.metrics.RecordDelivered(channel, len(data))
	c.emit(ConnectionEvent{
		Type:    EventDataReceived,
		PeerID:  p.id,
		Address: p.addr,
		Channel: channel,
		Data:    data,
	})
}

func (c *Connection) logResult(p *Peer, ch *Channel, r DispatchResult) {
	if r.Kind == DispatchDropped || r.Kind == DispatchBuffered {
		c.log(2, "peer=%d ch=%d %s: %s", p.id, ch.index, r.Kind, r.Reason)
	}
}

// drop 记录丢弃的数据报
func (c *Connection) drop(reason string, format string, args ...interface{}) {
	atomic.AddUint64(&c.dropped, 1)
	c.metrics.RecordDrop(reason)
	if c.logger.Enabled(2) {
		c.log(2, "丢弃 [%s] "+format, append([]interface{}{reason}, args...)...)
	}
}

// =============================================================================
// 超时扫描
// =============================================================================

// sweep 超时移除、空闲 ping、过期分片清理
func (c *Connection) sweep(now time.Time) {
	client := c.role.Load() == roleClient

	for _, p := range c.registry.Peers() {
		// 客户端握手阶段由连接超时负责
		if !(client && p.State() == PeerHalfOpen) && p.timedOut(now, c.cfg.Timeout) {
			c.removePeer(p, true, "超时")
			continue
		}

		if p.needsPing(now, c.cfg.PingInterval) {
			if err := c.sendFrame(p, 0, protocol.PingFrame()); err == nil {
				p.markPinged(now)
			}
		}

		for _, ch := range p.channels {
			if n := ch.reassembler.Sweep(now); n > 0 {
				c.log(2, "peer=%d ch=%d 清理 %d 个过期分片组", p.id, ch.index, n)
			}
		}
	}
}
