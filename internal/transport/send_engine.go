// =============================================================================
// 文件: internal/transport/send_engine.go
// 描述: 可靠 UDP 传输 - 发送引擎 (重传/命令处理/窗口冲刷)
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

// sendLoop 发送引擎主循环
func (c *Connection) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushOnShutdown()
			return nil
		default:
		}

		c.runSendIteration(time.Now())

		select {
		case <-ctx.Done():
		case <-c.commands.Signal():
		case <-c.windowFreed:
		case <-ticker.C:
		}
	}
}

// runSendIteration 一轮: 超时重传 -> 处理命令 -> 冲刷排队的可靠帧 -> 连接超时检查
func (c *Connection) runSendIteration(now time.Time) {
	c.resendTimedOut(now)
	c.processCommands(now)
	c.flushPending()
	c.checkConnectTimeout(now)
}

// flushOnShutdown 退出前发出已入队的数据
func (c *Connection) flushOnShutdown() {
	if c.sock.Load() == nil {
		return
	}
	for _, cmd := range c.commands.Drain() {
		if cmd.Type == CommandSend || cmd.Type == CommandSendToAll {
			c.handleCommand(cmd, time.Now())
		}
	}
	c.flushPending()
}

// =============================================================================
// 重传
// =============================================================================

// resendTimedOut 按 peer 平分重传预算, 每个 peer 的所有通道合并后最早到期的先重传
func (c *Connection) resendTimedOut(now time.Time) {
	peers := c.registry.Peers()
	if len(peers) == 0 {
		return
	}

	quota := c.cfg.ResendBudget / len(peers)
	if quota < 1 {
		quota = 1
	}

	for _, p := range peers {
		timeout := p.rtt.GetResendTimeout()
		for _, r := range p.dueResends(now, timeout, quota) {
			if !r.ch.window.MarkResent(r.pkt, now) {
				// 期间已被确认
				continue
			}
			p.loss.OnPacketLost()
			if err := c.writeTo(p, r.pkt.Data); err != nil {
				continue
			}
			atomic.AddUint64(&c.retransmits, 1)
			c.metrics.RecordRetransmit(r.ch.index)
			c.log(2, "重传: peer=%d ch=%d seq=%d 第 %d 次 (rto=%v)",
				p.id, r.ch.index, r.pkt.Seqnum, r.pkt.ResendCount, timeout)
		}
	}
}

type resendItem struct {
	ch  *Channel
	pkt *BufferedPacket
}

// dueResends 汇总各通道到期的包, 按上次发送时间合并后取前 limit 个
func (p *Peer) dueResends(now time.Time, timeout time.Duration, limit int) []resendItem {
	var due []resendItem
	for _, ch := range p.channels {
		for _, pkt := range ch.window.DueResends(now, timeout) {
			due = append(due, resendItem{ch: ch, pkt: pkt})
		}
	}

	// 通道内已有序, 稳定排序保证同一时刻按通道号
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].pkt.SentTime.Before(due[j].pkt.SentTime)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

// =============================================================================
// 命令处理
// =============================================================================

func (c *Connection) processCommands(now time.Time) {
	for _, cmd := range c.commands.Drain() {
		c.handleCommand(cmd, now)
	}
}

func (c *Connection) handleCommand(cmd ConnectionCommand, now time.Time) {
	switch cmd.Type {
	case CommandServe:
		c.serve(cmd.Address)

	case CommandConnect:
		c.connect(cmd.Address, now)

	case CommandDisconnect:
		for _, p := range c.registry.Peers() {
			c.disconnectPeer(p)
		}

	case CommandDisconnectPeer:
		if p := c.registry.Lookup(cmd.PeerID); p != nil {
			c.disconnectPeer(p)
		} else {
			c.log(2, "断开失败: %v: %d", ErrPeerNotFound, cmd.PeerID)
		}

	case CommandDeletePeer:
		if p := c.registry.Lookup(cmd.PeerID); p != nil {
			c.removePeer(p, false, "本地删除")
		}

	case CommandSend:
		p := c.registry.Lookup(cmd.PeerID)
		if p == nil {
			c.log(2, "发送失败: %v: %d", ErrPeerNotFound, cmd.PeerID)
			return
		}
		c.queueData(p, cmd)

	case CommandSendToAll:
		for _, p := range c.registry.Peers() {
			c.queueData(p, cmd)
		}
	}
}

// serve 绑定监听地址
func (c *Connection) serve(addr string) {
	s, err := c.bind(addr, roleServer)
	if err != nil {
		c.log(0, "监听 %s 失败: %v", addr, err)
		c.emit(ConnectionEvent{Type: EventBindFailed, Err: err})
		return
	}
	c.log(1, "服务已启动: %s", s.localAddr())
}

// connect 绑定本地端口, 登记服务器并发送握手
func (c *Connection) connect(addr string, now time.Time) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		c.emit(ConnectionEvent{Type: EventConnectFailed, Err: fmt.Errorf("解析地址: %w", err)})
		return
	}

	if _, err := c.bind(":0", roleClient); err != nil {
		c.log(0, "连接 %s 失败: %v", addr, err)
		c.emit(ConnectionEvent{Type: EventConnectFailed, Err: err})
		return
	}

	p, err := c.registry.Add(protocol.PeerIDServer, raddr)
	if err != nil {
		c.emit(ConnectionEvent{Type: EventConnectFailed, Err: err})
		return
	}

	// 握手: 通道 0 上的空可靠包, 由发送窗口负责重传
	p.channels[0].enqueue(protocol.OriginalFrame(nil))
	c.connectDeadline = now.Add(c.cfg.ConnectTimeout)
	c.log(1, "正在连接服务器: %s", raddr)
}

// checkConnectTimeout 握手超时后放弃连接
func (c *Connection) checkConnectTimeout(now time.Time) {
	if c.connectDeadline.IsZero() {
		return
	}
	if c.connected.Load() {
		c.connectDeadline = time.Time{}
		return
	}
	if now.Before(c.connectDeadline) {
		return
	}

	c.connectDeadline = time.Time{}
	if p, ok := c.registry.Remove(protocol.PeerIDServer); ok {
		p.close()
	}
	c.log(0, "连接超时: %v 内未收到 peer ID", c.cfg.ConnectTimeout)
	c.emit(ConnectionEvent{
		Type: EventConnectFailed,
		Err:  fmt.Errorf("%v 内未收到服务器分配的 peer ID", c.cfg.ConnectTimeout),
	})
}

func (c *Connection) disconnectPeer(p *Peer) {
	_ = c.sendFrame(p, 0, protocol.DisconnectFrame())
	c.removePeer(p, false, "主动断开")
}

// queueData 组帧: 超出单包上限时分片; 可靠帧进入通道排队, 不可靠帧立即发送
func (c *Connection) queueData(p *Peer, cmd ConnectionCommand) {
	ch := p.Channel(cmd.Channel)
	if ch == nil || p.IsClosed() {
		return
	}

	var frames [][]byte
	switch {
	case cmd.frame != nil:
		frames = [][]byte{cmd.frame}
	case protocol.NeedsSplit(len(cmd.Data), c.cfg.MaxPacketSize):
		var err error
		frames, err = protocol.SplitPayload(cmd.Data, ch.allocSplitSeq(), protocol.MaxSplitChunk(c.cfg.MaxPacketSize))
		if err != nil {
			c.log(0, "分片失败: peer=%d: %v", p.id, err)
			return
		}
	default:
		frames = [][]byte{protocol.OriginalFrame(cmd.Data)}
	}

	if cmd.Reliable {
		ch.enqueue(frames...)
		return
	}
	for _, f := range frames {
		_ = c.sendFrame(p, cmd.Channel, f)
	}
}

// flushPending 在窗口允许的范围内发出排队的可靠帧
func (c *Connection) flushPending() {
	for _, p := range c.registry.Peers() {
		if p.IsClosed() {
			continue
		}
		for _, ch := range p.channels {
			c.flushChannel(p, ch)
		}
	}
}

func (c *Connection) flushChannel(p *Peer, ch *Channel) {
	for !ch.window.IsFull() {
		frame, ok := ch.popPending()
		if !ok {
			return
		}

		pkt, ok := ch.window.Add(p.addr, func(seq uint16) []byte {
			return protocol.EncodePacket(c.cfg.ProtocolID, c.localPeerID(), ch.index,
				protocol.ReliableFrame(seq, frame))
		})
		if !ok {
			ch.unpop(frame)
			return
		}
		_ = c.writeTo(p, pkt.Data)
	}
}

// =============================================================================
// 底层发送
// =============================================================================

// sendFrame 不可靠发送一帧
func (c *Connection) sendFrame(p *Peer, channel uint8, frame []byte) error {
	return c.writeTo(p, protocol.EncodePacket(c.cfg.ProtocolID, c.localPeerID(), channel, frame))
}

func (c *Connection) writeTo(p *Peer, data []byte) error {
	s := c.sock.Load()
	if s == nil {
		return ErrNotBound
	}
	if err := s.writeTo(data, p.addr); err != nil {
		c.log(0, "发送失败: peer=%d addr=%s: %v", p.id, p.addr, err)
		return err
	}
	p.markSent(time.Now())
	c.metrics.RecordPacketSent(len(data))
	return nil
}
