// =============================================================================
// 文件: internal/transport/connection.go
// 描述: 可靠 UDP 传输 - 连接门面 (命令入队/事件出队/生命周期)
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/rudp/internal/logging"
	"github.com/mrcgq/rudp/internal/protocol"
)

// 端点角色
const (
	roleIdle int32 = iota
	roleServer
	roleClient
)

// Message 收到的应用数据
type Message struct {
	PeerID  protocol.PeerID
	Channel uint8
	Data    []byte
}

// Option 连接选项
type Option func(*Connection)

// WithPacketConn 使用外部提供的 PacketConn, Serve/Connect 不再自行监听
// 连接关闭时一并关闭该 PacketConn
func WithPacketConn(pc net.PacketConn) Option {
	return func(c *Connection) {
		c.packetConn = pc
	}
}

// WithLogger 指定基础 logger
func WithLogger(l *logrus.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = logging.NewLogger(l, "transport")
		}
	}
}

// WithPeerHandler 注册 peer 生命周期回调
func WithPeerHandler(h PeerHandler) Option {
	return func(c *Connection) {
		c.handler = h
	}
}

// WithMetrics 注册指标记录器
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Connection) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBufferConfig 指定 socket 缓冲区配置
func WithBufferConfig(b *BufferConfig) Option {
	return func(c *Connection) {
		if b != nil {
			c.bufferConfig = b
		}
	}
}

// Connection 可靠 UDP 端点
// 调用方通过命令队列驱动发送引擎, 通过事件队列读取接收引擎的结果
type Connection struct {
	cfg          ConnConfig
	logger       *logging.Logger
	handler      PeerHandler
	metrics      MetricsRecorder
	bufferConfig *BufferConfig
	packetConn   net.PacketConn

	registry    *PeerRegistry
	commands    *Queue[ConnectionCommand]
	events      *Queue[ConnectionEvent]
	windowFreed chan struct{}

	sock     atomic.Pointer[socket]
	bound    chan struct{}
	bindOnce sync.Once

	role      atomic.Int32
	ownID     atomic.Uint32
	connected atomic.Bool

	// 仅发送引擎访问
	connectDeadline time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closed    atomic.Bool

	// 统计
	retransmits uint64
	dropped     uint64
	delivered   uint64
}

// NewConnection 创建端点并启动发送/接收引擎
func NewConnection(cfg ConnConfig, opts ...Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	c := &Connection{
		cfg:          cfg,
		logger:       logging.NewLogger(nil, "transport"),
		metrics:      nopMetrics{},
		bufferConfig: DefaultBufferConfig(),
		registry:     NewPeerRegistry(cfg),
		commands:     NewQueue[ConnectionCommand](),
		events:       NewQueue[ConnectionEvent](),
		windowFreed:  make(chan struct{}, 1),
		bound:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, c.ctx = errgroup.WithContext(ctx)

	c.group.Go(func() error { return c.sendLoop(c.ctx) })
	c.group.Go(func() error { return c.recvLoop(c.ctx) })

	return c, nil
}

// =============================================================================
// 命令接口 (只入队, 立即返回)
// =============================================================================

// Serve 在 addr 上监听
func (c *Connection) Serve(addr string) error {
	return c.push(ConnectionCommand{Type: CommandServe, Address: addr})
}

// Connect 连接服务器
func (c *Connection) Connect(addr string) error {
	return c.push(ConnectionCommand{Type: CommandConnect, Address: addr})
}

// Disconnect 向所有 peer 发送断开并移除
func (c *Connection) Disconnect() error {
	return c.push(ConnectionCommand{Type: CommandDisconnect})
}

// DisconnectPeer 向单个 peer 发送断开并移除
func (c *Connection) DisconnectPeer(id protocol.PeerID) error {
	return c.push(ConnectionCommand{Type: CommandDisconnectPeer, PeerID: id})
}

// DeletePeer 本地移除 peer, 不通知对端
func (c *Connection) DeletePeer(id protocol.PeerID) error {
	return c.push(ConnectionCommand{Type: CommandDeletePeer, PeerID: id})
}

// Send 发送数据到指定 peer
func (c *Connection) Send(id protocol.PeerID, channel uint8, data []byte, reliable bool) error {
	if err := c.validatePayload(channel, data); err != nil {
		return err
	}
	return c.push(ConnectionCommand{
		Type:     CommandSend,
		PeerID:   id,
		Channel:  channel,
		Data:     append([]byte(nil), data...),
		Reliable: reliable,
	})
}

// SendToAll 发送数据到所有 peer
func (c *Connection) SendToAll(channel uint8, data []byte, reliable bool) error {
	if err := c.validatePayload(channel, data); err != nil {
		return err
	}
	return c.push(ConnectionCommand{
		Type:     CommandSendToAll,
		Channel:  channel,
		Data:     append([]byte(nil), data...),
		Reliable: reliable,
	})
}

func (c *Connection) validatePayload(channel uint8, data []byte) error {
	if channel >= protocol.ChannelCount {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if limit := c.cfg.MaxPayloadSize(); len(data) > limit {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data), limit)
	}
	return nil
}

func (c *Connection) push(cmd ConnectionCommand) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if !c.commands.Push(cmd) {
		return ErrConnectionClosed
	}
	return nil
}

// =============================================================================
// 接收接口
// =============================================================================

// Receive 等待下一条数据, timeout 内没有数据返回 ErrReceiveTimeout
func (c *Connection) Receive(timeout time.Duration) (protocol.PeerID, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.ReceiveContext(ctx)
}

// ReceiveContext 等待下一条数据直到 ctx 结束
func (c *Connection) ReceiveContext(ctx context.Context) (protocol.PeerID, []byte, error) {
	msg, err := c.ReceiveMessage(ctx)
	if err != nil {
		return protocol.PeerIDNil, nil, err
	}
	return msg.PeerID, msg.Data, nil
}

// ReceiveMessage 同 ReceiveContext, 额外返回通道号
// 期间取出的 peer 事件同步交给 PeerHandler
func (c *Connection) ReceiveMessage(ctx context.Context) (Message, error) {
	for {
		ev, err := c.events.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return Message{}, ErrReceiveTimeout
			}
			return Message{}, err
		}

		switch ev.Type {
		case EventDataReceived:
			return Message{PeerID: ev.PeerID, Channel: ev.Channel, Data: ev.Data}, nil

		case EventPeerAdded:
			if c.handler != nil {
				c.handler.OnPeerAdded(ev.PeerID, ev.Address)
			}

		case EventPeerRemoved:
			if c.handler != nil {
				c.handler.OnPeerRemoved(ev.PeerID, ev.Timeout)
			}

		case EventBindFailed:
			return Message{}, fmt.Errorf("%w: %w", ErrBindFailed, ev.Err)

		case EventConnectFailed:
			return Message{}, fmt.Errorf("%w: %w", ErrConnectFailed, ev.Err)
		}
	}
}

// =============================================================================
// 查询接口
// =============================================================================

// Connected 客户端是否已拿到服务器分配的 ID
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// PeerID 本端 ID (服务器为 1, 客户端在分配前为 0)
func (c *Connection) PeerID() protocol.PeerID {
	return c.localPeerID()
}

// LocalAddr 本地监听地址, 未绑定时为 nil
func (c *Connection) LocalAddr() net.Addr {
	if s := c.sock.Load(); s != nil {
		return s.localAddr()
	}
	return nil
}

// WaitBound 等待 socket 绑定完成
func (c *Connection) WaitBound(ctx context.Context) error {
	select {
	case <-c.bound:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PeerIDs 当前所有 peer
func (c *Connection) PeerIDs() []protocol.PeerID {
	return c.registry.IDs()
}

// PeerAddress peer 地址
func (c *Connection) PeerAddress(id protocol.PeerID) (net.Addr, error) {
	p := c.registry.Lookup(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrPeerNotFound, id)
	}
	return p.Address(), nil
}

// PeerRTT peer 的平滑 RTT
func (c *Connection) PeerRTT(id protocol.PeerID) (time.Duration, error) {
	p := c.registry.Lookup(id)
	if p == nil {
		return 0, fmt.Errorf("%w: %d", ErrPeerNotFound, id)
	}
	return p.RTT().GetSmoothedRTT(), nil
}

// Close 停止引擎并关闭 socket
// 已入队的发送命令会在发送引擎退出前尽量发出
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.group.Wait()

		if s := c.sock.Load(); s != nil {
			if cerr := s.close(); cerr != nil && err == nil {
				err = cerr
			}
		} else if c.packetConn != nil {
			_ = c.packetConn.Close()
		}

		c.commands.Close()
		c.events.Close()
		c.log(1, "连接已关闭")
	})
	return err
}

// =============================================================================
// 内部辅助
// =============================================================================

func (c *Connection) localPeerID() protocol.PeerID {
	switch c.role.Load() {
	case roleServer:
		return protocol.PeerIDServer
	case roleClient:
		return protocol.PeerID(c.ownID.Load())
	default:
		return protocol.PeerIDNil
	}
}

// bind 绑定 socket 并设置角色, 只允许一次
func (c *Connection) bind(addr string, role int32) (*socket, error) {
	if c.sock.Load() != nil {
		return nil, fmt.Errorf("已绑定到 %s", c.sock.Load().localAddr())
	}

	var (
		s   *socket
		err error
	)
	if c.packetConn != nil {
		s = newSocket(c.packetConn, c.cfg.PollTimeout, c.log)
	} else {
		s, err = listenSocket(addr, c.bufferConfig, c.cfg.PollTimeout, c.log)
		if err != nil {
			return nil, err
		}
	}

	c.role.Store(role)
	c.sock.Store(s)
	c.bindOnce.Do(func() { close(c.bound) })
	return s, nil
}

func (c *Connection) emit(ev ConnectionEvent) {
	c.events.Push(ev)
}

func (c *Connection) notifyWindowFreed() {
	select {
	case c.windowFreed <- struct{}{}:
	default:
	}
}

// removePeer 从注册表移除并发出 PeerRemoved
func (c *Connection) removePeer(p *Peer, timeout bool, reason string) {
	if _, ok := c.registry.Remove(p.id); !ok {
		return
	}
	discarded := p.close()

	if c.role.Load() == roleClient && p.id == protocol.PeerIDServer {
		c.connected.Store(false)
		// 握手未完成时没有发出过 PeerAdded
		if p.State() == PeerHalfOpen {
			c.log(1, "放弃未完成的连接, 丢弃 %d 个未确认包", discarded)
			return
		}
	}

	c.metrics.RecordPeerRemoved(timeout)
	c.emit(ConnectionEvent{
		Type:    EventPeerRemoved,
		PeerID:  p.id,
		Address: p.addr,
		Timeout: timeout,
	})
	c.log(1, "peer %d 已移除 (%s), 丢弃 %d 个未确认包", p.id, reason, discarded)
}

func (c *Connection) log(level int, format string, args ...interface{}) {
	c.logger.Log(level, format, args...)
}
