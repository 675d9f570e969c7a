// =============================================================================
// 文件: internal/transport/types.go
// 描述: 可靠 UDP 传输 - 命令/事件/分发结果及接口定义
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mrcgq/rudp/internal/protocol"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrConnectionClosed = errors.New("连接已关闭")
	ErrBindFailed       = errors.New("绑定地址失败")
	ErrConnectFailed    = errors.New("连接服务器失败")
	ErrReceiveTimeout   = errors.New("接收超时")
	ErrPeerIDExhausted  = errors.New("peer ID 已耗尽")
	ErrPeerNotFound     = errors.New("peer 不存在")
	ErrInvalidChannel   = errors.New("无效通道")
	ErrEmptyPayload     = errors.New("负载为空")
	ErrPayloadTooLarge  = errors.New("负载过大")
	ErrNotBound         = errors.New("socket 未绑定")
)

// =============================================================================
// 命令 (调用方 -> 发送引擎)
// =============================================================================

// CommandType 命令类型
type CommandType uint8

const (
	CommandServe CommandType = iota
	CommandConnect
	CommandDisconnect
	CommandDisconnectPeer
	CommandSend
	CommandSendToAll
	CommandDeletePeer
)

func (t CommandType) String() string {
	names := []string{
		"SERVE", "CONNECT", "DISCONNECT", "DISCONNECT_PEER",
		"SEND", "SEND_TO_ALL", "DELETE_PEER",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// ConnectionCommand 投递给发送引擎的命令
type ConnectionCommand struct {
	Type     CommandType
	Address  string
	PeerID   protocol.PeerID
	Channel  uint8
	Data     []byte
	Reliable bool

	// 已编码的内层帧, 接收引擎投递控制包时使用
	frame []byte
}

// =============================================================================
// 事件 (接收/发送引擎 -> 调用方)
// =============================================================================

// EventType 事件类型
type EventType uint8

const (
	EventPeerAdded EventType = iota
	EventPeerRemoved
	EventDataReceived
	EventBindFailed
	EventConnectFailed
)

func (t EventType) String() string {
	names := []string{
		"PEER_ADDED", "PEER_REMOVED", "DATA_RECEIVED", "BIND_FAILED", "CONNECT_FAILED",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// ConnectionEvent 事件
type ConnectionEvent struct {
	Type    EventType
	PeerID  protocol.PeerID
	Address net.Addr
	Channel uint8
	Data    []byte
	Timeout bool
	Err     error
}

// =============================================================================
// 帧分发结果
// =============================================================================

// DispatchKind 分发结果类型
type DispatchKind uint8

const (
	// DispatchDelivered 数据已交付上层
	DispatchDelivered DispatchKind = iota
	// DispatchBuffered 暂存等待 (乱序或分片未齐)
	DispatchBuffered
	// DispatchHandled 控制帧已处理, 无数据交付
	DispatchHandled
	// DispatchDropped 丢弃
	DispatchDropped
)

func (k DispatchKind) String() string {
	switch k {
	case DispatchDelivered:
		return "DELIVERED"
	case DispatchBuffered:
		return "BUFFERED"
	case DispatchHandled:
		return "HANDLED"
	case DispatchDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// DispatchResult 单帧处理结果
type DispatchResult struct {
	Kind   DispatchKind
	Data   []byte
	Reason string
}

func delivered(data []byte) DispatchResult {
	return DispatchResult{Kind: DispatchDelivered, Data: data}
}

func buffered(reason string) DispatchResult {
	return DispatchResult{Kind: DispatchBuffered, Reason: reason}
}

func handled(reason string) DispatchResult {
	return DispatchResult{Kind: DispatchHandled, Reason: reason}
}

func dropped(format string, args ...interface{}) DispatchResult {
	return DispatchResult{Kind: DispatchDropped, Reason: fmt.Sprintf(format, args...)}
}

// 丢弃原因, 用作指标标签
const (
	DropMalformed        = "malformed"
	DropProtocolMismatch = "protocol_mismatch"
	DropUnknownPeer      = "unknown_peer"
	DropAddressMismatch  = "address_mismatch"
	DropOutOfWindow      = "out_of_window"
	DropDuplicate        = "duplicate"
	DropSplit            = "split"
	DropPeerIDExhausted  = "peer_id_exhausted"
	DropUnknownAck       = "unknown_ack"
)

// =============================================================================
// 回调与指标接口
// =============================================================================

// PeerHandler peer 生命周期回调, 在调用方的 Receive 中同步触发
type PeerHandler interface {
	OnPeerAdded(id protocol.PeerID, addr net.Addr)
	OnPeerRemoved(id protocol.PeerID, timeout bool)
}

// MetricsRecorder 传输层指标
type MetricsRecorder interface {
	RecordPacketSent(bytes int)
	RecordPacketReceived(bytes int)
	RecordRetransmit(channel uint8)
	RecordDrop(reason string)
	RecordAckRTT(rtt time.Duration)
	RecordDelivered(channel uint8, bytes int)
	RecordPeerAdded()
	RecordPeerRemoved(timeout bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordPacketSent(int)           {}
func (nopMetrics) RecordPacketReceived(int)       {}
func (nopMetrics) RecordRetransmit(uint8)         {}
func (nopMetrics) RecordDrop(string)              {}
func (nopMetrics) RecordAckRTT(time.Duration)     {}
func (nopMetrics) RecordDelivered(uint8, int)     {}
func (nopMetrics) RecordPeerAdded()               {}
func (nopMetrics) RecordPeerRemoved(timeout bool) {}
