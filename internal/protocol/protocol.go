// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 可靠 UDP 传输 - 协议常量、基础头部与错误定义
// =============================================================================
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// =============================================================================
// 协议常量
// =============================================================================

const (
	// DefaultProtocolID 每个数据报开头的协议标识, 两端必须一致
	DefaultProtocolID uint32 = 0x4f457403

	// BaseHeaderSize 基础头部: ProtocolID(4) + PeerID(2) + Channel(1)
	BaseHeaderSize = 7

	// PacketHeaderSize 基础头部 + PacketType(1)
	PacketHeaderSize = BaseHeaderSize + 1

	// ReliableHeaderSize 可靠包包装: Type(1) + Seqnum(2)
	ReliableHeaderSize = 3

	// OriginalHeaderSize 原始包: Type(1)
	OriginalHeaderSize = 1

	// SplitHeaderSize 分片包: Type(1) + SplitSeqnum(2) + ChunkCount(2) + ChunkIndex(2)
	SplitHeaderSize = 7

	// ControlHeaderSize 控制包: Type(1) + ControlType(1)
	ControlHeaderSize = 2

	// ChannelCount 每个 peer 的逻辑通道数
	ChannelCount = 3

	// DefaultMaxPacketSize 单个数据报最大字节数
	DefaultMaxPacketSize = 512

	// MinPacketSize 允许配置的最小数据报 (至少能容纳一个分片字节)
	MinPacketSize = BaseHeaderSize + ReliableHeaderSize + SplitHeaderSize + 1

	// MaxPacketSize 允许配置的最大数据报
	MaxPacketSize = 65507
)

// PeerID peer 标识
type PeerID uint16

const (
	// PeerIDNil 客户端在服务器分配 ID 之前使用
	PeerIDNil PeerID = iota

	// PeerIDServer 服务器的固定 ID
	PeerIDServer

	// PeerIDClientMin 服务器可分配给客户端的最小 ID
	PeerIDClientMin
)

// PeerIDMax 可分配的最大 ID
const PeerIDMax PeerID = 0xFFFF

// PacketType 基础头部之后的包类型字段
type PacketType uint8

const (
	PacketTypeControl PacketType = iota
	PacketTypeOriginal
	PacketTypeSplit
	PacketTypeReliable
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeControl:
		return "CONTROL"
	case PacketTypeOriginal:
		return "ORIGINAL"
	case PacketTypeSplit:
		return "SPLIT"
	case PacketTypeReliable:
		return "RELIABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ControlType 控制包子类型
type ControlType uint8

const (
	ControlAck ControlType = iota
	ControlSetPeerID
	ControlPing
	ControlDisconnect
)

func (t ControlType) String() string {
	switch t {
	case ControlAck:
		return "ACK"
	case ControlSetPeerID:
		return "SET_PEER_ID"
	case ControlPing:
		return "PING"
	case ControlDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrMalformed 数据报过短或字段非法
	ErrMalformed = errors.New("畸形数据包")

	// ErrProtocolMismatch 协议 ID 不一致
	ErrProtocolMismatch = fmt.Errorf("%w: 协议 ID 不匹配", ErrMalformed)

	// ErrTooManyChunks 负载需要的分片数超出 u16 范围
	ErrTooManyChunks = errors.New("分片数超出上限")
)

// =============================================================================
// 基础头部
// =============================================================================

// Header 基础头部
type Header struct {
	ProtocolID uint32
	PeerID     PeerID
	Channel    uint8
}

// EncodePacket 在帧前拼接基础头部, 返回完整数据报
func EncodePacket(protocolID uint32, peerID PeerID, channel uint8, frame []byte) []byte {
	buf := make([]byte, BaseHeaderSize+len(frame))
	binary.BigEndian.PutUint32(buf[0:4], protocolID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(peerID))
	buf[6] = channel
	copy(buf[BaseHeaderSize:], frame)
	return buf
}

// DecodeHeader 解析基础头部
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < PacketHeaderSize {
		return Header{}, fmt.Errorf("%w: 数据太短 %d < %d", ErrMalformed, len(data), PacketHeaderSize)
	}
	return Header{
		ProtocolID: binary.BigEndian.Uint32(data[0:4]),
		PeerID:     PeerID(binary.BigEndian.Uint16(data[4:6])),
		Channel:    data[6],
	}, nil
}
