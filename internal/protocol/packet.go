// =============================================================================
// 文件: internal/protocol/packet.go
// 描述: 可靠 UDP 传输 - 帧编解码 (控制/原始/分片/可靠)
// =============================================================================
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame 基础头部之后的一帧
// Data 引用解码输入, 调用方需自行保证输入缓冲区不被复用
type Frame struct {
	Type PacketType

	// 控制包
	Control   ControlType
	AckSeqnum uint16
	NewPeerID PeerID

	// 分片包
	SplitSeqnum uint16
	ChunkCount  uint16
	ChunkIndex  uint16

	// 原始包负载或分片数据
	Data []byte
}

// Packet 解码后的完整数据报
type Packet struct {
	Header

	// 外层是否为可靠包
	Reliable bool
	Seqnum   uint16

	// 实际帧 (可靠包时为内层帧)
	Frame *Frame
}

// =============================================================================
// 帧构建
// =============================================================================

// OriginalFrame 构建原始包帧
func OriginalFrame(data []byte) []byte {
	buf := make([]byte, OriginalHeaderSize+len(data))
	buf[0] = byte(PacketTypeOriginal)
	copy(buf[OriginalHeaderSize:], data)
	return buf
}

// SplitFrame 构建分片帧
// 格式: Type(1) + SplitSeqnum(2) + ChunkCount(2) + ChunkIndex(2) + Data
func SplitFrame(splitSeqnum, chunkCount, chunkIndex uint16, chunk []byte) []byte {
	buf := make([]byte, SplitHeaderSize+len(chunk))
	buf[0] = byte(PacketTypeSplit)
	binary.BigEndian.PutUint16(buf[1:3], splitSeqnum)
	binary.BigEndian.PutUint16(buf[3:5], chunkCount)
	binary.BigEndian.PutUint16(buf[5:7], chunkIndex)
	copy(buf[SplitHeaderSize:], chunk)
	return buf
}

// ReliableFrame 用可靠包头包装内层帧
func ReliableFrame(seqnum uint16, inner []byte) []byte {
	buf := make([]byte, ReliableHeaderSize+len(inner))
	buf[0] = byte(PacketTypeReliable)
	binary.BigEndian.PutUint16(buf[1:3], seqnum)
	copy(buf[ReliableHeaderSize:], inner)
	return buf
}

// AckFrame 构建 ACK 控制帧
func AckFrame(seqnum uint16) []byte {
	buf := make([]byte, ControlHeaderSize+2)
	buf[0] = byte(PacketTypeControl)
	buf[1] = byte(ControlAck)
	binary.BigEndian.PutUint16(buf[2:4], seqnum)
	return buf
}

// SetPeerIDFrame 构建 SET_PEER_ID 控制帧
func SetPeerIDFrame(id PeerID) []byte {
	buf := make([]byte, ControlHeaderSize+2)
	buf[0] = byte(PacketTypeControl)
	buf[1] = byte(ControlSetPeerID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(id))
	return buf
}

// PingFrame 构建 PING 控制帧
func PingFrame() []byte {
	return []byte{byte(PacketTypeControl), byte(ControlPing)}
}

// DisconnectFrame 构建 DISCONNECT 控制帧
func DisconnectFrame() []byte {
	return []byte{byte(PacketTypeControl), byte(ControlDisconnect)}
}

// =============================================================================
// 解码
// =============================================================================

// Decode 解码完整数据报, 校验协议 ID 与通道号
func Decode(data []byte, protocolID uint32) (*Packet, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.ProtocolID != protocolID {
		return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrProtocolMismatch, hdr.ProtocolID, protocolID)
	}
	if hdr.Channel >= ChannelCount {
		return nil, fmt.Errorf("%w: 通道号越界 %d", ErrMalformed, hdr.Channel)
	}

	pkt := &Packet{Header: hdr}
	body := data[BaseHeaderSize:]

	if PacketType(body[0]) == PacketTypeReliable {
		if len(body) < ReliableHeaderSize+1 {
			return nil, fmt.Errorf("%w: 可靠包太短 %d", ErrMalformed, len(body))
		}
		pkt.Reliable = true
		pkt.Seqnum = binary.BigEndian.Uint16(body[1:3])
		body = body[ReliableHeaderSize:]
		if PacketType(body[0]) == PacketTypeReliable {
			return nil, fmt.Errorf("%w: 可靠包嵌套", ErrMalformed)
		}
	}

	frame, err := DecodeFrame(body)
	if err != nil {
		return nil, err
	}
	pkt.Frame = frame
	return pkt, nil
}

// DecodeFrame 解码非可靠帧 (控制/原始/分片)
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: 空帧", ErrMalformed)
	}

	f := &Frame{Type: PacketType(data[0])}

	switch f.Type {
	case PacketTypeControl:
		return decodeControl(f, data)

	case PacketTypeOriginal:
		f.Data = data[OriginalHeaderSize:]
		return f, nil

	case PacketTypeSplit:
		if len(data) < SplitHeaderSize {
			return nil, fmt.Errorf("%w: 分片包太短 %d < %d", ErrMalformed, len(data), SplitHeaderSize)
		}
		f.SplitSeqnum = binary.BigEndian.Uint16(data[1:3])
		f.ChunkCount = binary.BigEndian.Uint16(data[3:5])
		f.ChunkIndex = binary.BigEndian.Uint16(data[5:7])
		if f.ChunkCount == 0 {
			return nil, fmt.Errorf("%w: 分片总数为 0", ErrMalformed)
		}
		if f.ChunkIndex >= f.ChunkCount {
			return nil, fmt.Errorf("%w: 分片索引越界 %d >= %d", ErrMalformed, f.ChunkIndex, f.ChunkCount)
		}
		f.Data = data[SplitHeaderSize:]
		return f, nil

	case PacketTypeReliable:
		return nil, fmt.Errorf("%w: 此处不允许可靠包", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: 未知包类型 %d", ErrMalformed, data[0])
	}
}

func decodeControl(f *Frame, data []byte) (*Frame, error) {
	if len(data) < ControlHeaderSize {
		return nil, fmt.Errorf("%w: 控制包太短", ErrMalformed)
	}
	f.Control = ControlType(data[1])

	switch f.Control {
	case ControlAck:
		if len(data) < ControlHeaderSize+2 {
			return nil, fmt.Errorf("%w: ACK 缺少序列号", ErrMalformed)
		}
		f.AckSeqnum = binary.BigEndian.Uint16(data[2:4])
	case ControlSetPeerID:
		if len(data) < ControlHeaderSize+2 {
			return nil, fmt.Errorf("%w: SET_PEER_ID 缺少 ID", ErrMalformed)
		}
		f.NewPeerID = PeerID(binary.BigEndian.Uint16(data[2:4]))
	case ControlPing, ControlDisconnect:
	default:
		return nil, fmt.Errorf("%w: 未知控制类型 %d", ErrMalformed, data[1])
	}
	return f, nil
}
