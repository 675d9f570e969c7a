// =============================================================================
// 文件: internal/transport/conn_config.go
// 描述: 可靠 UDP 传输 - 连接配置
// =============================================================================
package transport

import (
	"fmt"
	"time"

	"github.com/mrcgq/rudp/internal/congestion"
	"github.com/mrcgq/rudp/internal/protocol"
)

// 默认参数
const (
	DefaultTimeout          = 30 * time.Second
	DefaultPingInterval     = 5 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultWindowSize       = 64
	DefaultMinResendTimeout = 100 * time.Millisecond
	DefaultMaxResendTimeout = 3 * time.Second
	DefaultResendFactor     = 4.0
	DefaultResendBudget     = 256
	DefaultSplitTimeout     = 30 * time.Second
	DefaultMaxSplitChunks   = 4096
	DefaultPollTimeout      = 50 * time.Millisecond
	DefaultSendInterval     = 5 * time.Millisecond
	DefaultSweepInterval    = 100 * time.Millisecond
)

// ConnConfig 连接配置
type ConnConfig struct {
	ProtocolID    uint32
	MaxPacketSize int

	// peer 生命周期
	Timeout        time.Duration
	PingInterval   time.Duration
	ConnectTimeout time.Duration

	// 可靠窗口与重传
	WindowSize       int
	MinResendTimeout time.Duration
	MaxResendTimeout time.Duration
	ResendFactor     float64
	ResendBudget     int

	// 分片
	SplitTimeout   time.Duration
	MaxSplitChunks int

	MaxPeerID protocol.PeerID

	// 工作循环节奏
	PollTimeout   time.Duration
	SendInterval  time.Duration
	SweepInterval time.Duration
}

// DefaultConnConfig 默认配置
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		ProtocolID:       protocol.DefaultProtocolID,
		MaxPacketSize:    protocol.DefaultMaxPacketSize,
		Timeout:          DefaultTimeout,
		PingInterval:     DefaultPingInterval,
		ConnectTimeout:   DefaultConnectTimeout,
		WindowSize:       DefaultWindowSize,
		MinResendTimeout: DefaultMinResendTimeout,
		MaxResendTimeout: DefaultMaxResendTimeout,
		ResendFactor:     DefaultResendFactor,
		ResendBudget:     DefaultResendBudget,
		SplitTimeout:     DefaultSplitTimeout,
		MaxSplitChunks:   DefaultMaxSplitChunks,
		MaxPeerID:        protocol.PeerIDMax,
		PollTimeout:      DefaultPollTimeout,
		SendInterval:     DefaultSendInterval,
		SweepInterval:    DefaultSweepInterval,
	}
}

// Validate 验证配置
func (c ConnConfig) Validate() error {
	if c.MaxPacketSize < protocol.MinPacketSize || c.MaxPacketSize > protocol.MaxPacketSize {
		return fmt.Errorf("max_packet_size 需在 %d-%d 之间", protocol.MinPacketSize, protocol.MaxPacketSize)
	}
	if c.WindowSize < 1 || c.WindowSize > protocol.MaxReliableWindow {
		return fmt.Errorf("window_size 需在 1-%d 之间", protocol.MaxReliableWindow)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout 必须大于 0")
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.Timeout {
		return fmt.Errorf("ping_interval 必须大于 0 且小于 timeout")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout 必须大于 0")
	}
	if c.MinResendTimeout <= 0 || c.MaxResendTimeout < c.MinResendTimeout {
		return fmt.Errorf("resend_timeout 范围无效: %v-%v", c.MinResendTimeout, c.MaxResendTimeout)
	}
	if c.ResendFactor <= 0 {
		return fmt.Errorf("resend_factor 必须大于 0")
	}
	if c.ResendBudget < 1 {
		return fmt.Errorf("resend_budget 必须大于 0")
	}
	if c.SplitTimeout <= 0 {
		return fmt.Errorf("split_timeout 必须大于 0")
	}
	if c.MaxSplitChunks < 1 || c.MaxSplitChunks > 0xFFFF {
		return fmt.Errorf("max_split_chunks 需在 1-65535 之间")
	}
	if c.MaxPeerID < protocol.PeerIDClientMin {
		return fmt.Errorf("max_peer_id 不能小于 %d", protocol.PeerIDClientMin)
	}
	if c.PollTimeout <= 0 || c.SendInterval <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("poll_timeout/send_interval/sweep_interval 必须大于 0")
	}
	return nil
}

// MaxPayloadSize 单次 Send 允许的最大负载
func (c ConnConfig) MaxPayloadSize() int {
	return protocol.MaxSplitChunk(c.MaxPacketSize) * c.MaxSplitChunks
}

func (c ConnConfig) rttConfig() congestion.RTTConfig {
	rc := congestion.DefaultRTTConfig()
	rc.ResendFactor = c.ResendFactor
	rc.MinResendTimeout = c.MinResendTimeout
	rc.MaxResendTimeout = c.MaxResendTimeout
	return rc
}
