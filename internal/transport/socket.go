// =============================================================================
// 文件: internal/transport/socket.go
// 描述: 可靠 UDP 传输 - 数据报 socket 封装 (缓冲区配置/轮询读取/统计)
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// =============================================================================
// 缓冲区配置
// =============================================================================

const (
	maxBufferSize = 8 * 1024 * 1024 // 8MB 最大
	minBufferSize = 256 * 1024      // 256KB 最小
)

// BufferConfig socket 缓冲区配置
type BufferConfig struct {
	// 目标带宽 (bps)，用于自动计算缓冲区
	TargetBandwidth uint64

	// 预期 RTT (ms)，用于计算 BDP
	ExpectedRTTMs uint32

	// 手动指定缓冲区大小（优先级高于自动计算）
	ReadBufferSize  int
	WriteBufferSize int

	// 缓冲区倍数（相对于 BDP）
	BufferMultiplier float64
}

// DefaultBufferConfig 默认缓冲区配置
func DefaultBufferConfig() *BufferConfig {
	return &BufferConfig{
		TargetBandwidth:  20 * 1024 * 1024, // 20 Mbps
		ExpectedRTTMs:    100,
		BufferMultiplier: 2.0,
	}
}

// calculateBufferSize 计算推荐缓冲区大小
func (c *BufferConfig) calculateBufferSize() (readSize, writeSize int) {
	if c.ReadBufferSize > 0 && c.WriteBufferSize > 0 {
		return clampBufferSize(c.ReadBufferSize), clampBufferSize(c.WriteBufferSize)
	}

	// BDP = Bandwidth (bytes/s) × RTT (s)
	bandwidthBytesPerSec := c.TargetBandwidth / 8
	rttSeconds := float64(c.ExpectedRTTMs) / 1000.0
	bdp := float64(bandwidthBytesPerSec) * rttSeconds

	multiplier := c.BufferMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	bufferSize := clampBufferSize(int(bdp * multiplier))
	return bufferSize, bufferSize
}

// clampBufferSize 限制缓冲区大小在合理范围内
func clampBufferSize(size int) int {
	if size < minBufferSize {
		return minBufferSize
	}
	if size > maxBufferSize {
		return maxBufferSize
	}
	return size
}

// =============================================================================
// socket
// =============================================================================

// socket 数据报 socket, 读带轮询超时
type socket struct {
	conn        net.PacketConn
	pollTimeout time.Duration
	log         func(level int, format string, args ...interface{})

	closed int32

	// 统计信息
	packetsRecv uint64
	packetsSent uint64
	bytesRecv   uint64
	bytesSent   uint64
	writeErrors uint64
}

// listenSocket 监听 UDP 地址
func listenSocket(addr string, bufCfg *BufferConfig, pollTimeout time.Duration,
	log func(int, string, ...interface{})) (*socket, error) {

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	s := newSocket(conn, pollTimeout, log)
	if udp, ok := conn.(*net.UDPConn); ok && bufCfg != nil {
		s.setupBuffers(udp, bufCfg)
	}
	return s, nil
}

// newSocket 包装已有的 PacketConn
func newSocket(conn net.PacketConn, pollTimeout time.Duration,
	log func(int, string, ...interface{})) *socket {

	if log == nil {
		log = func(int, string, ...interface{}) {}
	}
	return &socket{conn: conn, pollTimeout: pollTimeout, log: log}
}

// setupBuffers 设置系统缓冲区, 失败时逐级减半
func (s *socket) setupBuffers(conn *net.UDPConn, cfg *BufferConfig) {
	readSize, writeSize := cfg.calculateBufferSize()

	if err := conn.SetReadBuffer(readSize); err != nil {
		for size := readSize / 2; size >= minBufferSize; size /= 2 {
			if err := conn.SetReadBuffer(size); err == nil {
				s.log(1, "读缓冲区降级设置为: %d bytes", size)
				readSize = size
				break
			}
		}
	}

	if err := conn.SetWriteBuffer(writeSize); err != nil {
		for size := writeSize / 2; size >= minBufferSize; size /= 2 {
			if err := conn.SetWriteBuffer(size); err == nil {
				s.log(1, "写缓冲区降级设置为: %d bytes", size)
				writeSize = size
				break
			}
		}
	}

	s.log(2, "缓冲区配置: read=%dKB, write=%dKB", readSize/1024, writeSize/1024)
}

// readFrom 读取一个数据报; 轮询超时返回 (0, nil, nil)
func (s *socket) readFrom(buf []byte) (int, net.Addr, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pollTimeout))
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	atomic.AddUint64(&s.packetsRecv, 1)
	atomic.AddUint64(&s.bytesRecv, uint64(n))
	return n, addr, nil
}

// writeTo 发送一个数据报
func (s *socket) writeTo(data []byte, addr net.Addr) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return net.ErrClosed
	}

	if _, err := s.conn.WriteTo(data, addr); err != nil {
		atomic.AddUint64(&s.writeErrors, 1)
		return err
	}

	atomic.AddUint64(&s.packetsSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(len(data)))
	return nil
}

// localAddr 本地地址
func (s *socket) localAddr() net.Addr {
	return s.conn.LocalAddr()
}

// close 关闭 socket
func (s *socket) close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	return s.conn.Close()
}

func (s *socket) getStats() map[string]uint64 {
	return map[string]uint64{
		"packets_recv": atomic.LoadUint64(&s.packetsRecv),
		"packets_sent": atomic.LoadUint64(&s.packetsSent),
		"bytes_recv":   atomic.LoadUint64(&s.bytesRecv),
		"bytes_sent":   atomic.LoadUint64(&s.bytesSent),
		"write_errors": atomic.LoadUint64(&s.writeErrors),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
