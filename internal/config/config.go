// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - YAML 加载、默认值、启动前校验、示例配置生成
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/rudp/internal/logging"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	Server   string `yaml:"server"`
	LogLevel string `yaml:"log_level"`

	Connection ConnectionConfig `yaml:"connection"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ConnectionConfig 可靠 UDP 连接参数, 时间单位均为毫秒
type ConnectionConfig struct {
	ProtocolID    uint32 `yaml:"protocol_id"`
	MaxPacketSize int    `yaml:"max_packet_size"`

	TimeoutMs        int `yaml:"timeout_ms"`
	PingIntervalMs   int `yaml:"ping_interval_ms"`
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`

	WindowSize         int     `yaml:"window_size"`
	MinResendTimeoutMs int     `yaml:"min_resend_timeout_ms"`
	MaxResendTimeoutMs int     `yaml:"max_resend_timeout_ms"`
	ResendFactor       float64 `yaml:"resend_factor"`
	ResendBudget       int     `yaml:"resend_budget"`

	SplitTimeoutMs int `yaml:"split_timeout_ms"`
	MaxSplitChunks int `yaml:"max_split_chunks"`
	MaxPeerID      int `yaml:"max_peer_id"`

	PollTimeoutMs   int `yaml:"poll_timeout_ms"`
	SendIntervalMs  int `yaml:"send_interval_ms"`
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse 从 reader 解析配置, 未知字段视为错误
func Parse(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":30000",
		Server:   "127.0.0.1:30000",
		LogLevel: "info",

		Connection: ConnectionConfig{
			ProtocolID:         0x4f457403,
			MaxPacketSize:      512,
			TimeoutMs:          30000,
			PingIntervalMs:     5000,
			ConnectTimeoutMs:   10000,
			WindowSize:         64,
			MinResendTimeoutMs: 100,
			MaxResendTimeoutMs: 3000,
			ResendFactor:       4.0,
			ResendBudget:       256,
			SplitTimeoutMs:     30000,
			MaxSplitChunks:     4096,
			MaxPeerID:          0xFFFF,
			PollTimeoutMs:      50,
			SendIntervalMs:     5,
			SweepIntervalMs:    100,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
// 连接参数的完整约束由传输层在创建连接时再校验一次
func (c *Config) Validate() error {
	if _, err := parsePort(c.Listen); err != nil {
		return fmt.Errorf("listen 地址无效: %s", c.Listen)
	}
	if c.Server != "" {
		if _, _, err := net.SplitHostPort(c.Server); err != nil {
			return fmt.Errorf("server 地址无效: %s", c.Server)
		}
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("log_level 无效: %s (可选 error, info, debug)", c.LogLevel)
	}

	if err := c.Connection.validate(); err != nil {
		return fmt.Errorf("connection: %w", err)
	}

	if c.Metrics.Enabled {
		if err := c.validateMetrics(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}

func (cc *ConnectionConfig) validate() error {
	if cc.MaxPacketSize < 64 || cc.MaxPacketSize > 65507 {
		return fmt.Errorf("max_packet_size 需在 64-65507 之间")
	}
	if cc.WindowSize < 1 || cc.WindowSize > 0x8000 {
		return fmt.Errorf("window_size 需在 1-32768 之间")
	}
	if cc.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms 必须大于 0")
	}
	if cc.PingIntervalMs <= 0 || cc.PingIntervalMs >= cc.TimeoutMs {
		return fmt.Errorf("ping_interval_ms 必须大于 0 且小于 timeout_ms")
	}
	if cc.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("connect_timeout_ms 必须大于 0")
	}
	if cc.MinResendTimeoutMs <= 0 || cc.MaxResendTimeoutMs < cc.MinResendTimeoutMs {
		return fmt.Errorf("重传超时范围无效: %d-%d ms", cc.MinResendTimeoutMs, cc.MaxResendTimeoutMs)
	}
	if cc.ResendFactor <= 0 {
		return fmt.Errorf("resend_factor 必须大于 0")
	}
	if cc.MaxSplitChunks < 1 || cc.MaxSplitChunks > 0xFFFF {
		return fmt.Errorf("max_split_chunks 需在 1-65535 之间")
	}
	if cc.MaxPeerID < 2 || cc.MaxPeerID > 0xFFFF {
		return fmt.Errorf("max_peer_id 需在 2-65535 之间")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	port, err := parsePort(c.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("listen 地址无效: %s", c.Metrics.Listen)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("端口需在 1-65535 之间: %d", port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
		return fmt.Errorf("path/health_path 必须以 / 开头")
	}
	if c.Metrics.Path == c.Metrics.HealthPath {
		return fmt.Errorf("path 与 health_path 冲突: %s", c.Metrics.Path)
	}
	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// GetListenHost 获取监听地址
func (c *Config) GetListenHost() string {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return ""
	}
	return host
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# rudp-node 配置文件示例
# =============================================================================

# 基础配置
listen: ":30000"                    # serve 监听地址
server: "127.0.0.1:30000"           # connect 默认服务器地址
log_level: "info"                   # 日志级别: error, info, debug

# 可靠 UDP 连接参数 (时间单位: 毫秒)
connection:
  protocol_id: 0x4f457403           # 协议 ID, 两端必须一致
  max_packet_size: 512              # 单个数据报上限
  timeout_ms: 30000                 # peer 无活动超时
  ping_interval_ms: 5000            # 空闲 ping 间隔
  connect_timeout_ms: 10000         # 等待服务器分配 ID 的时间
  window_size: 64                   # 每通道可靠发送窗口
  min_resend_timeout_ms: 100        # 重传超时下限
  max_resend_timeout_ms: 3000       # 重传超时上限
  resend_factor: 4.0                # 重传超时 = RTT * factor
  resend_budget: 256                # 每轮最多重传包数
  split_timeout_ms: 30000           # 不可靠分片组超时
  max_split_chunks: 4096            # 单条消息最多分片数
  max_peer_id: 65535                # 服务器可分配的最大 peer ID
  poll_timeout_ms: 50               # 接收轮询超时
  send_interval_ms: 5               # 发送引擎节拍
  sweep_interval_ms: 100            # 超时扫描间隔

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	// 写入前确认示例本身可以通过校验
	if _, err := Parse(bytes.NewBufferString(GenerateExampleConfig())); err != nil {
		return fmt.Errorf("示例配置无效: %w", err)
	}
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
