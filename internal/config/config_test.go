// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Listen != ":30000" {
			t.Errorf("Listen 默认值错误: got %s, want :30000", cfg.Listen)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
	})

	t.Run("连接配置默认值", func(t *testing.T) {
		cc := cfg.Connection
		if cc.ProtocolID != 0x4f457403 {
			t.Errorf("ProtocolID 默认值错误: got %#x", cc.ProtocolID)
		}
		if cc.MaxPacketSize != 512 {
			t.Errorf("MaxPacketSize 默认值错误: got %d, want 512", cc.MaxPacketSize)
		}
		if cc.TimeoutMs != 30000 {
			t.Errorf("TimeoutMs 默认值错误: got %d, want 30000", cc.TimeoutMs)
		}
		if cc.MinResendTimeoutMs != 100 || cc.MaxResendTimeoutMs != 3000 {
			t.Errorf("重传超时默认值错误: %d-%d", cc.MinResendTimeoutMs, cc.MaxResendTimeoutMs)
		}
		if cc.MaxPeerID != 0xFFFF {
			t.Errorf("MaxPeerID 默认值错误: got %d", cc.MaxPeerID)
		}
	})

	t.Run("Metrics配置默认值", func(t *testing.T) {
		if cfg.Metrics.Enabled {
			t.Error("Metrics.Enabled 默认应为 false")
		}
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("Metrics.Path 默认值错误: got %s, want /metrics", cfg.Metrics.Path)
		}
	})

	t.Run("默认配置可通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})
}

// =============================================================================
// 连接参数校验
// =============================================================================

func TestConnectionValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"窗口大小为0", func(c *Config) { c.Connection.WindowSize = 0 }, "window_size"},
		{"窗口大小过大", func(c *Config) { c.Connection.WindowSize = 0x8001 }, "window_size"},
		{"ping间隔不小于超时", func(c *Config) { c.Connection.PingIntervalMs = c.Connection.TimeoutMs }, "ping_interval_ms"},
		{"重传超时上限小于下限", func(c *Config) { c.Connection.MaxResendTimeoutMs = 50 }, "重传超时"},
		{"包大小过小", func(c *Config) { c.Connection.MaxPacketSize = 32 }, "max_packet_size"},
		{"peer ID 上限过小", func(c *Config) { c.Connection.MaxPeerID = 1 }, "max_peer_id"},
		{"分片数为0", func(c *Config) { c.Connection.MaxSplitChunks = 0 }, "max_split_chunks"},
		{"日志级别无效", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"监听地址无效", func(c *Config) { c.Listen = "invalid" }, "listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("应该校验失败")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("错误信息应包含 %q: %v", tt.wantErr, err)
			}
		})
	}

	t.Run("窗口大小边界值_32768", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Connection.WindowSize = 0x8000
		if err := cfg.Validate(); err != nil {
			t.Errorf("32768 应该合法: %v", err)
		}
	})
}

func TestMetricsValidation(t *testing.T) {
	t.Run("禁用时不检查", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Listen = "bad"
		if err := cfg.Validate(); err != nil {
			t.Errorf("禁用 metrics 时不应检查: %v", err)
		}
	})

	t.Run("路径冲突", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.HealthPath = "/metrics"
		if err := cfg.Validate(); err == nil {
			t.Error("path 与 health_path 相同应报错")
		}
	})

	t.Run("端口越界", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = ":70000"
		if err := cfg.Validate(); err == nil {
			t.Error("端口 70000 应报错")
		}
	})
}

// =============================================================================
// 端口解析测试
// =============================================================================

func TestParsePort(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    int
		wantErr bool
	}{
		{"冒号前缀", ":30000", 30000, false},
		{"完整地址", "0.0.0.0:8080", 8080, false},
		{"IPv6地址", "[::]:9000", 9000, false},
		{"仅端口号", "12345", 12345, false},
		{"无效格式", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePort(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("parsePort(%s) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePort(%s) = %d, want %d", tt.addr, got, tt.want)
			}
		})
	}
}

func TestGetListenHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:4000"
	if h := cfg.GetListenHost(); h != "127.0.0.1" {
		t.Errorf("GetListenHost() = %s, want 127.0.0.1", h)
	}
	if p := cfg.GetListenPort(); p != 4000 {
		t.Errorf("GetListenPort() = %d, want 4000", p)
	}
}

// =============================================================================
// 配置文件加载测试
// =============================================================================

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时配置文件失败: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
			t.Error("加载不存在的文件应该报错")
		}
	})

	t.Run("有效配置文件", func(t *testing.T) {
		path := writeConfig(t, `
listen: ":40000"
log_level: "debug"
connection:
  protocol_id: 0x12345678
  timeout_ms: 5000
  ping_interval_ms: 1000
metrics:
  enabled: true
  listen: ":9200"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}
		if cfg.Listen != ":40000" {
			t.Errorf("Listen 错误: got %s", cfg.Listen)
		}
		if cfg.Connection.ProtocolID != 0x12345678 {
			t.Errorf("ProtocolID 错误: got %#x", cfg.Connection.ProtocolID)
		}
		if cfg.Connection.TimeoutMs != 5000 || cfg.Connection.PingIntervalMs != 1000 {
			t.Errorf("超时参数错误: %+v", cfg.Connection)
		}
		// 未写出的字段保留默认值
		if cfg.Connection.WindowSize != 64 {
			t.Errorf("WindowSize 应保留默认值: got %d", cfg.Connection.WindowSize)
		}
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("Metrics.Path 应保留默认值: got %s", cfg.Metrics.Path)
		}
	})

	t.Run("空文件使用默认值", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""))
		if err != nil {
			t.Fatalf("空配置应该合法: %v", err)
		}
		if cfg.Listen != ":30000" {
			t.Errorf("Listen 错误: got %s", cfg.Listen)
		}
	})

	t.Run("未知字段", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
listen: ":30000"
psk: "not-an-option"
`))
		if err == nil {
			t.Fatal("未知字段应该报错")
		}
		if !strings.Contains(err.Error(), "psk") {
			t.Errorf("错误信息应包含字段名: %v", err)
		}
	})

	t.Run("无效YAML格式", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
listen: ":30000"
  invalid: indentation
`))
		if err == nil {
			t.Error("解析无效YAML应该报错")
		}
	})

	t.Run("校验失败", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
connection:
  window_size: 0
`))
		if err == nil || !strings.Contains(err.Error(), "window_size") {
			t.Errorf("应返回 window_size 错误: %v", err)
		}
	})
}

func TestWriteExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应能加载: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("示例配置应与默认配置一致:\n got %+v\nwant %+v", cfg, DefaultConfig())
	}
}
