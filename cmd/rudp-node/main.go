// =============================================================================
// 文件: cmd/rudp-node/main.go
// 描述: 主程序入口 - 命令行、配置加载与版本信息
// =============================================================================
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcgq/rudp/internal/config"
	"github.com/mrcgq/rudp/internal/protocol"
	"github.com/mrcgq/rudp/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "rudp-node",
	Short:         "可靠 UDP 传输节点 (回显服务器 / 测试客户端)",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile == "" {
			cfg = config.DefaultConfig()
		} else if cfg, err = config.Load(cfgFile); err != nil {
			return fmt.Errorf("配置错误: %w", err)
		}

		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		return cfg.Validate()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "rudp-node v%s\n", Version)
		fmt.Fprintf(out, "  Build: %s\n", BuildTime)
		fmt.Fprintf(out, "  Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Go: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "  Protocol: %#08x, %d 通道\n", protocol.DefaultProtocolID, protocol.ChannelCount)
	},
}

var genConfigCmd = &cobra.Command{
	Use:   "gen-config [path]",
	Short: "生成示例配置文件",
	Args:  cobra.MaximumNArgs(1),
	// 不需要加载配置
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.example.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteExampleConfig(path); err != nil {
			return fmt.Errorf("生成配置失败: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成示例配置文件: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认使用内置默认值)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别: error, info, debug")

	rootCmd.AddCommand(versionCmd, genConfigCmd, serveCmd, connectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// toConnConfig 把 YAML 里的毫秒参数转换为传输层配置
func toConnConfig(cc config.ConnectionConfig) transport.ConnConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return transport.ConnConfig{
		ProtocolID:       cc.ProtocolID,
		MaxPacketSize:    cc.MaxPacketSize,
		Timeout:          ms(cc.TimeoutMs),
		PingInterval:     ms(cc.PingIntervalMs),
		ConnectTimeout:   ms(cc.ConnectTimeoutMs),
		WindowSize:       cc.WindowSize,
		MinResendTimeout: ms(cc.MinResendTimeoutMs),
		MaxResendTimeout: ms(cc.MaxResendTimeoutMs),
		ResendFactor:     cc.ResendFactor,
		ResendBudget:     cc.ResendBudget,
		SplitTimeout:     ms(cc.SplitTimeoutMs),
		MaxSplitChunks:   cc.MaxSplitChunks,
		MaxPeerID:        protocol.PeerID(cc.MaxPeerID),
		PollTimeout:      ms(cc.PollTimeoutMs),
		SendInterval:     ms(cc.SendIntervalMs),
		SweepInterval:    ms(cc.SweepIntervalMs),
	}
}
