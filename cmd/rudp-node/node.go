// =============================================================================
// 文件: cmd/rudp-node/node.go
// 描述: serve / connect 子命令 - 回显服务器与测试客户端
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcgq/rudp/internal/logging"
	"github.com/mrcgq/rudp/internal/metrics"
	"github.com/mrcgq/rudp/internal/protocol"
	"github.com/mrcgq/rudp/internal/transport"
)

var (
	serveListen string

	connectServer     string
	connectCount      int
	connectSize       int
	connectChannel    uint8
	connectUnreliable bool
	connectInterval   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动回显服务器",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveListen != "" {
			cfg.Listen = serveListen
		}
		return runServe()
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "连接服务器并发送测试消息",
	RunE: func(cmd *cobra.Command, args []string) error {
		if connectServer != "" {
			cfg.Server = connectServer
		}
		if connectChannel >= protocol.ChannelCount {
			return fmt.Errorf("channel 需在 0-%d 之间", protocol.ChannelCount-1)
		}
		return runConnect(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "监听地址 (覆盖配置)")

	connectCmd.Flags().StringVarP(&connectServer, "server", "s", "", "服务器地址 (覆盖配置)")
	connectCmd.Flags().IntVarP(&connectCount, "count", "n", 10, "发送消息数")
	connectCmd.Flags().IntVar(&connectSize, "size", 64, "每条消息字节数 (超过单包上限时自动分片)")
	connectCmd.Flags().Uint8Var(&connectChannel, "channel", 0, "通道号")
	connectCmd.Flags().BoolVar(&connectUnreliable, "unreliable", false, "使用不可靠发送")
	connectCmd.Flags().DurationVar(&connectInterval, "interval", 10*time.Millisecond, "发送间隔")
}

// peerLogger 记录 peer 生命周期
type peerLogger struct {
	log       *logging.Logger
	connected chan struct{}
}

func (p *peerLogger) OnPeerAdded(id protocol.PeerID, addr net.Addr) {
	p.log.Log(1, "peer 加入: id=%d addr=%s", id, addr)
	if p.connected != nil && id == protocol.PeerIDServer {
		close(p.connected)
		p.connected = nil
	}
}

func (p *peerLogger) OnPeerRemoved(id protocol.PeerID, timeout bool) {
	if timeout {
		p.log.Log(1, "peer 超时: id=%d", id)
	} else {
		p.log.Log(1, "peer 离开: id=%d", id)
	}
}

// =============================================================================
// serve
// =============================================================================

func runServe() error {
	base := logging.New(cfg.LogLevel)
	log := logging.NewLogger(base, "node")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []transport.Option{
		transport.WithLogger(base),
		transport.WithPeerHandler(&peerLogger{log: log}),
	}

	var (
		metricsServer *metrics.MetricsServer
		tm            *metrics.TransportMetrics
	)
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
			base,
		)
		tm = metrics.NewTransportMetrics(metricsServer.GetRegistry())
		opts = append(opts, transport.WithMetrics(tm))
	}

	conn, err := transport.NewConnection(toConnConfig(cfg.Connection), opts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	if metricsServer != nil {
		metricsServer.MustRegisterCollector(metrics.NewConnectionCollector(conn))
		metricsServer.SetHealthCheck(metrics.NewHealthReporter(conn, Version).Check)
		if err := metricsServer.Start(ctx); err != nil {
			log.Log(0, "Metrics 启动失败: %v (继续运行)", err)
			metricsServer = nil
		} else {
			defer metricsServer.Stop()
		}
	}

	if err := conn.Serve(cfg.Listen); err != nil {
		return err
	}

	printBanner(conn, metricsServer)

	for {
		msg, err := conn.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println("\n正在关闭...")
				return nil
			}
			return err
		}

		log.Log(2, "收到 peer=%d ch=%d %d bytes", msg.PeerID, msg.Channel, len(msg.Data))
		if err := conn.Send(msg.PeerID, msg.Channel, msg.Data, true); err != nil {
			log.Log(0, "回显失败: peer=%d: %v", msg.PeerID, err)
		}
	}
}

func printBanner(conn *transport.Connection, ms *metrics.MetricsServer) {
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.WaitBound(waitCtx)

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║         rudp-node v%-46s║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	if addr := conn.LocalAddr(); addr != nil {
		fmt.Printf("║  监听地址: %-53s ║\n", addr.String())
	}
	fmt.Printf("║  协议 ID: %-54s ║\n", fmt.Sprintf("%#08x", cfg.Connection.ProtocolID))
	fmt.Printf("║  超时: %-57s ║\n", fmt.Sprintf("%d ms (ping %d ms)", cfg.Connection.TimeoutMs, cfg.Connection.PingIntervalMs))
	if ms != nil && ms.Addr() != nil {
		fmt.Printf("║  Metrics: %-54s ║\n", "http://"+ms.Addr().String()+cfg.Metrics.Path)
	}
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// =============================================================================
// connect
// =============================================================================

func runConnect(cmd *cobra.Command) error {
	base := logging.New(cfg.LogLevel)
	log := logging.NewLogger(base, "node")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connected := make(chan struct{})
	conn, err := transport.NewConnection(toConnConfig(cfg.Connection),
		transport.WithLogger(base),
		transport.WithPeerHandler(&peerLogger{log: log, connected: connected}),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Connect(cfg.Server); err != nil {
		return err
	}

	// 接收协程负责驱动 peer 回调
	msgs := make(chan transport.Message, connectCount)
	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.ReceiveMessage(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			msgs <- msg
		}
	}()

	select {
	case <-connected:
	case err := <-recvErr:
		return err
	case <-ctx.Done():
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已连接 %s, 本端 ID=%d\n", cfg.Server, conn.PeerID())

	sent := make(map[string]time.Time, connectCount)
	for i := 0; i < connectCount; i++ {
		payload := makePayload(i, connectSize)
		sent[string(payload[:16])] = time.Now()
		if err := conn.Send(protocol.PeerIDServer, connectChannel, payload, !connectUnreliable); err != nil {
			return fmt.Errorf("发送第 %d 条失败: %w", i, err)
		}
		if connectInterval > 0 {
			time.Sleep(connectInterval)
		}
	}

	var rtts []time.Duration
	deadline := time.After(time.Duration(cfg.Connection.TimeoutMs) * time.Millisecond)
wait:
	for len(rtts) < connectCount {
		select {
		case msg := <-msgs:
			if len(msg.Data) < 16 {
				continue
			}
			if t0, ok := sent[string(msg.Data[:16])]; ok {
				rtts = append(rtts, time.Since(t0))
				delete(sent, string(msg.Data[:16]))
			}
		case err := <-recvErr:
			return err
		case <-deadline:
			log.Log(0, "等待回显超时: 收到 %d/%d", len(rtts), connectCount)
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	printSummary(cmd, log, conn, rtts)

	_ = conn.Disconnect()
	// 给发送引擎一点时间发出 DISCONNECT
	time.Sleep(50 * time.Millisecond)
	return nil
}

// makePayload 前 16 字节为序号标识, 其余填充
func makePayload(i, size int) []byte {
	if size < 16 {
		size = 16
	}
	b := make([]byte, size)
	copy(b, fmt.Sprintf("msg-%012d", i))
	for j := 16; j < size; j++ {
		b[j] = byte(j)
	}
	return b
}

func printSummary(cmd *cobra.Command, log *logging.Logger, conn *transport.Connection, rtts []time.Duration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "收到回显: %d\n", len(rtts))
	if len(rtts) > 0 {
		sort.Slice(rtts, func(i, j int) bool { return rtts[i] < rtts[j] })
		var sum time.Duration
		for _, r := range rtts {
			sum += r
		}
		fmt.Fprintf(out, "往返: min=%v avg=%v p50=%v max=%v\n",
			rtts[0], sum/time.Duration(len(rtts)), rtts[len(rtts)/2], rtts[len(rtts)-1])
	}

	if rtt, err := conn.PeerRTT(protocol.PeerIDServer); err == nil {
		fmt.Fprintf(out, "平滑 RTT: %v\n", rtt)
	}
	st := conn.Stats()
	fmt.Fprintf(out, "数据报: 发出 %d, 收到 %d, 重传 %d, 丢弃 %d\n",
		st.PacketsSent, st.PacketsReceived, st.Retransmits, st.Dropped)

	if log.Enabled(2) {
		log.Log(2, "连接统计: %+v", conn.GetStats())
	}
}
