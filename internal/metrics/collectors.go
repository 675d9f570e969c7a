// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 抓取时读取连接快照
// =============================================================================
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/rudp/internal/transport"
)

// ConnectionStats 连接统计数据接口, *transport.Connection 满足
type ConnectionStats interface {
	Stats() transport.Stats
	PeerStats() []transport.PeerStats
}

// ConnectionCollector 连接指标收集器
type ConnectionCollector struct {
	statsProvider ConnectionStats

	// 连接级
	peersDesc           *prometheus.Desc
	packetsSentDesc     *prometheus.Desc
	packetsRecvDesc     *prometheus.Desc
	bytesSentDesc       *prometheus.Desc
	bytesRecvDesc       *prometheus.Desc
	writeErrorsDesc     *prometheus.Desc
	retransmitsDesc     *prometheus.Desc
	droppedDesc         *prometheus.Desc
	deliveredDesc       *prometheus.Desc
	pendingCommandsDesc *prometheus.Desc
	pendingEventsDesc   *prometheus.Desc

	// peer 级
	peerRTTDesc      *prometheus.Desc
	peerRTODesc      *prometheus.Desc
	peerJitterDesc   *prometheus.Desc
	peerLossDesc     *prometheus.Desc
	peerInFlightDesc *prometheus.Desc
	peerQueuedDesc   *prometheus.Desc
	peerStateDesc    *prometheus.Desc
}

// NewConnectionCollector 创建连接收集器
func NewConnectionCollector(provider ConnectionStats) *ConnectionCollector {
	subsystem := "connection"
	peerLabels := []string{"peer"}

	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &ConnectionCollector{
		statsProvider: provider,

		peersDesc:           desc("peers", "Number of registered peers", nil),
		packetsSentDesc:     desc("packets_sent_total", "Total datagrams written to the socket", nil),
		packetsRecvDesc:     desc("packets_received_total", "Total datagrams read from the socket", nil),
		bytesSentDesc:       desc("bytes_sent_total", "Total bytes written to the socket", nil),
		bytesRecvDesc:       desc("bytes_received_total", "Total bytes read from the socket", nil),
		writeErrorsDesc:     desc("write_errors_total", "Total socket write errors", nil),
		retransmitsDesc:     desc("retransmits_total", "Total reliable retransmissions", nil),
		droppedDesc:         desc("dropped_total", "Total dropped datagrams", nil),
		deliveredDesc:       desc("delivered_total", "Total payloads delivered to the application", nil),
		pendingCommandsDesc: desc("pending_commands", "Commands waiting for the send worker", nil),
		pendingEventsDesc:   desc("pending_events", "Events waiting for the application", nil),

		peerRTTDesc:      desc("peer_rtt_seconds", "Smoothed round trip time per peer", peerLabels),
		peerRTODesc:      desc("peer_resend_timeout_seconds", "Current resend timeout per peer", peerLabels),
		peerJitterDesc:   desc("peer_jitter_seconds", "Smoothed RTT deviation per peer", peerLabels),
		peerLossDesc:     desc("peer_loss_ratio", "Smoothed reliable packet loss ratio per peer", peerLabels),
		peerInFlightDesc: desc("peer_in_flight", "Unacknowledged reliable packets per peer", peerLabels),
		peerQueuedDesc:   desc("peer_queued", "Reliable frames waiting for window space per peer", peerLabels),
		peerStateDesc:    desc("peer_fully_open", "Whether the peer completed the handshake (1 = yes)", peerLabels),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *ConnectionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.peersDesc
	ch <- c.packetsSentDesc
	ch <- c.packetsRecvDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesRecvDesc
	ch <- c.writeErrorsDesc
	ch <- c.retransmitsDesc
	ch <- c.droppedDesc
	ch <- c.deliveredDesc
	ch <- c.pendingCommandsDesc
	ch <- c.pendingEventsDesc
	ch <- c.peerRTTDesc
	ch <- c.peerRTODesc
	ch <- c.peerJitterDesc
	ch <- c.peerLossDesc
	ch <- c.peerInFlightDesc
	ch <- c.peerQueuedDesc
	ch <- c.peerStateDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *ConnectionCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.statsProvider.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.peersDesc, float64(st.Peers))
	counter(c.packetsSentDesc, st.PacketsSent)
	counter(c.packetsRecvDesc, st.PacketsReceived)
	counter(c.bytesSentDesc, st.BytesSent)
	counter(c.bytesRecvDesc, st.BytesReceived)
	counter(c.writeErrorsDesc, st.WriteErrors)
	counter(c.retransmitsDesc, st.Retransmits)
	counter(c.droppedDesc, st.Dropped)
	counter(c.deliveredDesc, st.Delivered)
	gauge(c.pendingCommandsDesc, float64(st.PendingCommands))
	gauge(c.pendingEventsDesc, float64(st.PendingEvents))

	for _, p := range c.statsProvider.PeerStats() {
		id := strconv.Itoa(int(p.ID))
		gauge(c.peerRTTDesc, p.RTT.Seconds(), id)
		gauge(c.peerRTODesc, p.ResendTimeout.Seconds(), id)
		gauge(c.peerJitterDesc, p.Jitter.Seconds(), id)
		gauge(c.peerLossDesc, p.LossRate, id)
		gauge(c.peerInFlightDesc, float64(p.InFlight), id)
		gauge(c.peerQueuedDesc, float64(p.Queued), id)

		open := 0.0
		if p.State == transport.PeerFullyOpen {
			open = 1.0
		}
		gauge(c.peerStateDesc, open, id)
	}
}
