// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标（Counter/Gauge/Histogram）, 由传输层在收发路径上调用
// =============================================================================
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rudp"

// TransportMetrics 传输层埋点指标
type TransportMetrics struct {
	// 流量相关
	PacketsTotal *prometheus.CounterVec
	BytesTotal   *prometheus.CounterVec

	// 可靠层
	Retransmits *prometheus.CounterVec
	AckRTT      prometheus.Histogram
	Delivered   *prometheus.CounterVec

	// 丢弃
	Drops *prometheus.CounterVec

	// peer 生命周期
	ActivePeers prometheus.Gauge
	PeerEvents  *prometheus.CounterVec
}

// NewTransportMetrics 创建并注册指标集合
func NewTransportMetrics(registry prometheus.Registerer) *TransportMetrics {
	m := &TransportMetrics{
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total datagrams by direction",
		}, []string{"direction"}),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total datagram bytes by direction",
		}, []string{"direction"}),

		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reliable",
			Name:      "retransmits_total",
			Help:      "Total reliable retransmissions by channel",
		}, []string{"channel"}),

		AckRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reliable",
			Name:      "ack_rtt_seconds",
			Help:      "Round trip time sampled from acknowledgements",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		}),

		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Total application payloads delivered by channel",
		}, []string{"channel"}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Total dropped frames by reason",
		}, []string{"reason"}),

		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_peers",
			Help:      "Number of currently registered peers",
		}),

		PeerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_events_total",
			Help:      "Total peer lifecycle events",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.PacketsTotal,
		m.BytesTotal,
		m.Retransmits,
		m.AckRTT,
		m.Delivered,
		m.Drops,
		m.ActivePeers,
		m.PeerEvents,
	)

	return m
}

// RecordPacketSent 记录发出的数据报
func (m *TransportMetrics) RecordPacketSent(size int) {
	m.PacketsTotal.WithLabelValues("out").Inc()
	m.BytesTotal.WithLabelValues("out").Add(float64(size))
}

// RecordPacketReceived 记录收到的数据报
func (m *TransportMetrics) RecordPacketReceived(size int) {
	m.PacketsTotal.WithLabelValues("in").Inc()
	m.BytesTotal.WithLabelValues("in").Add(float64(size))
}

// RecordRetransmit 记录重传
func (m *TransportMetrics) RecordRetransmit(channel uint8) {
	m.Retransmits.WithLabelValues(channelLabel(channel)).Inc()
}

// RecordDrop 记录丢弃
func (m *TransportMetrics) RecordDrop(reason string) {
	m.Drops.WithLabelValues(reason).Inc()
}

// RecordAckRTT 记录 ACK 采样的 RTT
func (m *TransportMetrics) RecordAckRTT(rtt time.Duration) {
	m.AckRTT.Observe(rtt.Seconds())
}

// RecordDelivered 记录交付给上层的负载
func (m *TransportMetrics) RecordDelivered(channel uint8, _ int) {
	m.Delivered.WithLabelValues(channelLabel(channel)).Inc()
}

// RecordPeerAdded 记录 peer 加入
func (m *TransportMetrics) RecordPeerAdded() {
	m.ActivePeers.Inc()
	m.PeerEvents.WithLabelValues("added").Inc()
}

// RecordPeerRemoved 记录 peer 移除
func (m *TransportMetrics) RecordPeerRemoved(timeout bool) {
	m.ActivePeers.Dec()
	if timeout {
		m.PeerEvents.WithLabelValues("timeout").Inc()
	} else {
		m.PeerEvents.WithLabelValues("removed").Inc()
	}
}

func channelLabel(ch uint8) string {
	return strconv.Itoa(int(ch))
}
