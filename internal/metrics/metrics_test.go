// =============================================================================
// 文件: internal/metrics/metrics_test.go
// 描述: 指标与健康检查测试
// =============================================================================
package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/rudp/internal/logging"
	"github.com/mrcgq/rudp/internal/transport"
)

var _ transport.MetricsRecorder = (*TransportMetrics)(nil)

type fakeStats struct {
	stats transport.Stats
	peers []transport.PeerStats
}

func (f *fakeStats) Stats() transport.Stats         { return f.stats }
func (f *fakeStats) PeerStats() []transport.PeerStats { return f.peers }

func TestTransportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTransportMetrics(reg)

	m.RecordPacketSent(100)
	m.RecordPacketSent(50)
	m.RecordPacketReceived(30)
	m.RecordRetransmit(2)
	m.RecordDrop("duplicate")
	m.RecordDrop("duplicate")
	m.RecordAckRTT(40 * time.Millisecond)
	m.RecordDelivered(1, 10)
	m.RecordPeerAdded()
	m.RecordPeerAdded()
	m.RecordPeerRemoved(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsTotal.WithLabelValues("out")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("out")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retransmits.WithLabelValues("2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Drops.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Delivered.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivePeers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PeerEvents.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AckRTT))
}

func TestConnectionCollector(t *testing.T) {
	provider := &fakeStats{
		stats: transport.Stats{Peers: 2, PacketsSent: 10, Retransmits: 3},
		peers: []transport.PeerStats{
			{ID: 2, RTT: 100 * time.Millisecond, State: transport.PeerFullyOpen, InFlight: 4},
			{ID: 3, RTT: 50 * time.Millisecond, State: transport.PeerHalfOpen},
		},
	}
	c := NewConnectionCollector(provider)

	// 11 个连接级指标 + 每个 peer 7 个
	assert.Equal(t, 11+2*7, testutil.CollectAndCount(c))

	expected := `
# HELP rudp_connection_peer_rtt_seconds Smoothed round trip time per peer
# TYPE rudp_connection_peer_rtt_seconds gauge
rudp_connection_peer_rtt_seconds{peer="2"} 0.1
rudp_connection_peer_rtt_seconds{peer="3"} 0.05
# HELP rudp_connection_retransmits_total Total reliable retransmissions
# TYPE rudp_connection_retransmits_total counter
rudp_connection_retransmits_total 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"rudp_connection_peer_rtt_seconds", "rudp_connection_retransmits_total")
	assert.NoError(t, err)
}

func TestHealthReporter(t *testing.T) {
	provider := &fakeStats{stats: transport.Stats{Peers: 1, PacketsSent: 100}}
	h := NewHealthReporter(provider, "test")

	st := h.Check()
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, "test", st.Version)

	provider.stats.WriteErrors = 50
	st = h.Check()
	assert.Equal(t, StatusDegraded, st.Status)
	assert.Equal(t, StatusDegraded, st.Components["socket"].Status)
}

func TestMetricsServerHandler(t *testing.T) {
	s := NewMetricsServer("127.0.0.1:0", "/metrics", "/health", false, logging.Discard())
	provider := &fakeStats{stats: transport.Stats{Peers: 1}}
	s.MustRegisterCollector(NewConnectionCollector(provider))
	s.SetHealthCheck(NewHealthReporter(provider, "test").Check)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	assert.Equal(t, StatusHealthy, status.Status)

	resp3, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	s.SetHealthy(false)
	resp4, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp4.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp4.StatusCode)
}
