package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Transfer metrics
	SessionsTotal         *prometheus.CounterVec
	SessionsActive        prometheus.Gauge
	SessionDuration       prometheus.Histogram
	BytesTransferredTotal *prometheus.CounterVec
	ChunksSentTotal       prometheus.Counter
	ChunksReceivedTotal   prometheus.Counter
	ChunksRetransmitted   *prometheus.CounterVec

	// Connection metrics
	TCPConnectionsTotal   *prometheus.CounterVec
	TCPConnectionsActive  prometheus.Gauge
	TCPConnectionDuration prometheus.Histogram
	HandshakeFailures     *prometheus.CounterVec

	// Discovery metrics
	PeersOnline             prometheus.Gauge
	DiscoveryPacketsSent    prometheus.Counter
	DiscoveryPacketsDropped prometheus.Counter

	// Crypto metrics
	CryptoOperationsTotal   *prometheus.CounterVec
	CryptoOperationDuration prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal *prometheus.CounterVec
	DBFlushDuration         prometheus.Histogram

	activeSessions int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_sessions_total", Help: "Total transfer sessions initiated"},
			[]string{"status"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Name: "meshdrop_sessions_active", Help: "Currently active transfer sessions"},
		),
		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshdrop_session_duration_seconds",
				Help:    "Session completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			},
		),
		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_bytes_transferred_total", Help: "Total bytes transferred"},
			[]string{"direction"},
		),
		ChunksSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "meshdrop_chunks_sent_total", Help: "Total chunks sent"},
		),
		ChunksReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{Name: "meshdrop_chunks_received_total", Help: "Total chunks received"},
		),
		ChunksRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_chunks_retransmitted_total", Help: "Chunks requiring retransmission"},
			[]string{"reason"},
		),
		TCPConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_tcp_connections_total", Help: "TCP connection attempts"},
			[]string{"result"},
		),
		TCPConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{Name: "meshdrop_tcp_connections_active", Help: "Active TCP connections"},
		),
		TCPConnectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshdrop_tcp_connection_duration_seconds",
				Help:    "TCP connection lifetime",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		HandshakeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_handshake_failures_total", Help: "Handshake failures by reason"},
			[]string{"reason"},
		),
		PeersOnline: promauto.NewGauge(
			prometheus.GaugeOpts{Name: "meshdrop_peers_online", Help: "Peers currently visible via discovery"},
		),
		DiscoveryPacketsSent: promauto.NewCounter(
			prometheus.CounterOpts{Name: "meshdrop_discovery_packets_sent_total", Help: "UDP discovery broadcasts sent"},
		),
		DiscoveryPacketsDropped: promauto.NewCounter(
			prometheus.CounterOpts{Name: "meshdrop_discovery_packets_dropped_total", Help: "Malformed discovery packets dropped"},
		),
		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_crypto_operations_total", Help: "Cryptographic operations performed"},
			[]string{"operation"},
		),
		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshdrop_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "meshdrop_database_operations_total", Help: "Database operation count"},
			[]string{"operation", "result"},
		),
		DBFlushDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meshdrop_db_flush_duration_seconds",
				Help:    "Checkpoint flush latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
	}
}

// RecordSessionStart increments active-session counters.
func (m *Metrics) RecordSessionStart() {
	atomic.AddInt64(&m.activeSessions, 1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))
}

// RecordSessionComplete records terminal-transition metrics.
func (m *Metrics) RecordSessionComplete(status string, durationSeconds float64) {
	atomic.AddInt64(&m.activeSessions, -1)
	m.SessionsActive.Set(float64(atomic.LoadInt64(&m.activeSessions)))
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordChunkSent updates metrics for a sent chunk.
func (m *Metrics) RecordChunkSent(bytes int) {
	m.ChunksSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordChunkReceived updates metrics for a received chunk.
func (m *Metrics) RecordChunkReceived(bytes int) {
	m.ChunksReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordChunkRetransmit increments retransmit counters.
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordTCPConnection logs TCP connection attempts.
func (m *Metrics) RecordTCPConnection(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.TCPConnectionsTotal.WithLabelValues(result).Inc()
	if success {
		m.TCPConnectionsActive.Inc()
	}
}

// RecordTCPConnectionClose updates metrics for a closed TCP connection.
func (m *Metrics) RecordTCPConnectionClose(durationSeconds float64) {
	m.TCPConnectionsActive.Dec()
	m.TCPConnectionDuration.Observe(durationSeconds)
}

// RecordHandshakeFailure increments the handshake-failure counter.
func (m *Metrics) RecordHandshakeFailure(reason string) {
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}

// SetPeersOnline sets the current count of discovered online peers.
func (m *Metrics) SetPeersOnline(n int) {
	m.PeersOnline.Set(float64(n))
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
