package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the daemon exposes on
// METRICS_LISTEN_PORT.
type Metrics struct {
	ChunkOpsTotal      *prometheus.CounterVec
	ChunkOpDuration    *prometheus.HistogramVec
	StatusTotal        *prometheus.CounterVec
	ChunksIndexed      prometheus.Gauge
	FoldersDamaged     prometheus.Gauge
	SpaceAvailBytes    prometheus.Gauge
	SpaceTotalBytes    prometheus.Gauge
	ClientConnsActive  prometheus.Gauge
	PeerConnsActive    prometheus.Gauge
	MasterConnected    prometheus.Gauge
	ReplicationsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunkOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkserver_chunk_ops_total",
			Help: "Chunk operations processed, by operation and outcome",
		}, []string{"op", "status"}),

		ChunkOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunkserver_chunk_op_duration_seconds",
			Help:    "Chunk operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),

		StatusTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkserver_status_total",
			Help: "Response status codes returned to clients/master, by status",
		}, []string{"status"}),

		ChunksIndexed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_chunks_indexed",
			Help: "Chunks currently present in the local index",
		}),

		FoldersDamaged: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_folders_damaged",
			Help: "Folders currently marked damaged",
		}),

		SpaceAvailBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_space_avail_bytes",
			Help: "Available space across all non-damaged folders",
		}),

		SpaceTotalBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_space_total_bytes",
			Help: "Total space across all non-damaged folders",
		}),

		ClientConnsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_client_conns_active",
			Help: "Active client (CLTOCS) connections",
		}),

		PeerConnsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_peer_conns_active",
			Help: "Active peer (CSTOCS) connections",
		}),

		MasterConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chunkserver_master_connected",
			Help: "1 if connected to the master, 0 otherwise",
		}),

		ReplicationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkserver_replications_total",
			Help: "Replication pulls performed, by outcome",
		}, []string{"outcome"}),
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
