package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the pool's Prometheus surface (spec §4.8 progress reporting,
// generalized to a scrape-friendly form the way
// kenchrcum-s3-encryption-gateway's middleware exposes request counters).
// A caller that doesn't care about metrics can pass NewMetrics(nil), which
// registers against a throwaway registry and is always safe to call.
type Metrics struct {
	Registry        *prometheus.Registry
	ActiveDownloads prometheus.Gauge
	BytesDownloaded prometheus.Counter
	DownloadErrors  prometheus.Counter
	FilesCompleted  prometheus.Counter
}

// NewMetrics builds a Metrics bound to reg, or to a fresh private registry
// if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Registry: reg,
		ActiveDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "megadl_active_downloads",
			Help: "Number of downloads currently being processed by a worker.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megadl_bytes_downloaded_total",
			Help: "Total bytes written to disk across all downloads.",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megadl_download_errors_total",
			Help: "Total downloads that ended in a non-cancellation error.",
		}),
		FilesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "megadl_files_completed_total",
			Help: "Total downloads that finished successfully.",
		}),
	}
	reg.MustRegister(m.ActiveDownloads, m.BytesDownloaded, m.DownloadErrors, m.FilesCompleted)
	return m
}
