package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// download-convert-retain pipeline.
type Metrics struct {
	CycleProbes   prometheus.Counter
	CyclesLocated prometheus.Counter

	// Download metrics.
	Downloads        *prometheus.CounterVec // labels: outcome={success,failure}
	DownloadBytes    prometheus.Counter
	DownloadDuration prometheus.Histogram

	Conversions    *prometheus.CounterVec // labels: outcome={success,failure}
	UpdateRunning  prometheus.Gauge
	LastUpdateUnix prometheus.Gauge

	// Store maintenance metrics.
	RetentionStoresRewritten prometheus.Counter
	RetentionRunsDropped     prometheus.Counter
	StoreChecks              *prometheus.CounterVec // labels: result={ok,mismatch,unreadable,no_axis}
	StoreInitEntries         prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CycleProbes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "cycle_probes_total",
			Help:      "Total NOMADS day-directory existence probes issued.",
		}),
		CyclesLocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "cycles_located_total",
			Help:      "Total cycles successfully located upstream.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "downloads_total",
			Help:      "Forecast-hour file downloads by outcome.",
		}, []string{"outcome"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "download_bytes_total",
			Help:      "Total bytes of GRIB2 data fetched from the grib filter.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nam_etl",
			Name:      "download_duration_seconds",
			Help:      "Duration of a single forecast-hour download.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "conversions_total",
			Help:      "GRIB-to-Zarr conversions by outcome.",
		}, []string{"outcome"}),
		UpdateRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nam_etl",
			Name:      "update_running",
			Help:      "1 while an operational update is in progress, 0 otherwise.",
		}),
		LastUpdateUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nam_etl",
			Name:      "last_successful_update_timestamp_seconds",
			Help:      "Unix time of the last completed operational update.",
		}),
		RetentionStoresRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "retention_stores_rewritten_total",
			Help:      "Stores rewritten by the retention manager.",
		}),
		RetentionRunsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "retention_runs_dropped_total",
			Help:      "Init-time entries removed across all retention rewrites.",
		}),
		StoreChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nam_etl",
			Name:      "store_checks_total",
			Help:      "Consistency check results by outcome.",
		}, []string{"result"}),
		StoreInitEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nam_etl",
			Name:      "store_init_entries",
			Help:      "Length of the primary store's init_time axis after the last update.",
		}),
	}

	prometheus.MustRegister(
		m.CycleProbes,
		m.CyclesLocated,
		m.Downloads,
		m.DownloadBytes,
		m.DownloadDuration,
		m.Conversions,
		m.UpdateRunning,
		m.LastUpdateUnix,
		m.RetentionStoresRewritten,
		m.RetentionRunsDropped,
		m.StoreChecks,
		m.StoreInitEntries,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CycleProbes:              prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nam_etl", Name: "cycle_probes_total"}),
		CyclesLocated:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nam_etl", Name: "cycles_located_total"}),
		Downloads:                prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "nam_etl", Name: "downloads_total"}, []string{"outcome"}),
		DownloadBytes:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nam_etl", Name: "download_bytes_total"}),
		DownloadDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "nam_etl", Name: "download_duration_seconds"}),
		Conversions:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "nam_etl", Name: "conversions_total"}, []string{"outcome"}),
		UpdateRunning:            prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "nam_etl", Name: "update_running"}),
		LastUpdateUnix:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "nam_etl", Name: "last_successful_update_timestamp_seconds"}),
		RetentionStoresRewritten: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nam_etl", Name: "retention_stores_rewritten_total"}),
		RetentionRunsDropped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "nam_etl", Name: "retention_runs_dropped_total"}),
		StoreChecks:              prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "nam_etl", Name: "store_checks_total"}, []string{"result"}),
		StoreInitEntries:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "nam_etl", Name: "store_init_entries"}),
	}
}
