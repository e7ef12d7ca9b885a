package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	jobsTotal             *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	activeJobs            prometheus.Gauge
	variantsProducedTotal prometheus.Counter
	variantsSkippedTotal  prometheus.Counter
	bytesDownloadedTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetask_worker_jobs_total",
			Help: "Total worker jobs by job type and final task status.",
		}, []string{"job_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetask_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagetask_worker_active_jobs",
			Help: "Current number of active processing jobs in the worker.",
		}),
		variantsProducedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetask_worker_variants_produced_total",
			Help: "Total resized variants persisted by the worker.",
		}),
		variantsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetask_worker_variants_skipped_total",
			Help: "Total target resolutions skipped because the source was too narrow.",
		}),
		bytesDownloadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetask_worker_bytes_downloaded_total",
			Help: "Total bytes downloaded from remote image sources.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.variantsProducedTotal,
		m.variantsSkippedTotal,
		m.bytesDownloadedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
