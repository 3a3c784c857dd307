package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_admissions_total",
			Help: "Admission decisions by resource and outcome.",
		},
		[]string{"resource", "decision"},
	)

	DenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_denials_total",
			Help: "Admission denials by ceiling kind.",
		},
		[]string{"kind"},
	)

	ActiveOCRJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_ocr_jobs_active",
			Help: "OCR jobs currently queued or processing.",
		},
	)

	OCRJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_ocr_jobs_total",
			Help: "OCR jobs by terminal status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionsTotal,
		DenialsTotal,
		ActiveOCRJobs,
		OCRJobsTotal,
	)
}
