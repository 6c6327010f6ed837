package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "silly_media",
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs reaching a terminal state",
	}, []string{"kind", "status"})
	jobsQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "silly_media",
		Subsystem: "jobs",
		Name:      "queued",
		Help:      "Jobs waiting for a worker",
	}, []string{"kind"})
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "silly_media",
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Processing time of finished jobs",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(jobsFinished, jobsQueued, jobDuration)
}
