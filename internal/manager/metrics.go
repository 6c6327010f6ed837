package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "loads_total",
		Help:      "Successful model loads",
	})
	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "load_failures_total",
		Help:      "Failed model loads",
	})
	unloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "unloads_total",
		Help:      "Model unloads by reason (switch, idle, operator)",
	}, []string{"reason"})
	acquireWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "acquire_wait_seconds",
		Help:      "Time spent waiting for the GPU critical section",
		Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 120, 300},
	})
	loadDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "load_duration_seconds",
		Help:      "Model load duration",
		Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
	})
	residentModel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "silly_media",
		Subsystem: "gpu",
		Name:      "resident",
		Help:      "1 when the model is resident on the GPU",
	}, []string{"model"})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadFailuresTotal, unloadsTotal, acquireWaitSeconds, loadDurationSeconds, residentModel)
}
