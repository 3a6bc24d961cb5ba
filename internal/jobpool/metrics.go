package jobpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chunkserver_jobpool_queue_depth",
		Help: "Jobs submitted but not yet picked up by a worker",
	})
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunkserver_jobpool_jobs_total",
		Help: "Jobs completed, by outcome",
	}, []string{"outcome"})
)

func observeQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func observeJobOutcome(cancelled bool, err error) {
	switch {
	case cancelled:
		jobsTotal.WithLabelValues("cancelled").Inc()
	case err != nil:
		jobsTotal.WithLabelValues("error").Inc()
	default:
		jobsTotal.WithLabelValues("ok").Inc()
	}
}
