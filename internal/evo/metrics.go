package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ensembleda/internal/network"
)

var (
	generationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensembleda_generations_total",
		Help: "Total number of completed generations",
	})

	samplesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensembleda_samples_discarded_total",
		Help: "Sampled configurations discarded by the chain sampler",
	}, []string{"reason"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ensembleda_evaluation_duration_seconds",
		Help:    "Duration of single ensemble evaluations",
		Buckets: prometheus.DefBuckets,
	})

	bestQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ensembleda_best_quality",
		Help: "Overall best learn quality of the most recent generation",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ensembleda_runs_total",
		Help: "Finished runs by stop reason",
	}, []string{"stop_reason"})
)

func recordSampling(stats network.SampleStats) {
	samplesDiscarded.WithLabelValues("burn_in").Add(float64(stats.BurnIn))
	samplesDiscarded.WithLabelValues("thinned").Add(float64(stats.Thinned))
	samplesDiscarded.WithLabelValues("invalid").Add(float64(stats.Invalid))
}
