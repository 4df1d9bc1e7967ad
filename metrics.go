package otfgpa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serviceMetrics lives on its own registry so several services can share a process.
type serviceMetrics struct {
	registry       *prometheus.Registry
	filesParsed    *prometheus.CounterVec
	parseFailures  *prometheus.CounterVec
	runsComputed   prometheus.Counter
	runFailures    prometheus.Counter
	missingRefs    *prometheus.CounterVec
	computeSeconds prometheus.Histogram
}

func newServiceMetrics() *serviceMetrics {

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &serviceMetrics{
		registry: reg,
		filesParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otf_gpa",
			Name:      "files_parsed_total",
			Help:      "Uploaded files parsed and stored, by kind.",
		}, []string{"kind"}),
		parseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otf_gpa",
			Name:      "parse_failures_total",
			Help:      "Uploaded files rejected as malformed, by kind.",
		}, []string{"kind"}),
		runsComputed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "otf_gpa",
			Name:      "runs_computed_total",
			Help:      "Runs whose snapshot was written.",
		}),
		runFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "otf_gpa",
			Name:      "run_failures_total",
			Help:      "Runs that failed before a snapshot was written.",
		}),
		missingRefs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otf_gpa",
			Name:      "missing_references_total",
			Help:      "Group or section references that could not be resolved during a run.",
		}, []string{"level"}),
		computeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otf_gpa",
			Name:      "compute_duration_seconds",
			Help:      "Time taken to aggregate and persist a run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
