package report

import (
	"fmt"

	"github.com/notargets/KernelBench/bench"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kernelbench"

// Latency buckets in seconds, from sub-millisecond dispatches up to
// multi-second serial sums
var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

type phaseMetrics struct {
	latency    *prometheus.HistogramVec
	mean       *prometheus.GaugeVec
	stddev     *prometheus.GaugeVec
	total      *prometheus.GaugeVec
	mismatches *prometheus.GaugeVec
}

func newPhaseMetrics(reg prometheus.Registerer) *phaseMetrics {
	m := &phaseMetrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "iteration_seconds",
			Help:      "Wall clock time of one benchmark iteration",
			Buckets:   latencyBuckets,
		}, []string{"phase", "mode"}),
		mean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "mean_milliseconds",
			Help:      "Mean iteration time of the phase",
		}, []string{"phase", "mode"}),
		stddev: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "stddev_milliseconds",
			Help:      "Population standard deviation of the iteration time",
		}, []string{"phase", "mode"}),
		total: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "total_milliseconds",
			Help:      "Sum of all iteration times of the phase",
		}, []string{"phase", "mode"}),
		mismatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verification_failed",
			Help:      "1 when the device result did not match the host sum",
		}, []string{"mode"}),
	}
	reg.MustRegister(m.latency, m.mean, m.stddev, m.total, m.mismatches)
	return m
}

func (m *phaseMetrics) observe(res *bench.Result) {
	for _, p := range res.Phases {
		for _, s := range p.Samples {
			m.latency.WithLabelValues(p.Label, res.Mode).Observe(s.Seconds())
		}
		m.mean.WithLabelValues(p.Label, res.Mode).Set(p.Stats.Mean)
		m.stddev.WithLabelValues(p.Label, res.Mode).Set(p.Stats.StdDev)
		m.total.WithLabelValues(p.Label, res.Mode).Set(p.Stats.Total)
	}
	failed := 0.0
	if res.Mismatch != nil {
		failed = 1
	}
	m.mismatches.WithLabelValues(res.Mode).Set(failed)
}

// Registry returns a private registry holding the metrics of res
func Registry(res *bench.Result) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	newPhaseMetrics(reg).observe(res)
	return reg
}

// WriteMetrics writes res in the Prometheus text exposition format, suitable
// for the node exporter textfile collector
func WriteMetrics(path string, res *bench.Result) error {
	if res == nil {
		return fmt.Errorf("no result to write")
	}
	if err := prometheus.WriteToTextfile(path, Registry(res)); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
