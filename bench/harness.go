// Package bench times repeated invocations of a dispatch and summarises
// the latency distribution.
package bench

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when statistics are requested for no samples
var ErrNoSamples = errors.New("no samples")

// Harness runs timed trials
type Harness struct {
	// Resolution truncates every sample, defaults to time.Millisecond
	Resolution time.Duration

	// OnTrial, when set, observes every sample as it is recorded
	OnTrial func(trial int, d time.Duration)
}

// NewHarness returns a harness with millisecond resolution
func NewHarness() *Harness {
	return &Harness{Resolution: time.Millisecond}
}

// RunTrials calls fn exactly count times with no warm up, sampling the
// monotonic clock immediately before and after each call. Samples are
// returned in trial order. If fn fails, the samples recorded so far are
// returned with the error.
func (h *Harness) RunTrials(fn func() error, count int) ([]time.Duration, error) {
	if count < 0 {
		return nil, fmt.Errorf("invalid trial count %d", count)
	}

	resolution := h.Resolution
	if resolution <= 0 {
		resolution = time.Millisecond
	}

	samples := make([]time.Duration, 0, count)
	for trial := 0; trial < count; trial++ {
		start := time.Now()
		err := fn()
		elapsed := time.Since(start).Truncate(resolution)
		if err != nil {
			return samples, fmt.Errorf("trial %d: %w", trial, err)
		}
		samples = append(samples, elapsed)
		if h.OnTrial != nil {
			h.OnTrial(trial, elapsed)
		}
	}
	return samples, nil
}

// RunTrials runs count trials of fn at millisecond resolution
func RunTrials(fn func() error, count int) ([]time.Duration, error) {
	return NewHarness().RunTrials(fn, count)
}

// Statistics summarises one phase, all values in milliseconds
type Statistics struct {
	Count  int     `json:"count"`
	Total  float64 `json:"total_ms"`
	Mean   float64 `json:"mean_ms"`
	StdDev float64 `json:"stddev_ms"` // Population standard deviation
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
}

// Milliseconds converts samples to floating point milliseconds
func Milliseconds(samples []time.Duration) []float64 {
	ms := make([]float64, len(samples))
	for i, d := range samples {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	return ms
}

// ComputeStatistics returns total, mean and the population standard
// deviation (divisor n, not n-1) of samples
func ComputeStatistics(samples []time.Duration) (Statistics, error) {
	if len(samples) == 0 {
		return Statistics{}, ErrNoSamples
	}

	ms := Milliseconds(samples)
	total := floats.Sum(ms)
	return Statistics{
		Count:  len(ms),
		Total:  total,
		Mean:   total / float64(len(ms)),
		StdDev: stat.PopStdDev(ms, nil),
		Min:    floats.Min(ms),
		Max:    floats.Max(ms),
	}, nil
}

var serialSink float32

// SerialSum computes a[i] + b[i] for every index and discards the result.
// It is the host side baseline for the device dispatch.
func SerialSum(a, b []float32) {
	n := min(len(a), len(b))
	var x float32
	for i := 0; i < n; i++ {
		x = a[i] + b[i]
	}
	serialSink = x
}
