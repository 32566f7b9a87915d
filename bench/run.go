package bench

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/notargets/KernelBench/logging"
	"github.com/notargets/KernelBench/runner"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"
)

// Phase labels
const (
	DevicePhase = "GPU computation"
	HostPhase   = "CPU computation"
)

// DefaultIterations is the trial count of each phase
const DefaultIterations = 100

// Dispatcher is the device side of a benchmark run
type Dispatcher interface {
	Dispatch() error
	Verify() (*runner.Mismatch, error)
	OperandA() []float32
	OperandB() []float32
	Mode() string
	Len() int
}

// Options configures Run
type Options struct {
	Iterations int      // Trials per phase, defaults to DefaultIterations
	RunID      string   // Defaults to a random UUID
	Harness    *Harness // Defaults to NewHarness()
}

// Phase is the timing record of one benchmark phase
type Phase struct {
	Label   string          `json:"label"`
	Samples []time.Duration `json:"samples_ns"`
	Stats   Statistics      `json:"stats"`
}

// HostInfo describes the machine running the serial baseline
type HostInfo struct {
	GOOS     string   `json:"goos"`
	GOARCH   string   `json:"goarch"`
	NumCPU   int      `json:"num_cpu"`
	Features []string `json:"cpu_features"`
}

// Result is the outcome of a complete benchmark run
type Result struct {
	RunID      string           `json:"run_id"`
	Mode       string           `json:"mode"`
	Length     int              `json:"length"`
	Iterations int              `json:"iterations"`
	Started    time.Time        `json:"started"`
	Phases     []Phase          `json:"phases"`
	Mismatch   *runner.Mismatch `json:"mismatch,omitempty"`
	Host       HostInfo         `json:"host"`
}

// Phase returns the phase with the given label
func (r *Result) Phase(label string) (Phase, bool) {
	for _, p := range r.Phases {
		if p.Label == label {
			return p, true
		}
	}
	return Phase{}, false
}

// Run benchmarks d: Iterations synchronous dispatches, one verification,
// then Iterations serial host sums over copies of the same operands.
// A verification mismatch is recorded, never fatal.
func Run(d Dispatcher, opts Options) (*Result, error) {
	if opts.Iterations == 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Iterations < 0 {
		return nil, fmt.Errorf("invalid iteration count %d", opts.Iterations)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	h := opts.Harness
	if h == nil {
		h = NewHarness()
	}

	log := logging.WithFields(logrus.Fields{
		"run_id": opts.RunID,
		"mode":   d.Mode(),
		"length": d.Len(),
	})

	res := &Result{
		RunID:      opts.RunID,
		Mode:       d.Mode(),
		Length:     d.Len(),
		Iterations: opts.Iterations,
		Started:    time.Now(),
		Host:       CurrentHost(),
	}

	log.Infof("benchmarking %d dispatches", opts.Iterations)
	devicePhase, err := runPhase(h, DevicePhase, d.Dispatch, opts.Iterations, log)
	if err != nil {
		return nil, err
	}
	res.Phases = append(res.Phases, devicePhase)

	res.Mismatch, err = d.Verify()
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	a, b := d.OperandA(), d.OperandB()
	serial := func() error {
		SerialSum(a, b)
		return nil
	}
	log.Infof("benchmarking %d serial host sums", opts.Iterations)
	hostPhase, err := runPhase(h, HostPhase, serial, opts.Iterations, log)
	if err != nil {
		return nil, err
	}
	res.Phases = append(res.Phases, hostPhase)

	return res, nil
}

func runPhase(h *Harness, label string, fn func() error, count int, log *logrus.Entry) (Phase, error) {
	samples, err := h.RunTrials(fn, count)
	if err != nil {
		log.WithError(err).WithField("phase", label).Error("phase aborted")
		return Phase{}, fmt.Errorf("%s: %w", label, err)
	}
	for i, s := range samples {
		log.WithField("phase", label).Debugf("trial %d took %s", i, s)
	}

	p := Phase{Label: label, Samples: samples}
	if count > 0 {
		if p.Stats, err = ComputeStatistics(samples); err != nil {
			return Phase{}, fmt.Errorf("%s: %w", label, err)
		}
	}
	log.WithFields(logrus.Fields{
		"phase":  label,
		"mean":   p.Stats.Mean,
		"stddev": p.Stats.StdDev,
	}).Info("phase complete")
	return p, nil
}

// CurrentHost reports the host architecture and its SIMD features
func CurrentHost() HostInfo {
	info := HostInfo{
		GOOS:   runtime.GOOS,
		GOARCH: runtime.GOARCH,
		NumCPU: runtime.NumCPU(),
	}

	features := []struct {
		name    string
		present bool
	}{
		{"sse4.1", cpu.X86.HasSSE41},
		{"avx", cpu.X86.HasAVX},
		{"avx2", cpu.X86.HasAVX2},
		{"fma", cpu.X86.HasFMA},
		{"avx512f", cpu.X86.HasAVX512F},
		{"asimd", cpu.ARM64.HasASIMD},
		{"fphp", cpu.ARM64.HasFPHP},
		{"sve", cpu.ARM64.HasSVE},
	}
	for _, f := range features {
		if f.present {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}
