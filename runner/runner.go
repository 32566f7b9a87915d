package runner

import (
	"fmt"
	"io/fs"
	"math/rand/v2"

	"github.com/notargets/KernelBench/accel"
	"github.com/notargets/KernelBench/kernels"
	"github.com/notargets/KernelBench/logging"
	"github.com/sirupsen/logrus"
)

const (
	// ArrayLength is the number of elements in each buffer
	ArrayLength = 60 * 180 * 10_000
	// BufferSize is the byte size of each buffer
	BufferSize = ArrayLength * accel.ElementSize
)

// Binding slots of the elementwise add kernel
const (
	SlotA = iota
	SlotB
	SlotResult
)

// Config holds configuration for creating a Runner
type Config struct {
	Length     int    // Elements per buffer, defaults to ArrayLength
	Seed       uint64 // Operand fill seed, defaults to 1
	Module     fs.FS  // Kernel modules, defaults to kernels.FS
	ModulePath string // Defaults to kernels.AddArraysPath
	EntryPoint string // Defaults to kernels.EntryPoint
}

func (c Config) withDefaults() Config {
	if c.Length == 0 {
		c.Length = ArrayLength
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.Module == nil {
		c.Module = kernels.FS
		if c.ModulePath == "" {
			c.ModulePath = kernels.AddArraysPath
		}
	}
	if c.EntryPoint == "" {
		c.EntryPoint = kernels.EntryPoint
	}
	return c
}

// Runner owns the compiled add pipeline, its command queue and the three
// shared buffers. The device is borrowed and must outlive the Runner.
//
// Dispatch is synchronous: the wait for completion at the end of each
// Dispatch is the only point where device writes to the result buffer
// become visible to the host.
type Runner struct {
	device   accel.Device
	pipeline accel.Pipeline
	queue    accel.Queue

	bufferA accel.Buffer
	bufferB accel.Buffer
	result  accel.Buffer

	length int
	rng    *rand.Rand
	log    *logrus.Entry
}

// NewRunner loads the kernel module, builds the pipeline, creates the queue,
// allocates the buffers and fills the operands. On failure everything
// acquired so far is released and the classified error is returned.
func NewRunner(device accel.Device, cfg Config) (*Runner, error) {
	if device == nil {
		return nil, &accel.Error{Kind: accel.KindInitialization, Op: "NewRunner", Detail: "nil device"}
	}
	if cfg.Length < 0 {
		return nil, &accel.Error{Kind: accel.KindBufferAllocation, Op: "NewRunner",
			Detail: fmt.Sprintf("invalid length %d", cfg.Length)}
	}
	cfg = cfg.withDefaults()

	kr := &Runner{
		device: device,
		length: cfg.Length,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log: logging.WithFields(logrus.Fields{
			"mode":   device.Mode(),
			"kernel": cfg.EntryPoint,
			"length": cfg.Length,
		}),
	}

	if err := kr.init(cfg); err != nil {
		kr.log.WithField("kind", accel.KindOf(err).String()).WithError(err).
			Error("runner initialization failed")
		kr.Free()
		return nil, err
	}

	kr.log.WithField("group_size", kr.GroupSize()).Debug("runner ready")
	return kr, nil
}

func (kr *Runner) init(cfg Config) error {
	module, err := kr.device.LoadModule(cfg.Module, cfg.ModulePath)
	if err != nil {
		return fmt.Errorf("failed to find the default library: %w", err)
	}

	fn, err := module.Function(cfg.EntryPoint)
	if err != nil {
		return fmt.Errorf("failed to find '%s' function: %w", cfg.EntryPoint, err)
	}

	kr.pipeline, err = kr.device.NewPipeline(fn)
	if err != nil {
		return fmt.Errorf("failed to create pipeline state: %w", err)
	}

	kr.queue, err = kr.device.NewQueue()
	if err != nil {
		return fmt.Errorf("failed to create the command queue: %w", err)
	}

	if err := kr.allocateBuffers(); err != nil {
		return err
	}

	return kr.prepareData()
}

// allocateBuffers allocates A, B and the result buffer
func (kr *Runner) allocateBuffers() error {
	var err error
	if kr.bufferA, err = kr.device.NewBuffer(kr.length); err != nil {
		return fmt.Errorf("failed to allocate buffer A: %w", err)
	}
	if kr.bufferB, err = kr.device.NewBuffer(kr.length); err != nil {
		return fmt.Errorf("failed to allocate buffer B: %w", err)
	}
	if kr.result, err = kr.device.NewBuffer(kr.length); err != nil {
		return fmt.Errorf("failed to allocate result buffer: %w", err)
	}

	for name, buf := range map[string]accel.Buffer{"A": kr.bufferA, "B": kr.bufferB, "result": kr.result} {
		if buf.Len() != kr.length {
			return &accel.Error{Kind: accel.KindBufferAllocation, Op: "allocateBuffers",
				Detail: fmt.Sprintf("buffer %s has %d elements, want %d", name, buf.Len(), kr.length)}
		}
	}
	return nil
}

// prepareData fills both operands from the runner's generator and
// publishes them to the device
func (kr *Runner) prepareData() error {
	fillUniform(kr.bufferA.Contents(), kr.rng)
	fillUniform(kr.bufferB.Contents(), kr.rng)

	if err := kr.bufferA.Flush(); err != nil {
		return fmt.Errorf("failed to publish buffer A: %w", err)
	}
	if err := kr.bufferB.Flush(); err != nil {
		return fmt.Errorf("failed to publish buffer B: %w", err)
	}
	return nil
}

// fillUniform writes values in [0,1) drawn from rng
func fillUniform(dst []float32, rng *rand.Rand) {
	for i := range dst {
		dst[i] = rng.Float32()
	}
}

// GroupSize returns the threads per group used by Dispatch
func (kr *Runner) GroupSize() int {
	if kr.pipeline == nil {
		return 0
	}
	return min(kr.pipeline.MaxThreadsPerGroup(), kr.length)
}

// Len returns the number of elements per buffer
func (kr *Runner) Len() int { return kr.length }

// Mode returns the device mode
func (kr *Runner) Mode() string { return kr.device.Mode() }

// Dispatch runs one full elementwise add over the buffers and blocks until
// the device reports completion. A and B are left unmodified; the result
// buffer is overwritten.
func (kr *Runner) Dispatch() error {
	if kr.queue == nil {
		return dispatchError("Dispatch", &accel.Error{Kind: accel.KindDispatch, Op: "Dispatch", Detail: "runner freed"})
	}
	cb, err := kr.queue.CommandBuffer()
	if err != nil {
		return dispatchError("CommandBuffer", err)
	}

	kr.encodeAddCommand(cb)

	if err := cb.Commit(); err != nil {
		return dispatchError("Commit", err)
	}
	if err := cb.WaitUntilCompleted(); err != nil {
		return dispatchError("WaitUntilCompleted", err)
	}
	return nil
}

func (kr *Runner) encodeAddCommand(cb accel.CommandBuffer) {
	cb.SetPipeline(kr.pipeline)
	cb.SetBuffer(kr.bufferA, SlotA)
	cb.SetBuffer(kr.bufferB, SlotB)
	cb.SetBuffer(kr.result, SlotResult)
	cb.DispatchThreads(kr.length, kr.GroupSize())
}

// dispatchError classifies unclassified backend errors as dispatch failures
func dispatchError(op string, err error) error {
	if accel.KindOf(err) == 0 {
		err = &accel.Error{Kind: accel.KindDispatch, Op: op, Err: err}
	}
	return fmt.Errorf("dispatch failed: %w", err)
}

// OperandA returns a copy of buffer A
func (kr *Runner) OperandA() []float32 {
	return snapshot(kr.bufferA)
}

// OperandB returns a copy of buffer B
func (kr *Runner) OperandB() []float32 {
	return snapshot(kr.bufferB)
}

// Result syncs the result buffer and returns a copy of it
func (kr *Runner) Result() ([]float32, error) {
	if err := kr.result.Sync(); err != nil {
		return nil, fmt.Errorf("failed to read result buffer: %w", err)
	}
	return snapshot(kr.result), nil
}

func snapshot(buf accel.Buffer) []float32 {
	src := buf.Contents()
	out := make([]float32, len(src))
	copy(out, src)
	return out
}

// Verify checks the result buffer against A + B. The first mismatch, if
// any, is logged and returned; success is silent.
func (kr *Runner) Verify() (*Mismatch, error) {
	if err := kr.result.Sync(); err != nil {
		return nil, fmt.Errorf("failed to read result buffer: %w", err)
	}

	m := Verify(kr.bufferA.Contents(), kr.bufferB.Contents(), kr.result.Contents())
	if m != nil {
		kr.log.WithFields(logrus.Fields{
			"index":    m.Index,
			"result":   m.Actual,
			"expected": m.Expected,
		}).Warn(m.Error())
	}
	return m, nil
}

// Free releases buffers, queue and pipeline in reverse order of creation.
// The device is not released. Free is safe to call more than once.
func (kr *Runner) Free() {
	for _, buf := range []*accel.Buffer{&kr.result, &kr.bufferB, &kr.bufferA} {
		if *buf != nil {
			(*buf).Free()
			*buf = nil
		}
	}
	if kr.queue != nil {
		kr.queue.Free()
		kr.queue = nil
	}
	if kr.pipeline != nil {
		kr.pipeline.Free()
		kr.pipeline = nil
	}
}
