package runner

import (
	"errors"
	"io/fs"
	"math"
	"testing"
	"testing/fstest"

	"github.com/notargets/KernelBench/accel"
	"github.com/notargets/KernelBench/kernels"
	"github.com/notargets/KernelBench/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Section 1: Construction
// ============================================================================

func newHostRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	device := accel.NewHostDevice(accel.HostOptions{})
	t.Cleanup(device.Free)

	kr, err := NewRunner(device, cfg)
	require.NoError(t, err)
	t.Cleanup(kr.Free)
	return kr
}

func TestNewRunner_NilDevice(t *testing.T) {
	kr, err := NewRunner(nil, Config{Length: 16})
	assert.Nil(t, kr)
	assert.ErrorIs(t, err, accel.ErrInitialization)
}

func TestNewRunner_NegativeLength(t *testing.T) {
	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	kr, err := NewRunner(device, Config{Length: -1})
	assert.Nil(t, kr)
	assert.ErrorIs(t, err, accel.ErrBufferAllocation)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, ArrayLength, cfg.Length)
	assert.Equal(t, uint64(1), cfg.Seed)
	assert.Equal(t, kernels.AddArraysPath, cfg.ModulePath)
	assert.Equal(t, kernels.EntryPoint, cfg.EntryPoint)
	assert.Equal(t, 108_000_000, ArrayLength)
	assert.Equal(t, ArrayLength*4, BufferSize)
}

// faultyDevice wraps a host device, fails at one construction step and
// records the order in which resources are released
type faultyDevice struct {
	accel.Device
	failAt    string
	failAfter int // buffer allocations allowed before failing
	allocs    int
	freed     []string
}

func newFaultyDevice(failAt string) *faultyDevice {
	return &faultyDevice{Device: accel.NewHostDevice(accel.HostOptions{}), failAt: failAt, failAfter: 2}
}

func (d *faultyDevice) LoadModule(fsys fs.FS, path string) (accel.Module, error) {
	if d.failAt == "load" {
		return nil, &accel.Error{Kind: accel.KindInitialization, Op: "LoadModule", Detail: "library missing"}
	}
	return d.Device.LoadModule(fsys, path)
}

func (d *faultyDevice) NewPipeline(fn accel.Function) (accel.Pipeline, error) {
	if d.failAt == "pipeline" {
		return nil, &accel.Error{Kind: accel.KindPipelineCreation, Op: "NewPipeline",
			Detail: "unsupported instruction"}
	}
	p, err := d.Device.NewPipeline(fn)
	if err != nil {
		return nil, err
	}
	return &trackedPipeline{Pipeline: p, dev: d}, nil
}

func (d *faultyDevice) NewQueue() (accel.Queue, error) {
	if d.failAt == "queue" {
		return nil, &accel.Error{Kind: accel.KindQueueCreation, Op: "NewQueue"}
	}
	q, err := d.Device.NewQueue()
	if err != nil {
		return nil, err
	}
	return &trackedQueue{Queue: q, dev: d}, nil
}

func (d *faultyDevice) NewBuffer(n int) (accel.Buffer, error) {
	if d.failAt == "buffer" && d.allocs >= d.failAfter {
		return nil, &accel.Error{Kind: accel.KindBufferAllocation, Op: "NewBuffer"}
	}
	d.allocs++
	b, err := d.Device.NewBuffer(n)
	if err != nil {
		return nil, err
	}
	return &trackedBuffer{Buffer: b, dev: d}, nil
}

type trackedPipeline struct {
	accel.Pipeline
	dev *faultyDevice
}

func (p *trackedPipeline) Free() {
	p.dev.freed = append(p.dev.freed, "pipeline")
	p.Pipeline.Free()
}

type trackedQueue struct {
	accel.Queue
	dev *faultyDevice
}

func (q *trackedQueue) Free() {
	q.dev.freed = append(q.dev.freed, "queue")
	q.Queue.Free()
}

type trackedBuffer struct {
	accel.Buffer
	dev *faultyDevice
}

func (b *trackedBuffer) Free() {
	b.dev.freed = append(b.dev.freed, "buffer")
	b.Buffer.Free()
}

func TestNewRunner_ConstructionErrors(t *testing.T) {
	testCases := []struct {
		name      string
		failAt    string
		wantErr   error
		wantFreed []string
	}{
		{"module unavailable", "load", accel.ErrInitialization, nil},
		{"pipeline rejected", "pipeline", accel.ErrPipelineCreation, nil},
		{"queue rejected", "queue", accel.ErrQueueCreation, []string{"pipeline"}},
		{"buffer rejected", "buffer", accel.ErrBufferAllocation,
			[]string{"buffer", "buffer", "queue", "pipeline"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			device := newFaultyDevice(tc.failAt)
			defer device.Free()

			kr, err := NewRunner(device, Config{Length: 64})
			require.Error(t, err)
			assert.Nil(t, kr)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantFreed, device.freed)
		})
	}
}

func TestNewRunner_PipelineErrorCarriesDiagnostic(t *testing.T) {
	device := newFaultyDevice("pipeline")
	defer device.Free()

	_, err := NewRunner(device, Config{Length: 64})
	require.Error(t, err)

	var ae *accel.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, accel.KindPipelineCreation, ae.Kind)
	assert.Equal(t, "unsupported instruction", ae.Detail)
}

func TestNewRunner_MissingModule(t *testing.T) {
	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	_, err := NewRunner(device, Config{
		Length:     64,
		Module:     fstest.MapFS{},
		ModulePath: "missing.okl",
	})
	assert.ErrorIs(t, err, accel.ErrInitialization)
}

func TestNewRunner_KernelNotFound(t *testing.T) {
	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	module := fstest.MapFS{
		"scale.okl": {Data: []byte("@kernel void scale(real_t *x) {}\n")},
	}
	_, err := NewRunner(device, Config{Length: 64, Module: module, ModulePath: "scale.okl"})
	assert.ErrorIs(t, err, accel.ErrKernelNotFound)
	assert.Contains(t, err.Error(), "addArrays")
}

func TestNewRunner_NoHostImplementation(t *testing.T) {
	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	module := fstest.MapFS{
		"sub.okl": {Data: []byte("@kernel void subArrays(const real_t *A) {}\n")},
	}
	_, err := NewRunner(device, Config{
		Length:     64,
		Module:     module,
		ModulePath: "sub.okl",
		EntryPoint: "subArrays",
	})
	assert.ErrorIs(t, err, accel.ErrPipelineCreation)
}

// ============================================================================
// Section 2: Buffers and operands
// ============================================================================

func TestRunner_AllocatesEqualLengthBuffers(t *testing.T) {
	const n = 1_080_000
	kr := newHostRunner(t, Config{Length: n})

	assert.Equal(t, n, kr.Len())
	assert.Equal(t, n, kr.bufferA.Len())
	assert.Equal(t, n, kr.bufferB.Len())
	assert.Equal(t, n, kr.result.Len())
	assert.Equal(t, int64(n*accel.ElementSize), kr.result.ByteSize())
}

func TestRunner_OperandsInUnitInterval(t *testing.T) {
	kr := newHostRunner(t, Config{Length: 10_000})

	for name, data := range map[string][]float32{"A": kr.OperandA(), "B": kr.OperandB()} {
		for i, v := range data {
			if v < 0 || v >= 1 {
				t.Fatalf("%s[%d] = %v outside [0,1)", name, i, v)
			}
		}
	}
	assert.NotEqual(t, kr.OperandA(), kr.OperandB(), "A and B must be filled independently")
}

func TestRunner_SeededFillIsReproducible(t *testing.T) {
	first := newHostRunner(t, Config{Length: 1000, Seed: 42})
	second := newHostRunner(t, Config{Length: 1000, Seed: 42})
	other := newHostRunner(t, Config{Length: 1000, Seed: 43})

	assert.Equal(t, first.OperandA(), second.OperandA())
	assert.Equal(t, first.OperandB(), second.OperandB())
	assert.NotEqual(t, first.OperandA(), other.OperandA())
}

func TestRunner_OperandAccessorsReturnCopies(t *testing.T) {
	kr := newHostRunner(t, Config{Length: 128})

	a := kr.OperandA()
	original := a[0]
	a[0] = 99
	assert.Equal(t, original, kr.OperandA()[0])
}

// ============================================================================
// Section 3: Dispatch
// ============================================================================

func TestRunner_GroupSize(t *testing.T) {
	testCases := []struct {
		name       string
		maxThreads int
		length     int
		expected   int
	}{
		{"length below limit", 1024, 100, 100},
		{"length above limit", 1024, 5000, 1024},
		{"small limit", 64, 1000, 64},
		{"single element", 1024, 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			device := accel.NewHostDevice(accel.HostOptions{MaxThreadsPerGroup: tc.maxThreads})
			defer device.Free()

			kr, err := NewRunner(device, Config{Length: tc.length})
			require.NoError(t, err)
			defer kr.Free()

			assert.Equal(t, tc.expected, kr.GroupSize())
		})
	}
}

func TestRunner_DispatchComputesExactSum(t *testing.T) {
	lengths := []int{1, 63, 64, 65, 10_007}

	for _, n := range lengths {
		device := accel.NewHostDevice(accel.HostOptions{MaxThreadsPerGroup: 64, Lanes: 3})
		kr, err := NewRunner(device, Config{Length: n})
		require.NoError(t, err)

		require.NoError(t, kr.Dispatch())

		m, err := kr.Verify()
		require.NoError(t, err)
		assert.Nil(t, m, "length %d", n)

		a, b := kr.OperandA(), kr.OperandB()
		result, err := kr.Result()
		require.NoError(t, err)
		for i := range result {
			if math.Float32bits(result[i]) != math.Float32bits(a[i]+b[i]) {
				t.Fatalf("length %d: result[%d] = %v, want %v", n, i, result[i], a[i]+b[i])
			}
		}

		kr.Free()
		device.Free()
	}
}

func TestRunner_OperandsStableAcrossDispatches(t *testing.T) {
	kr := newHostRunner(t, Config{Length: 4096})

	a, b := kr.OperandA(), kr.OperandB()
	for i := 0; i < 5; i++ {
		require.NoError(t, kr.Dispatch())
	}

	assert.Equal(t, a, kr.OperandA())
	assert.Equal(t, b, kr.OperandB())
}

func TestRunner_DispatchOverwritesResult(t *testing.T) {
	kr := newHostRunner(t, Config{Length: 256})

	require.NoError(t, kr.Dispatch())
	for i := range kr.result.Contents() {
		kr.result.Contents()[i] = -1
	}
	require.NoError(t, kr.Dispatch())

	m, err := kr.Verify()
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRunner_VerifyDetectsCorruption(t *testing.T) {
	kr := newHostRunner(t, Config{Length: 1024})
	require.NoError(t, kr.Dispatch())

	a, b := kr.OperandA(), kr.OperandB()
	kr.result.Contents()[5] += 1

	m, err := kr.Verify()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 5, m.Index)
	assert.Equal(t, a[5]+b[5], m.Expected)
	assert.Equal(t, a[5]+b[5]+1, m.Actual)
}

func TestRunner_DispatchFailure(t *testing.T) {
	accel.RegisterHostKernel("explode", func(_ [][]float32, _, _ int) {
		panic("device lost")
	})

	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	module := fstest.MapFS{
		"explode.okl": {Data: []byte("@kernel void explode(const real_t *A, const real_t *B, real_t *result,\n" +
			"                     const int_t N, const int_t groupSize) {}\n")},
	}
	kr, err := NewRunner(device, Config{
		Length:     256,
		Module:     module,
		ModulePath: "explode.okl",
		EntryPoint: "explode",
	})
	require.NoError(t, err)
	defer kr.Free()

	err = kr.Dispatch()
	assert.ErrorIs(t, err, accel.ErrDispatchFailure)
	assert.Contains(t, err.Error(), "device lost")
}

func TestRunner_FreeIsIdempotent(t *testing.T) {
	device := accel.NewHostDevice(accel.HostOptions{})
	defer device.Free()

	kr, err := NewRunner(device, Config{Length: 32})
	require.NoError(t, err)

	kr.Free()
	kr.Free()
	assert.Equal(t, 0, kr.GroupSize())
	assert.ErrorIs(t, kr.Dispatch(), accel.ErrDispatchFailure)
}

// ============================================================================
// Section 4: Default test device
// ============================================================================

func TestRunner_OnTestDevice(t *testing.T) {
	device := utils.CreateTestDevice()
	defer device.Free()

	kr, err := NewRunner(device, Config{Length: 1 << 16})
	require.NoError(t, err)
	defer kr.Free()

	a, b := kr.OperandA(), kr.OperandB()
	for i := 0; i < 3; i++ {
		require.NoError(t, kr.Dispatch(), "mode %s", device.Mode())
	}

	m, err := kr.Verify()
	require.NoError(t, err)
	assert.Nil(t, m, "mode %s", device.Mode())
	assert.Equal(t, a, kr.OperandA())
	assert.Equal(t, b, kr.OperandB())
}
