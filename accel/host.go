package accel

import (
	"fmt"
	"io/fs"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// HostKernel computes the invocation instances [lo, hi) of one thread group.
// buffers holds the bound buffers in slot order.
type HostKernel func(buffers [][]float32, lo, hi int)

var (
	hostKernelsMu sync.RWMutex
	hostKernels   = map[string]HostKernel{
		"addArrays": addArrays,
	}
)

// RegisterHostKernel makes a Go implementation of an entry point available
// to host devices
func RegisterHostKernel(name string, k HostKernel) {
	hostKernelsMu.Lock()
	defer hostKernelsMu.Unlock()
	hostKernels[name] = k
}

func lookupHostKernel(name string) (HostKernel, bool) {
	hostKernelsMu.RLock()
	defer hostKernelsMu.RUnlock()
	k, ok := hostKernels[name]
	return k, ok
}

// addArrays mirrors add_arrays.okl: result[i] = A[i] + B[i]
func addArrays(buffers [][]float32, lo, hi int) {
	a, b, result := buffers[0], buffers[1], buffers[2]
	for i := lo; i < hi; i++ {
		result[i] = a[i] + b[i]
	}
}

// HostOptions configures a HostDevice
type HostOptions struct {
	MaxThreadsPerGroup int // Defaults to 1024
	Lanes              int // Concurrent thread groups, defaults to runtime.NumCPU()
}

// HostDevice executes kernels on the host with Go implementations.
// Its buffers are plain slices, so host and device share storage.
type HostDevice struct {
	opts  HostOptions
	freed bool
}

// NewHostDevice creates a host device
func NewHostDevice(opts HostOptions) *HostDevice {
	if opts.MaxThreadsPerGroup <= 0 {
		opts.MaxThreadsPerGroup = 1024
	}
	if opts.Lanes <= 0 {
		opts.Lanes = runtime.NumCPU()
	}
	return &HostDevice{opts: opts}
}

func (d *HostDevice) Mode() string { return "Host" }

func (d *HostDevice) LoadModule(fsys fs.FS, path string) (Module, error) {
	if d.freed {
		return nil, newError(KindInitialization, "LoadModule", "device is not available", nil)
	}
	return loadSourceModule(fsys, path)
}

func (d *HostDevice) NewPipeline(fn Function) (Pipeline, error) {
	f, err := asFunction(fn)
	if err != nil {
		return nil, err
	}
	if d.freed {
		return nil, newError(KindPipelineCreation, "NewPipeline", "device is not available", nil)
	}
	k, ok := lookupHostKernel(f.name)
	if !ok {
		return nil, newError(KindPipelineCreation, "NewPipeline",
			fmt.Sprintf("no host implementation for kernel %s", f.name), nil)
	}
	return &hostPipeline{name: f.name, kernel: k, maxThreads: d.opts.MaxThreadsPerGroup}, nil
}

func (d *HostDevice) NewQueue() (Queue, error) {
	if d.freed {
		return nil, newError(KindQueueCreation, "NewQueue", "device is not available", nil)
	}
	return &hostQueue{device: d}, nil
}

func (d *HostDevice) NewBuffer(n int) (Buffer, error) {
	if d.freed {
		return nil, newError(KindBufferAllocation, "NewBuffer", "device is not available", nil)
	}
	if n <= 0 {
		return nil, newError(KindBufferAllocation, "NewBuffer",
			fmt.Sprintf("invalid length %d", n), nil)
	}
	return &hostBuffer{data: make([]float32, n)}, nil
}

func (d *HostDevice) Free() { d.freed = true }

type hostPipeline struct {
	name       string
	kernel     HostKernel
	maxThreads int
}

func (p *hostPipeline) Function() string        { return p.name }
func (p *hostPipeline) MaxThreadsPerGroup() int { return p.maxThreads }
func (p *hostPipeline) Free()                   { p.kernel = nil }

type hostQueue struct {
	device *HostDevice
	freed  bool
}

func (q *hostQueue) CommandBuffer() (CommandBuffer, error) {
	if q.freed || q.device.freed {
		return nil, newError(KindDispatch, "CommandBuffer", "queue is not available", nil)
	}
	return &hostCommandBuffer{lanes: q.device.opts.Lanes, buffers: make(map[int]*hostBuffer)}, nil
}

func (q *hostQueue) Free() { q.freed = true }

type hostCommandBuffer struct {
	lanes    int
	pipeline *hostPipeline
	buffers  map[int]*hostBuffer
	grid     int
	group    int
	eg       *errgroup.Group
}

func (cb *hostCommandBuffer) SetPipeline(p Pipeline) {
	cb.pipeline, _ = p.(*hostPipeline)
}

func (cb *hostCommandBuffer) SetBuffer(buf Buffer, index int) {
	if b, ok := buf.(*hostBuffer); ok {
		cb.buffers[index] = b
	}
}

func (cb *hostCommandBuffer) DispatchThreads(grid, threadsPerGroup int) {
	cb.grid = grid
	cb.group = threadsPerGroup
}

// Commit starts the thread groups; each lane runs a contiguous run of groups
func (cb *hostCommandBuffer) Commit() error {
	if cb.eg != nil {
		return newError(KindDispatch, "Commit", "command buffer already committed", nil)
	}
	if cb.pipeline == nil || cb.pipeline.kernel == nil {
		return newError(KindDispatch, "Commit", "no pipeline set", nil)
	}
	if cb.grid <= 0 || cb.group <= 0 || cb.group > cb.pipeline.maxThreads {
		return newError(KindDispatch, "Commit",
			fmt.Sprintf("invalid geometry grid=%d group=%d", cb.grid, cb.group), nil)
	}

	slots := make([]int, 0, len(cb.buffers))
	for idx := range cb.buffers {
		slots = append(slots, idx)
	}
	sort.Ints(slots)
	bound := make([][]float32, len(slots))
	for i, idx := range slots {
		if idx != i {
			return newError(KindDispatch, "Commit", fmt.Sprintf("buffer slot %d not bound", i), nil)
		}
		data := cb.buffers[idx].data
		if len(data) < cb.grid {
			return newError(KindDispatch, "Commit",
				fmt.Sprintf("buffer slot %d holds %d elements, grid is %d", i, len(data), cb.grid), nil)
		}
		bound[i] = data
	}

	kernel := cb.pipeline.kernel
	groups := (cb.grid + cb.group - 1) / cb.group
	lanes := min(cb.lanes, groups)
	perLane := (groups + lanes - 1) / lanes

	cb.eg = new(errgroup.Group)
	for lane := 0; lane < lanes; lane++ {
		first := lane * perLane
		last := min(first+perLane, groups)
		if first >= last {
			break
		}
		cb.eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = newError(KindDispatch, "Commit", fmt.Sprintf("kernel panic: %v", r), nil)
				}
			}()
			for g := first; g < last; g++ {
				lo := g * cb.group
				hi := min(lo+cb.group, cb.grid)
				kernel(bound, lo, hi)
			}
			return nil
		})
	}
	return nil
}

func (cb *hostCommandBuffer) WaitUntilCompleted() error {
	if cb.eg == nil {
		return newError(KindDispatch, "WaitUntilCompleted", "command buffer not committed", nil)
	}
	return cb.eg.Wait()
}

type hostBuffer struct {
	data []float32
}

func (b *hostBuffer) Len() int            { return len(b.data) }
func (b *hostBuffer) ByteSize() int64     { return int64(len(b.data)) * ElementSize }
func (b *hostBuffer) Contents() []float32 { return b.data }
func (b *hostBuffer) Flush() error        { return nil }
func (b *hostBuffer) Sync() error         { return nil }
func (b *hostBuffer) Free()               { b.data = nil }
