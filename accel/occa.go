package accel

import (
	"fmt"
	"io/fs"
	"sort"
	"unsafe"

	"github.com/notargets/gocca"
)

// occaThreadLimits holds the @inner loop limit per OCCA mode.
// TODO: Query the actual limit (CL_DEVICE_MAX_WORK_GROUP_SIZE, maxTotalThreadsPerThreadgroup)
// once gocca exposes device properties.
var occaThreadLimits = map[string]int{
	"CUDA":   1024,
	"HIP":    1024,
	"OpenCL": 1024,
	"Metal":  1024,
	"OpenMP": 1024,
	"Serial": 1024,
}

const defaultThreadLimit = 256

// OCCADevice runs kernels through the OCCA runtime
type OCCADevice struct {
	device *gocca.OCCADevice
	freed  bool
}

// NewOCCADevice creates an OCCA device from a JSON property string,
// e.g. `{"mode": "CUDA", "device_id": 0}`
func NewOCCADevice(props string) (*OCCADevice, error) {
	device, err := gocca.NewDevice(props)
	if err != nil {
		return nil, newError(KindInitialization, "NewOCCADevice",
			fmt.Sprintf("props %s", props), err)
	}
	return &OCCADevice{device: device}, nil
}

// WrapOCCADevice adopts an existing gocca device; Free releases it
func WrapOCCADevice(device *gocca.OCCADevice) *OCCADevice {
	return &OCCADevice{device: device}
}

func (d *OCCADevice) Mode() string {
	if d.device == nil {
		return ""
	}
	return d.device.Mode()
}

func (d *OCCADevice) usable() bool {
	return d.device != nil && !d.freed
}

func (d *OCCADevice) LoadModule(fsys fs.FS, path string) (Module, error) {
	if !d.usable() {
		return nil, newError(KindInitialization, "LoadModule", "device is not available", nil)
	}
	return loadSourceModule(fsys, path)
}

func (d *OCCADevice) NewPipeline(fn Function) (Pipeline, error) {
	f, err := asFunction(fn)
	if err != nil {
		return nil, err
	}
	if !d.usable() {
		return nil, newError(KindPipelineCreation, "NewPipeline", "device is not available", nil)
	}

	maxThreads, ok := occaThreadLimits[d.device.Mode()]
	if !ok {
		maxThreads = defaultThreadLimit
	}

	fullSource := GeneratePreamble(PreambleConfig{MaxThreadsPerGroup: maxThreads}) +
		"\n" + f.module.source

	var kernel *gocca.OCCAKernel
	if d.device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = d.device.BuildKernelFromString(fullSource, f.name, props)
	} else {
		kernel, err = d.device.BuildKernelFromString(fullSource, f.name, nil)
	}
	if err != nil {
		return nil, newError(KindPipelineCreation, "NewPipeline", err.Error(), err)
	}
	if kernel == nil {
		return nil, newError(KindPipelineCreation, "NewPipeline",
			fmt.Sprintf("kernel build returned nil for %s", f.name), nil)
	}

	return &occaPipeline{name: f.name, kernel: kernel, maxThreads: maxThreads}, nil
}

func (d *OCCADevice) NewQueue() (Queue, error) {
	if !d.usable() {
		return nil, newError(KindQueueCreation, "NewQueue", "device is not available", nil)
	}
	return &occaQueue{device: d}, nil
}

func (d *OCCADevice) NewBuffer(n int) (Buffer, error) {
	if !d.usable() {
		return nil, newError(KindBufferAllocation, "NewBuffer", "device is not available", nil)
	}
	if n <= 0 {
		return nil, newError(KindBufferAllocation, "NewBuffer",
			fmt.Sprintf("invalid length %d", n), nil)
	}

	host := make([]float32, n)
	bytes := int64(n) * ElementSize
	mem := d.device.Malloc(bytes, unsafe.Pointer(&host[0]), nil)
	if mem == nil {
		return nil, newError(KindBufferAllocation, "NewBuffer",
			fmt.Sprintf("device rejected %d bytes", bytes), nil)
	}
	return &occaBuffer{host: host, mem: mem}, nil
}

// Finish blocks until all submitted work has completed
func (d *OCCADevice) Finish() {
	if d.usable() {
		d.device.Finish()
	}
}

func (d *OCCADevice) Free() {
	if d.device == nil || d.freed {
		return
	}
	d.device.Free()
	d.freed = true
}

type occaPipeline struct {
	name       string
	kernel     *gocca.OCCAKernel
	maxThreads int
}

func (p *occaPipeline) Function() string        { return p.name }
func (p *occaPipeline) MaxThreadsPerGroup() int { return p.maxThreads }

func (p *occaPipeline) Free() {
	if p.kernel != nil {
		p.kernel.Free()
		p.kernel = nil
	}
}

type occaQueue struct {
	device *OCCADevice
	freed  bool
}

func (q *occaQueue) CommandBuffer() (CommandBuffer, error) {
	if q.freed || !q.device.usable() {
		return nil, newError(KindDispatch, "CommandBuffer", "queue is not available", nil)
	}
	return &occaCommandBuffer{queue: q, buffers: make(map[int]*occaBuffer)}, nil
}

func (q *occaQueue) Free() { q.freed = true }

type occaCommandBuffer struct {
	queue     *occaQueue
	pipeline  *occaPipeline
	buffers   map[int]*occaBuffer
	grid      int
	group     int
	committed bool
}

func (cb *occaCommandBuffer) SetPipeline(p Pipeline) {
	cb.pipeline, _ = p.(*occaPipeline)
}

func (cb *occaCommandBuffer) SetBuffer(buf Buffer, index int) {
	if b, ok := buf.(*occaBuffer); ok {
		cb.buffers[index] = b
	}
}

func (cb *occaCommandBuffer) DispatchThreads(grid, threadsPerGroup int) {
	cb.grid = grid
	cb.group = threadsPerGroup
}

// Commit launches the kernel; buffers in slot order, then N and the group size
func (cb *occaCommandBuffer) Commit() error {
	if cb.committed {
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

	args := make([]interface{}, 0, len(slots)+2)
	for i, idx := range slots {
		if idx != i {
			return newError(KindDispatch, "Commit", fmt.Sprintf("buffer slot %d not bound", i), nil)
		}
		args = append(args, cb.buffers[idx].mem)
	}
	args = append(args, int32(cb.grid), int32(cb.group))

	cb.committed = true
	if err := cb.pipeline.kernel.RunWithArgs(args...); err != nil {
		return newError(KindDispatch, "Commit", "kernel execution failed", err)
	}
	return nil
}

func (cb *occaCommandBuffer) WaitUntilCompleted() error {
	if !cb.committed {
		return newError(KindDispatch, "WaitUntilCompleted", "command buffer not committed", nil)
	}
	cb.queue.device.Finish()
	return nil
}

type occaBuffer struct {
	host []float32
	mem  *gocca.OCCAMemory
}

func (b *occaBuffer) Len() int            { return len(b.host) }
func (b *occaBuffer) ByteSize() int64     { return int64(len(b.host)) * ElementSize }
func (b *occaBuffer) Contents() []float32 { return b.host }

func (b *occaBuffer) Flush() error {
	if b.mem == nil {
		return newError(KindBufferAllocation, "Flush", "buffer freed", nil)
	}
	b.mem.CopyFrom(unsafe.Pointer(&b.host[0]), b.ByteSize())
	return nil
}

func (b *occaBuffer) Sync() error {
	if b.mem == nil {
		return newError(KindBufferAllocation, "Sync", "buffer freed", nil)
	}
	b.mem.CopyTo(unsafe.Pointer(&b.host[0]), b.ByteSize())
	return nil
}

func (b *occaBuffer) Free() {
	if b.mem != nil {
		b.mem.Free()
		b.mem = nil
	}
}
