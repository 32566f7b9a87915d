// Package accel abstracts the accelerator a benchmark dispatches work to.
//
// The object model follows the usual compute API shape: a Device loads a
// Module of kernels, builds an immutable Pipeline from one kernel Function,
// hands out a Queue of CommandBuffers, and allocates Buffers of float32
// elements. Two backends implement it: OCCA (through gocca) and a pure Go
// host device.
package accel

import "io/fs"

// ElementSize is the size in bytes of one buffer element (float32).
const ElementSize = 4

// Device is an accelerator execution context.
type Device interface {
	// Mode names the backend, e.g. "CUDA", "OpenMP", "Serial" or "Host"
	Mode() string

	// LoadModule reads a kernel module from fsys
	LoadModule(fsys fs.FS, path string) (Module, error)

	// NewPipeline compiles fn into a device resident pipeline
	NewPipeline(fn Function) (Pipeline, error)

	// NewQueue creates an ordered command submission queue
	NewQueue() (Queue, error)

	// NewBuffer allocates n float32 elements in host visible storage
	NewBuffer(n int) (Buffer, error)

	// Free releases the device
	Free()
}

// Module is a loaded collection of kernel entry points.
type Module interface {
	Name() string
	Function(name string) (Function, error)
	Functions() []string
}

// Function is a resolved kernel entry point.
type Function interface {
	Name() string
}

// Pipeline is a compiled kernel ready for dispatch.
type Pipeline interface {
	Function() string
	MaxThreadsPerGroup() int
	Free()
}

// Queue submits command buffers to the device in order.
type Queue interface {
	CommandBuffer() (CommandBuffer, error)
	Free()
}

// CommandBuffer encodes a single kernel dispatch.
//
// Buffers are bound to slots 0..n-1; the dispatch geometry (grid size and
// threads per group) is passed to the kernel after the last buffer.
// Host reads of buffers written by the kernel are only valid after
// WaitUntilCompleted returns and the buffer has been synced.
type CommandBuffer interface {
	SetPipeline(p Pipeline)
	SetBuffer(buf Buffer, index int)
	DispatchThreads(grid, threadsPerGroup int)
	Commit() error
	WaitUntilCompleted() error
}

// Buffer is a fixed length float32 array visible to both host and device.
type Buffer interface {
	Len() int
	ByteSize() int64

	// Contents is the host view of the buffer
	Contents() []float32

	// Flush publishes host writes to the device
	Flush() error

	// Sync makes device writes visible to the host
	Sync() error

	Free()
}
