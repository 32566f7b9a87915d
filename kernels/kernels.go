// Package kernels embeds the OKL kernel modules dispatched by the benchmark.
package kernels

import "embed"

// EntryPoint is the elementwise add kernel name
const EntryPoint = "addArrays"

// AddArraysPath is the module path of the elementwise add kernel inside FS
const AddArraysPath = "add_arrays.okl"

// FS holds the kernel modules
//
//go:embed *.okl
var FS embed.FS
