package kernels

import (
	"io/fs"
	"testing"

	"github.com/notargets/KernelBench/accel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedModuleDeclaresEntryPoint(t *testing.T) {
	src, err := fs.ReadFile(FS, AddArraysPath)
	require.NoError(t, err)

	entries := accel.ParseEntryPoints(string(src))
	assert.Equal(t, []string{EntryPoint}, entries)
	assert.Contains(t, string(src), "MAX_THREADS_PER_GROUP")
}
