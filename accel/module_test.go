package accel

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoKernels = `
@kernel void scale(real_t *x, const int_t N) {}

@kernel   void
  addArrays (const real_t *A, const real_t *B, real_t *result) {}

// void notAKernel(int x) {}
`

func TestParseEntryPoints(t *testing.T) {
	assert.Equal(t, []string{"scale", "addArrays"}, ParseEntryPoints(twoKernels))
	assert.Empty(t, ParseEntryPoints("int main() { return 0; }"))
}

func TestLoadSourceModule(t *testing.T) {
	fsys := fstest.MapFS{
		"lib/ops.okl":   {Data: []byte(twoKernels)},
		"empty.okl":     {Data: []byte("  \n\t")},
		"nokernels.okl": {Data: []byte("typedef float real_t;")},
	}

	m, err := loadSourceModule(fsys, "lib/ops.okl")
	require.NoError(t, err)
	assert.Equal(t, "ops", m.Name())
	assert.Equal(t, []string{"scale", "addArrays"}, m.Functions())

	fn, err := m.Function("addArrays")
	require.NoError(t, err)
	assert.Equal(t, "addArrays", fn.Name())

	_, err = m.Function("subArrays")
	assert.ErrorIs(t, err, ErrKernelNotFound)
	assert.Contains(t, err.Error(), "failed to find 'subArrays' in module ops")

	// Functions returns a copy
	names := m.Functions()
	names[0] = "mutated"
	assert.Equal(t, "scale", m.Functions()[0])

	for _, p := range []string{"missing.okl", "empty.okl", "nokernels.okl"} {
		_, err := loadSourceModule(fsys, p)
		assert.ErrorIs(t, err, ErrInitialization, p)
	}

	_, err = loadSourceModule(nil, "lib/ops.okl")
	assert.ErrorIs(t, err, ErrInitialization)
}

type foreignFunction struct{}

func (foreignFunction) Name() string { return "addArrays" }

func TestAsFunctionRejectsForeignTypes(t *testing.T) {
	_, err := asFunction(foreignFunction{})
	assert.ErrorIs(t, err, ErrPipelineCreation)

	_, err = asFunction(nil)
	assert.ErrorIs(t, err, ErrPipelineCreation)
}

func TestGeneratePreamble(t *testing.T) {
	p := GeneratePreamble(PreambleConfig{MaxThreadsPerGroup: 512})
	assert.Contains(t, p, "typedef float real_t;")
	assert.Contains(t, p, "typedef int int_t;")
	assert.Contains(t, p, "#define MAX_THREADS_PER_GROUP 512")

	p = GeneratePreamble(PreambleConfig{FloatType: Float64, IntType: INT64, MaxThreadsPerGroup: 1})
	assert.Contains(t, p, "typedef double real_t;")
	assert.Contains(t, p, "typedef long int_t;")
	assert.Equal(t, 1, strings.Count(p, "#define"))
}
