package runner

import (
	"fmt"
	"math"
)

// Mismatch is the first index where the device result differs from the
// host computed sum
type Mismatch struct {
	Index    int
	Actual   float32
	Expected float32
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("Compute ERROR: index=%d, result=%v, vs %v=a+b", m.Index, m.Actual, m.Expected)
}

// Verify compares result[i] bit for bit against a[i] + b[i] and stops at the
// first mismatch. It returns nil when every index matches. Only the common
// prefix of the three slices is checked.
func Verify(a, b, result []float32) *Mismatch {
	n := min(len(a), len(b), len(result))
	for i := 0; i < n; i++ {
		expected := a[i] + b[i]
		if math.Float32bits(result[i]) != math.Float32bits(expected) {
			return &Mismatch{Index: i, Actual: result[i], Expected: expected}
		}
	}
	return nil
}
