package accel

import (
	"fmt"
	"strings"
)

// DataType represents the width of kernel scalar types
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

// TypeName returns the C type name for a given DataType
func TypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT32:
		return "int"
	case INT64:
		return "long"
	default:
		return "int"
	}
}

// PreambleConfig controls the definitions prepended to kernel source
type PreambleConfig struct {
	FloatType          DataType
	IntType            DataType
	MaxThreadsPerGroup int
}

// GeneratePreamble emits the typedefs and constants every kernel relies on
func GeneratePreamble(cfg PreambleConfig) string {
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float32
	}
	intType := cfg.IntType
	if intType == 0 {
		intType = INT32
	}

	var sb strings.Builder
	sb.WriteString("// Type definitions\n")
	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", TypeName(floatType)))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", TypeName(intType)))
	sb.WriteString("\n// Constants\n")
	sb.WriteString(fmt.Sprintf("#define MAX_THREADS_PER_GROUP %d\n", cfg.MaxThreadsPerGroup))
	return sb.String()
}
