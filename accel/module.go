package accel

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var entryPointPattern = regexp.MustCompile(`@kernel\s+void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// sourceModule is an OKL source file and the entry points it declares
type sourceModule struct {
	name    string
	source  string
	entries []string
}

type function struct {
	name   string
	module *sourceModule
}

func (f *function) Name() string { return f.name }

// loadSourceModule reads and scans a kernel module
func loadSourceModule(fsys fs.FS, p string) (*sourceModule, error) {
	if fsys == nil {
		return nil, newError(KindInitialization, "LoadModule", "no module filesystem", nil)
	}
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, newError(KindInitialization, "LoadModule",
			fmt.Sprintf("failed to read module %s", p), err)
	}
	source := string(data)
	if strings.TrimSpace(source) == "" {
		return nil, newError(KindInitialization, "LoadModule",
			fmt.Sprintf("module %s is empty", p), nil)
	}

	entries := ParseEntryPoints(source)
	if len(entries) == 0 {
		return nil, newError(KindInitialization, "LoadModule",
			fmt.Sprintf("module %s declares no kernels", p), nil)
	}

	return &sourceModule{
		name:    strings.TrimSuffix(path.Base(p), path.Ext(p)),
		source:  source,
		entries: entries,
	}, nil
}

// ParseEntryPoints returns the kernel names declared in OKL source, in order
func ParseEntryPoints(source string) []string {
	matches := entryPointPattern.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func (m *sourceModule) Name() string { return m.name }

func (m *sourceModule) Functions() []string {
	out := make([]string, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *sourceModule) Function(name string) (Function, error) {
	for _, e := range m.entries {
		if e == name {
			return &function{name: name, module: m}, nil
		}
	}
	return nil, newError(KindKernelNotFound, "Function",
		fmt.Sprintf("failed to find '%s' in module %s", name, m.name), nil)
}

// asFunction recovers the module backed function built by this package
func asFunction(fn Function) (*function, error) {
	f, ok := fn.(*function)
	if !ok || f == nil || f.module == nil {
		return nil, newError(KindPipelineCreation, "NewPipeline",
			fmt.Sprintf("function %T was not loaded by this package", fn), nil)
	}
	return f, nil
}
