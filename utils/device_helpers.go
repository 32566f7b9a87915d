package utils

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/notargets/KernelBench/accel"
	"github.com/notargets/KernelBench/logging"
)

// HostBackend selects the pure Go host device in a backend list
const HostBackend = "host"

// DefaultBackends returns the probe order for goos: accelerators first,
// then CPU backends, then the host device
func DefaultBackends(goos string) []string {
	var backends []string
	if goos == "darwin" {
		backends = append(backends, `{"mode": "Metal", "device_id": 0}`)
	}
	backends = append(backends,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "HIP", "device_id": 0}`,
		`{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`,
		`{"mode": "OpenMP"}`,
		`{"mode": "Serial"}`,
		HostBackend,
	)
	return backends
}

// BackendProps expands a bare OCCA mode name such as "CUDA" into device
// properties. JSON properties are returned unchanged.
func BackendProps(backend string) string {
	backend = strings.TrimSpace(backend)
	if strings.HasPrefix(backend, "{") {
		return backend
	}
	switch strings.ToLower(backend) {
	case "cuda", "hip", "metal":
		return fmt.Sprintf(`{"mode": "%s", "device_id": 0}`, modeNames[strings.ToLower(backend)])
	case "opencl":
		return `{"mode": "OpenCL", "platform_id": 0, "device_id": 0}`
	case "openmp", "serial":
		return fmt.Sprintf(`{"mode": "%s"}`, modeNames[strings.ToLower(backend)])
	default:
		return fmt.Sprintf(`{"mode": "%s"}`, backend)
	}
}

var modeNames = map[string]string{
	"cuda":   "CUDA",
	"hip":    "HIP",
	"metal":  "Metal",
	"openmp": "OpenMP",
	"serial": "Serial",
}

// OpenDevice creates the device described by one backend entry, either
// HostBackend, an OCCA mode name or OCCA JSON properties
func OpenDevice(backend string) (accel.Device, error) {
	if strings.EqualFold(strings.TrimSpace(backend), HostBackend) {
		return accel.NewHostDevice(accel.HostOptions{}), nil
	}
	return accel.NewOCCADevice(BackendProps(backend))
}

// CreateDevice returns the first backend that can be created
func CreateDevice(backends []string) (accel.Device, error) {
	if len(backends) == 0 {
		return nil, errors.New("no device backends configured")
	}

	var errs []error
	for _, props := range backends {
		device, err := OpenDevice(props)
		if err == nil {
			logging.Infof("Created %s Device", device.Mode())
			return device, nil
		}
		logging.Debugf("backend %s unavailable: %v", props, err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("failed to create any device: %w", errors.Join(errs...))
}

// ProbeResult records whether a backend could be created
type ProbeResult struct {
	Backend string
	Mode    string
	Err     error
}

// ProbeDevices tries every backend, releasing each device after the probe
func ProbeDevices(backends []string) []ProbeResult {
	results := make([]ProbeResult, 0, len(backends))
	for _, props := range backends {
		device, err := OpenDevice(props)
		res := ProbeResult{Backend: props, Err: err}
		if err == nil {
			res.Mode = device.Mode()
			device.Free()
		}
		results = append(results, res)
	}
	return results
}

// CreateTestDevice creates a Device for testing, preferring parallel backends
func CreateTestDevice() accel.Device {
	device, err := CreateDevice(DefaultBackends(runtime.GOOS))
	if err != nil {
		// Should not reach here, the host backend always succeeds
		panic(fmt.Sprintf("Failed to create any Device: %v", err))
	}
	return device
}
