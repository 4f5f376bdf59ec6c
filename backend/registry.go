package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/immediate/gpucore"
)

// Backend name constants.
const (
	// BackendSoft is the name of the in-process reference backend.
	BackendSoft = "soft"
	// BackendNative is the name of the gogpu/wgpu HAL backend.
	BackendNative = "native"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no registered backend could open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new device. A factory returns an error when its backend
// cannot run on this machine.
type Factory func() (gpucore.Device, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	backendPriority = []string{BackendNative, BackendSoft}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens a device on the named backend.
func Open(name string) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", name, err)
	}
	return d, nil
}

// Default opens a device on the best available backend and returns it
// with the backend name. Backends are tried in priority order, then any
// other registered backend in name order.
func Default() (gpucore.Device, string, error) {
	order := slices.Clone(backendPriority)
	for _, name := range Available() {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}

	var errs []error
	for _, name := range order {
		if !IsRegistered(name) {
			continue
		}
		d, err := Open(name)
		if err == nil {
			return d, name, nil
		}
		errs = append(errs, err)
	}
	return nil, "", errors.Join(append([]error{ErrBackendNotAvailable}, errs...)...)
}

// MustDefault returns the default device or panics.
func MustDefault() gpucore.Device {
	d, _, err := Default()
	if err != nil {
		panic(err)
	}
	return d
}
