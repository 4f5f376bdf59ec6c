package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/immediate/backend/soft"
	"github.com/gogpu/immediate/gpucore"
)

// withRegistry runs a test against a private copy of the registry.
func withRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := backends
	backends = make(map[string]Factory)
	for name, f := range saved {
		backends[name] = f
	}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		backends = saved
		registryMu.Unlock()
	})
}

func TestSoftRegistered(t *testing.T) {
	if !IsRegistered(BackendSoft) {
		t.Fatal("soft backend should be registered on import")
	}
	d, err := Open(BackendSoft)
	if err != nil {
		t.Fatalf("Open(soft) error = %v", err)
	}
	defer d.Destroy()
	if _, ok := d.(*soft.Device); !ok {
		t.Errorf("Open(soft) = %T, want *soft.Device", d)
	}
}

func TestRegistryRegisterAndOpen(t *testing.T) {
	withRegistry(t)
	var opened int
	Register("test", func() (gpucore.Device, error) {
		opened++
		return soft.New(), nil
	})
	d, err := Open("test")
	if err != nil {
		t.Fatalf("Open(test) error = %v", err)
	}
	d.Destroy()
	if opened != 1 {
		t.Errorf("factory called %d times, want 1", opened)
	}
}

func TestRegistryOpenUnregistered(t *testing.T) {
	if _, err := Open("nonexistent"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(nonexistent) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryAvailableSorted(t *testing.T) {
	withRegistry(t)
	Register("zeta", func() (gpucore.Device, error) { return soft.New(), nil })
	Register("alpha", func() (gpucore.Device, error) { return soft.New(), nil })
	names := Available()
	if !slices.IsSorted(names) {
		t.Errorf("Available() = %v, not sorted", names)
	}
	if !slices.Contains(names, "alpha") || !slices.Contains(names, BackendSoft) {
		t.Errorf("Available() = %v", names)
	}
}

func TestRegistryDefaultFallsBack(t *testing.T) {
	withRegistry(t)
	errNoGPU := errors.New("no gpu")
	Register(BackendNative, func() (gpucore.Device, error) { return nil, errNoGPU })

	d, name, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	defer d.Destroy()
	if name != BackendSoft {
		t.Errorf("Default() picked %q, want %q", name, BackendSoft)
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	withRegistry(t)
	Register(BackendNative, func() (gpucore.Device, error) { return soft.New(), nil })

	d, name, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	defer d.Destroy()
	if name != BackendNative {
		t.Errorf("Default() picked %q, want %q", name, BackendNative)
	}
}

func TestRegistryDefaultNoneAvailable(t *testing.T) {
	withRegistry(t)
	errBroken := errors.New("broken")
	Unregister(BackendSoft)
	Unregister(BackendNative)
	Register("broken", func() (gpucore.Device, error) { return nil, errBroken })

	_, _, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Default() error = %v, want ErrBackendNotAvailable", err)
	}
	if !errors.Is(err, errBroken) {
		t.Errorf("Default() error = %v, want factory error joined", err)
	}
}

func TestRegistryMustDefaultPanics(t *testing.T) {
	withRegistry(t)
	for _, name := range Available() {
		Unregister(name)
	}
	defer func() {
		if recover() == nil {
			t.Error("MustDefault() should panic with no backends")
		}
	}()
	MustDefault()
}

func TestRegistryUnregister(t *testing.T) {
	withRegistry(t)
	Register("temp", func() (gpucore.Device, error) { return soft.New(), nil })
	if !IsRegistered("temp") {
		t.Fatal("temp should be registered")
	}
	Unregister("temp")
	if IsRegistered("temp") {
		t.Error("temp should be unregistered")
	}
}
