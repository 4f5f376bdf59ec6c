// Package backend selects the device an immediate-mode context translates
// onto.
//
// Backends register a Factory under a name from init(). The soft backend
// is registered by this package and is always available; the native
// backend registers itself when its package is imported:
//
//	import _ "github.com/gogpu/immediate/backend/native"
//
// # Backend Selection
//
// Use Default() to open a device on the best available backend, or Open()
// to request a specific backend by name:
//
//	dev, name, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//	log.Printf("using %s backend", name)
//
//	device, err := immediate.NewDevice(dev)
//	ctx := device.ImmediateContext()
//
// # Available Backends
//
// - "native": gogpu/wgpu HAL devices (Vulkan)
// - "soft": in-process reference device (always available)
package backend
