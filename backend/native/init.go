//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/backend"
	"github.com/gogpu/immediate/gpucore"
)

// init registers the native backend with the backend registry.
func init() {
	backend.Register(backend.BackendNative, func() (gpucore.Device, error) {
		return Open(gputypes.BackendVulkan)
	})
}
