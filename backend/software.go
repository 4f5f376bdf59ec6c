package backend

import (
	"github.com/gogpu/immediate/backend/soft"
	"github.com/gogpu/immediate/gpucore"
)

// init registers the soft backend on package import.
func init() {
	Register(BackendSoft, func() (gpucore.Device, error) {
		return soft.New(), nil
	})
}
