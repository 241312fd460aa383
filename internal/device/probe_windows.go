//go:build windows

package device

import (
	"sync"

	"github.com/born-ml/born/backend/webgpu"
)

// WebGPU exposes one adapter per process.
var probeAccelerators = sync.OnceValue(func() int {
	if webgpu.IsAvailable() {
		GetLogger().Debug("webgpu adapter available")
		return 1
	}
	return 0
})
