//go:build !windows

package model

import (
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/onnx"

	"github.com/tphakala/panns-go/internal/device"
)

func loadReplica(graphPath string, placement device.Config, _ int) (*replica, error) {
	if placement.IsAccelerator() {
		GetLogger().Debug("no accelerator backend on this platform, replica runs on cpu")
	}
	graph, err := onnx.Load(graphPath, cpu.New())
	if err != nil {
		return nil, err
	}
	return &replica{graph: graph, backend: "cpu"}, nil
}
