//go:build windows

package model

import (
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/backend/webgpu"
	"github.com/born-ml/born/onnx"

	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/logger"
)

func loadReplica(graphPath string, placement device.Config, ordinal int) (*replica, error) {
	if placement.IsAccelerator() {
		gpu, err := webgpu.New()
		if err == nil {
			graph, err := onnx.Load(graphPath, gpu)
			if err != nil {
				gpu.Release()
				return nil, err
			}
			return &replica{graph: graph, release: gpu.Release, backend: "webgpu"}, nil
		}
		GetLogger().Warn("webgpu backend unavailable, replica runs on cpu",
			logger.Int("ordinal", ordinal),
			logger.Error(err))
	}

	graph, err := onnx.Load(graphPath, cpu.New())
	if err != nil {
		return nil, err
	}
	return &replica{graph: graph, backend: "cpu"}, nil
}
