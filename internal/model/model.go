// Package model defines the contract between the inference wrappers and the
// network that runs the forward pass, the Cnn14 parameter schemas, and a
// born-backed implementation that executes an exported ONNX graph.
package model

import (
	"context"
	"io"

	"github.com/tphakala/panns-go/internal/conf"
)

// Output names produced by the Cnn14 family of graphs.
const (
	OutputClipwise    = "clipwise_output"
	OutputEmbedding   = "embedding"
	OutputFramewise   = "framewise_output"
	OutputSegmentwise = "segmentwise_output"
)

// Interpolation modes for upsampling segment predictions to frames.
const (
	InterpolateNearest = "nearest"
	InterpolateLinear  = "linear"
)

// Config parameterizes a topology. The feature extraction fields describe
// the front end baked into the graph and are checked against the checkpoint.
type Config struct {
	SampleRate      int
	WindowSize      int
	HopSize         int
	MelBins         int
	FMin            int
	FMax            int
	ClassesNum      int
	InterpolateMode string
}

// DefaultConfig returns the 32 kHz Cnn14 front end with classes outputs.
func DefaultConfig(classes int) Config {
	return Config{
		SampleRate:      conf.SampleRate,
		WindowSize:      conf.WindowSize,
		HopSize:         conf.HopSize,
		MelBins:         conf.MelBins,
		FMin:            conf.FMin,
		FMax:            conf.FMax,
		ClassesNum:      classes,
		InterpolateMode: InterpolateNearest,
	}
}

// Output holds the tensors of one forward call, keyed by output name.
// Absent outputs are nil.
type Output struct {
	Clipwise    *Tensor // [batch, classes]
	Embedding   *Tensor // [batch, embedding]
	Framewise   *Tensor // [batch, frames, classes]
	Segmentwise *Tensor // [batch, segments, classes]
}

// Model is a network the wrappers can drive.
//
// LoadState takes ownership of store. Forward receives a [batch, samples]
// waveform tensor and must not retain it. Implementations need not be safe
// for concurrent Forward calls.
type Model interface {
	Topology() Topology
	LoadState(store ParameterStore) error
	// Eval switches off training-only behaviour such as dropout.
	Eval()
	Forward(ctx context.Context, waveform *Tensor) (*Output, error)
	io.Closer
}
