package panns

import (
	"context"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/inference"
)

// Option adjusts how a wrapper is constructed.
type Option func(*inference.Options)

// WithModelName selects a checkpoint by model name.
func WithModelName(name string) Option {
	return func(o *inference.Options) { o.ModelName = name }
}

// WithCheckpointPath loads the checkpoint from path instead of the cache.
func WithCheckpointPath(path string) Option {
	return func(o *inference.Options) { o.CheckpointPath = path }
}

// WithGraphPath sets the exported network graph.
func WithGraphPath(path string) Option {
	return func(o *inference.Options) { o.GraphPath = path }
}

// WithDevice requests a device: "cpu", "cuda", "cuda:N", "gpu" or "webgpu".
func WithDevice(name string) Option {
	return func(o *inference.Options) { o.Device = name }
}

// WithInterpolateMode sets "nearest" or "linear" frame upsampling for
// SoundEventDetection.
func WithInterpolateMode(mode string) Option {
	return func(o *inference.Options) { o.InterpolateMode = mode }
}

// WithLabels sizes the classifier from table instead of the default labels.
func WithLabels(table *LabelTable) Option {
	return func(o *inference.Options) { o.Labels = table }
}

// NewAudioTagging builds an AudioTagging wrapper from the current settings
// and opts. ctx bounds a checkpoint download.
func NewAudioTagging(ctx context.Context, opts ...Option) (*AudioTagging, error) {
	s := conf.Setting()
	return inference.NewAudioTagging(ctx, applyOptions(inference.OptionsFromSettings(s, s.AudioTagging), opts))
}

// NewSoundEventDetection builds a SoundEventDetection wrapper from the
// current settings and opts.
func NewSoundEventDetection(ctx context.Context, opts ...Option) (*SoundEventDetection, error) {
	s := conf.Setting()
	base := inference.OptionsFromSettings(s, s.SoundEventDetection.ModelSettings)
	base.InterpolateMode = s.SoundEventDetection.InterpolateMode
	return inference.NewSoundEventDetection(ctx, applyOptions(base, opts))
}

func applyOptions(base inference.Options, opts []Option) inference.Options {
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return base
}
