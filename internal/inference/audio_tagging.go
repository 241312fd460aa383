package inference

import (
	"context"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/labels"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// AudioTagging predicts clip-level class probabilities and the clip embedding.
type AudioTagging struct {
	*core
}

// NewAudioTagging resolves and loads the Cnn14 checkpoint and builds the
// network on the selected device. ctx bounds the checkpoint download.
func NewAudioTagging(ctx context.Context, opts Options) (*AudioTagging, error) {
	c, err := newCore(ctx, metrics.WrapperAudioTagging, model.Cnn14, conf.AudioTaggingModel, opts)
	if err != nil {
		return nil, err
	}
	return &AudioTagging{core: c}, nil
}

// Inference runs one forward pass over batch, a set of equal-length 32 kHz
// waveforms. clipwise is [batch][classes] with values in [0,1]; embedding is
// [batch][2048].
func (at *AudioTagging) Inference(ctx context.Context, batch [][]float32) (clipwise, embedding [][]float32, err error) {
	out, err := at.forward(ctx, batch)
	if err != nil {
		return nil, nil, err
	}
	if clipwise, err = rows2(out.Clipwise, model.OutputClipwise, len(batch)); err != nil {
		return nil, nil, err
	}
	if embedding, err = rows2(out.Embedding, model.OutputEmbedding, len(batch)); err != nil {
		return nil, nil, err
	}
	return clipwise, embedding, nil
}

// InferenceMono tags a single waveform as a batch of one.
func (at *AudioTagging) InferenceMono(ctx context.Context, samples []float32) (clipwise, embedding []float32, err error) {
	c, e, err := at.Inference(ctx, [][]float32{samples})
	if err != nil {
		return nil, nil, err
	}
	return c[0], e[0], nil
}

// Labels returns the label table the classifier was sized for.
func (at *AudioTagging) Labels() *labels.Table { return at.labels }

// Device returns the placement chosen at construction.
func (at *AudioTagging) Device() device.Config { return at.placement }

// Close releases the model and its device backends.
func (at *AudioTagging) Close() error { return at.close() }
