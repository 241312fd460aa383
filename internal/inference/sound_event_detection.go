package inference

import (
	"context"
	"fmt"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/labels"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// SoundEventDetection predicts class probabilities per STFT frame.
type SoundEventDetection struct {
	*core
	topology model.Topology
}

// NewSoundEventDetection resolves and loads the Cnn14_DecisionLevelMax
// checkpoint and builds the network on the selected device.
func NewSoundEventDetection(ctx context.Context, opts Options) (*SoundEventDetection, error) {
	switch opts.InterpolateMode {
	case "", model.InterpolateNearest, model.InterpolateLinear:
	default:
		return nil, errors.Newf("unknown interpolate mode %q, want %q or %q",
			opts.InterpolateMode, model.InterpolateNearest, model.InterpolateLinear).
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}

	c, err := newCore(ctx, metrics.WrapperSoundEventDetection, model.Cnn14DecisionLevelMax, conf.SoundEventDetectionModel, opts)
	if err != nil {
		return nil, err
	}
	return &SoundEventDetection{core: c, topology: model.Cnn14DecisionLevelMax}, nil
}

// Inference runs one forward pass and returns [batch][frames][classes]
// probabilities, with frames = samples/hop + 1.
func (sed *SoundEventDetection) Inference(ctx context.Context, batch [][]float32) ([][][]float32, error) {
	out, err := sed.forward(ctx, batch)
	if err != nil {
		return nil, err
	}

	var frames *model.Tensor
	switch {
	case out.Framewise != nil:
		if err := checkOutput(out.Framewise, model.OutputFramewise, 3, len(batch)); err != nil {
			return nil, err
		}
		frames = out.Framewise
	case out.Segmentwise != nil:
		if err := checkOutput(out.Segmentwise, model.OutputSegmentwise, 3, len(batch)); err != nil {
			return nil, err
		}
		frames, err = model.Interpolate(out.Segmentwise, sed.topology.FrameRatio, sed.cfg.InterpolateMode)
		if err != nil {
			return nil, sed.shapeError(err)
		}
	default:
		return nil, outputError(model.OutputFramewise, nil)
	}

	frames, err = model.PadFrames(frames, model.FramesFor(len(batch[0]), sed.cfg.HopSize))
	if err != nil {
		return nil, sed.shapeError(err)
	}
	return rows3(frames, model.OutputFramewise, len(batch))
}

// InferenceMono runs detection on a single waveform as a batch of one.
func (sed *SoundEventDetection) InferenceMono(ctx context.Context, samples []float32) ([][]float32, error) {
	framewise, err := sed.Inference(ctx, [][]float32{samples})
	if err != nil {
		return nil, err
	}
	return framewise[0], nil
}

func (sed *SoundEventDetection) shapeError(err error) error {
	return errors.New(fmt.Errorf("framewise output: %w", err)).
		Component("inference").
		Category(errors.CategoryInference).
		Context("interpolate_mode", sed.cfg.InterpolateMode).
		Build()
}

// Labels returns the label table the classifier was sized for.
func (sed *SoundEventDetection) Labels() *labels.Table { return sed.labels }

// Device returns the placement chosen at construction.
func (sed *SoundEventDetection) Device() device.Config { return sed.placement }

// Close releases the model and its device backends.
func (sed *SoundEventDetection) Close() error { return sed.close() }
