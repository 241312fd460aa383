// Package panns is the public entry point to panns-go: pretrained PANNs
// audio tagging and sound event detection over 32 kHz mono waveforms.
//
//	rt, err := panns.Setup("")
//	...
//	defer rt.Close()
//
//	at, err := panns.NewAudioTagging(ctx, rt.Option(), panns.WithDevice("cuda"))
//	...
//	clipwise, embedding, err := at.InferenceMono(ctx, samples)
package panns

import (
	"context"

	"github.com/tphakala/panns-go/internal/audio"
	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/inference"
	"github.com/tphakala/panns-go/internal/labels"
	"github.com/tphakala/panns-go/internal/model"
)

type (
	// AudioTagging predicts clip-level probabilities and embeddings.
	AudioTagging = inference.AudioTagging
	// SoundEventDetection predicts per-frame probabilities.
	SoundEventDetection = inference.SoundEventDetection
	// LabelTable maps class indices to ids and display names.
	LabelTable = labels.Table
	// Class is one row of a LabelTable.
	Class = labels.Class
	// DeviceConfig is the placement chosen for a model.
	DeviceConfig = device.Config
	// Settings is the loaded configuration.
	Settings = conf.Settings
)

const (
	// SampleRate is the waveform rate the models take.
	SampleRate = conf.SampleRate
	// HopSize is the STFT hop; SoundEventDetection returns samples/HopSize+1 frames.
	HopSize = conf.HopSize
	// EmbeddingDim is the width of an AudioTagging embedding.
	EmbeddingDim = model.EmbeddingDim
	// AudioSetClasses is the number of AudioSet classes.
	AudioSetClasses = conf.FallbackClassCount
)

// LoadLabels returns the process-wide label table, loading it from the
// configured path, the cache or the network on first use.
func LoadLabels() (*LabelTable, error) {
	return labels.Default()
}

// LoadLabelsFile parses a label CSV with an index,mid,display_name header.
func LoadLabelsFile(path string) (*LabelTable, error) {
	return labels.ParseFile(path)
}

// LoadLabelsContext is LoadLabels with explicit settings and cancellation,
// bypassing the process-wide cache.
func LoadLabelsContext(ctx context.Context, settings *Settings) (*LabelTable, error) {
	loader, err := labels.NewLoader(settings)
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx)
}

// SyntheticLabels returns n placeholder classes named label_0..label_<n-1>.
func SyntheticLabels(n int) *LabelTable {
	return labels.Synthetic(n)
}

// LoadAudio decodes a WAV or FLAC file to mono float32 at SampleRate.
func LoadAudio(path string) ([]float32, error) {
	return audio.LoadFile(path)
}

// SelectDevice maps a device request and an accelerator count to a
// placement. It never fails; unusable requests yield CPU.
func SelectDevice(requested string, available int) DeviceConfig {
	return device.SelectDevice(requested, available)
}

// IsDataLoad reports whether err is a label table load failure.
func IsDataLoad(err error) bool { return errors.IsDataLoad(err) }

// IsDownload reports whether err is a failed checkpoint or label download.
func IsDownload(err error) bool { return errors.IsDownload(err) }

// IsCheckpointLoad reports whether err is an unreadable or undecodable checkpoint.
func IsCheckpointLoad(err error) bool { return errors.IsCheckpointLoad(err) }

// IsCheckpointFormat reports whether err is a checkpoint without a model entry.
func IsCheckpointFormat(err error) bool { return errors.IsCheckpointFormat(err) }

// IsStateLoad reports whether err is a parameter set that does not fit the network.
func IsStateLoad(err error) bool { return errors.IsStateLoad(err) }
