// Package audio decodes WAV and FLAC files into the 32 kHz mono float32
// waveforms the inference wrappers take.
package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/logger"
)

// Info describes the source format of a decoded file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// LoadFile decodes path, averages its channels to mono and resamples it to
// conf.SampleRate. Supported formats are WAV and FLAC with 16, 24 or 32 bit
// integer samples.
func LoadFile(path string) ([]float32, error) {
	samples, info, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if info.SampleRate != conf.SampleRate {
		samples, err = Resample(samples, info.SampleRate, conf.SampleRate)
		if err != nil {
			return nil, audioError(fmt.Errorf("resample %d Hz to %d Hz: %w", info.SampleRate, conf.SampleRate, err), path)
		}
	}

	GetLogger().Debug("audio file loaded",
		logger.String("path", path),
		logger.Int("source_rate", info.SampleRate),
		logger.Int("channels", info.Channels),
		logger.Int("bit_depth", info.BitDepth),
		logger.Int("samples", len(samples)))
	return samples, nil
}

func decodeFile(path string) ([]float32, Info, error) {
	var decode func(*os.File) ([]float32, Info, error)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		decode = decodeWAV
	case ".flac":
		decode = decodeFLAC
	default:
		return nil, Info{}, audioError(fmt.Errorf("unsupported audio format %q", ext), path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, Info{}, audioError(err, path)
	}
	defer file.Close()

	samples, info, err := decode(file)
	if err != nil {
		return nil, Info{}, audioError(err, path)
	}
	return samples, info, nil
}

// divisor maps signed integer samples of bitDepth onto [-1, 1).
func divisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// Downmix averages interleaved frames of channels samples into one channel.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range mono {
		var sum float32
		for _, v := range interleaved[i*channels : (i+1)*channels] {
			sum += v
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleTail is the silence fed after the signal so the filter delay
// drains, in seconds.
const resampleTail = 0.05

// Resample converts mono samples from one rate to another. The result has
// round(len(samples) * to / from) samples and is aligned with the input:
// the resampler's filter latency is dropped from the head.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	// latency is in output samples
	latency := max(r.GetLatency(), 0)
	tail := int(resampleTail*float64(from)) + int(math.Ceil(float64(latency)*float64(from)/float64(to)))

	input := make([]float64, len(samples)+tail)
	for i, v := range samples {
		input[i] = float64(v)
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	output = append(output, rest...)
	output = output[min(latency, len(output)):]

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, want)
	for i := range min(want, len(output)) {
		out[i] = float32(output[i])
	}
	return out, nil
}

func audioError(err error, path string) error {
	var size int64
	if info, statErr := os.Stat(path); statErr == nil {
		size = info.Size()
	}
	return errors.New(fmt.Errorf("load audio: %w", err)).
		Component("audio").
		Category(errors.CategoryAudio).
		FileContext(path, size).
		Build()
}
