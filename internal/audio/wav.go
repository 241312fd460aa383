package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/panns-go/internal/errors"
)

const wavBufferFrames = 32768

func decodeWAV(file *os.File) ([]float32, Info, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, Info{}, errors.NewStd("input is not a valid WAV audio file")
	}

	info := Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	if info.Channels < 1 {
		return nil, Info{}, fmt.Errorf("unsupported number of channels: %d", info.Channels)
	}
	div, err := divisor(info.BitDepth)
	if err != nil {
		return nil, Info{}, err
	}

	buf := &goaudio.IntBuffer{
		Data:   make([]int, wavBufferFrames*info.Channels),
		Format: &goaudio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
	}

	var interleaved []float32
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, Info{}, err
		}
		if n == 0 {
			break
		}
		for _, sample := range buf.Data[:n] {
			interleaved = append(interleaved, float32(sample)/div)
		}
	}

	return Downmix(interleaved, info.Channels), info, nil
}
