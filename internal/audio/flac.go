package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/panns-go/internal/errors"
)

func decodeFLAC(file *os.File) ([]float32, Info, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return nil, Info{}, err
	}

	info := Info{
		SampleRate: decoder.SampleRate,
		Channels:   decoder.NChannels,
		BitDepth:   decoder.BitsPerSample,
	}
	if info.Channels < 1 {
		return nil, Info{}, fmt.Errorf("unsupported number of channels: %d", info.Channels)
	}
	div, err := divisor(info.BitDepth)
	if err != nil {
		return nil, Info{}, err
	}
	width := info.BitDepth / 8

	var interleaved []float32
	if decoder.TotalSamples > 0 {
		interleaved = make([]float32, 0, int(decoder.TotalSamples)*info.Channels)
	}
	for {
		frame, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Info{}, err
		}

		for i := 0; i+width <= len(frame); i += width {
			interleaved = append(interleaved, float32(pcmSample(frame[i:], width))/div)
		}
	}

	return Downmix(interleaved, info.Channels), info, nil
}

// pcmSample reads one little-endian signed sample of width bytes.
func pcmSample(b []byte, width int) int32 {
	switch width {
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8
	default:
		return int32(binary.LittleEndian.Uint32(b))
	}
}
