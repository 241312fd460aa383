package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/loader"
	"github.com/born-ml/born/tensor"
	"github.com/x448/float16"

	"github.com/tphakala/panns-go/internal/model"
)

const (
	modelPrefix        = ModelEntry + "."
	maxSafetensorsHead = 100 << 20
)

// decodeSafetensors reads a safetensors file whose tensor names carry a
// "model." prefix. Strict mode goes through born's reader, which accepts
// only natively supported dtypes. Permissive mode parses the file directly
// and widens F16 and BF16 to float32.
func decodeSafetensors(path string, mode Mode) (model.ParameterStore, error) {
	if mode == ModeStrict {
		return decodeSafetensorsStrict(path)
	}
	return decodeSafetensorsPermissive(path)
}

func decodeSafetensorsStrict(path string) (model.ParameterStore, error) {
	reader, err := loader.OpenModel(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	names := modelNames(reader.TensorNames())
	if len(names) == 0 {
		return nil, errNoModelEntry
	}

	backend := cpu.New()
	store := make(model.ParameterStore, len(names))
	for _, name := range names {
		raw, err := reader.LoadTensor(name, backend)
		if err != nil {
			return nil, err
		}
		t, err := rawToHost(raw)
		raw.Release()
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		store[strings.TrimPrefix(name, modelPrefix)] = t
	}
	return store, nil
}

func rawToHost(raw *tensor.RawTensor) (*model.Tensor, error) {
	shape := []int(raw.Shape())
	out := &model.Tensor{Shape: append([]int{}, shape...), Data: make([]float32, model.NumElements(shape))}
	if len(out.Data) == 0 {
		return out, nil
	}
	switch raw.DType() {
	case tensor.Float32:
		copy(out.Data, raw.AsFloat32())
	case tensor.Float64:
		copy(out.Data, castFloat32(raw.AsFloat64()))
	case tensor.Int64:
		copy(out.Data, castFloat32(raw.AsInt64()))
	case tensor.Int32:
		copy(out.Data, castFloat32(raw.AsInt32()))
	default:
		return nil, fmt.Errorf("unsupported dtype %s", raw.DType())
	}
	return out, nil
}

type safetensorsEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

func decodeSafetensorsPermissive(path string) (model.ParameterStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("read header size: %w", err)
	}
	if headerSize > maxSafetensorsHead {
		return nil, fmt.Errorf("header size %d exceeds limit", headerSize)
	}
	head := make([]byte, headerSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	base := int64(8 + headerSize)
	store := make(model.ParameterStore)
	for name, rawEntry := range fields {
		if !strings.HasPrefix(name, modelPrefix) {
			continue
		}
		var entry safetensorsEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			return nil, fmt.Errorf("tensor %s: parse entry: %w", name, err)
		}
		start, end := entry.DataOffsets[0], entry.DataOffsets[1]
		if start < 0 || end < start {
			return nil, fmt.Errorf("tensor %s: bad data offsets %v", name, entry.DataOffsets)
		}
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, base+start); err != nil {
			return nil, fmt.Errorf("tensor %s: read data: %w", name, err)
		}
		data, err := widen(entry.DType, buf)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if len(data) != model.NumElements(entry.Shape) {
			return nil, fmt.Errorf("tensor %s: %d elements for shape %v", name, len(data), entry.Shape)
		}
		store[strings.TrimPrefix(name, modelPrefix)] = &model.Tensor{Shape: entry.Shape, Data: data}
	}

	if len(store) == 0 {
		return nil, errNoModelEntry
	}
	return store, nil
}

// widen decodes little-endian tensor bytes of dtype into float32 values.
func widen(dtype string, buf []byte) ([]float32, error) {
	var width int
	var conv func([]byte) float32
	switch dtype {
	case "F32":
		width, conv = 4, func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	case "F16":
		width, conv = 2, func(b []byte) float32 { return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32() }
	case "BF16":
		width, conv = 2, func(b []byte) float32 { return math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16) }
	case "F64":
		width, conv = 8, func(b []byte) float32 { return float32(math.Float64frombits(binary.LittleEndian.Uint64(b))) }
	case "I64":
		width, conv = 8, func(b []byte) float32 { return float32(int64(binary.LittleEndian.Uint64(b))) }
	case "I32":
		width, conv = 4, func(b []byte) float32 { return float32(int32(binary.LittleEndian.Uint32(b))) }
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}

	if len(buf)%width != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %s width %d", len(buf), dtype, width)
	}
	out := make([]float32, len(buf)/width)
	for i := range out {
		out[i] = conv(buf[i*width:])
	}
	return out, nil
}

func modelNames(names []string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, modelPrefix) {
			out = append(out, n)
		}
	}
	return out
}
