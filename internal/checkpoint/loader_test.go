package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

type stTensor struct {
	name  string
	dtype string
	shape []int
	data  []byte
}

// writeSafetensors lays out tensors in order behind an 8 byte header length
// and a JSON header.
func writeSafetensors(t *testing.T, tensors ...stTensor) string {
	t.Helper()

	header := make(map[string]any, len(tensors))
	var body bytes.Buffer
	for _, st := range tensors {
		start := body.Len()
		body.Write(st.data)
		header[st.name] = map[string]any{
			"dtype":        st.dtype,
			"shape":        st.shape,
			"data_offsets": []int{start, body.Len()},
		}
	}
	head, err := json.Marshal(header)
	require.NoError(t, err)

	var file bytes.Buffer
	require.NoError(t, binary.Write(&file, binary.LittleEndian, uint64(len(head))))
	file.Write(head)
	file.Write(body.Bytes())

	path := filepath.Join(t.TempDir(), "weights.safetensors")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o600))
	return path
}

func f32Bytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func u16Bytes(values ...uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

func newTestLoader(t *testing.T) (*Loader, *metrics.PANNsMetrics) {
	t.Helper()
	m, err := metrics.NewPANNsMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return &Loader{
		Metrics:         m,
		Logger:          quietLogger(),
		AvailableMemory: func() (uint64, error) { return math.MaxUint64, nil },
	}, m
}

func TestLoad_SafetensorsFloat32(t *testing.T) {
	t.Parallel()

	path := writeSafetensors(t,
		stTensor{"model.fc1.weight", "F32", []int{2, 2}, f32Bytes(1, 2, 3, 4)},
		stTensor{"model.fc1.bias", "F32", []int{2}, f32Bytes(0.5, -0.5)},
		stTensor{"optimizer.step", "F32", []int{1}, f32Bytes(7)},
	)
	l, _ := newTestLoader(t)

	store, err := l.Load(path, device.CPUConfig)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"fc1.weight", "fc1.bias"}, store.Names())
	assert.Equal(t, []int{2, 2}, store["fc1.weight"].Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, store["fc1.weight"].Data)
	assert.Equal(t, []float32{0.5, -0.5}, store["fc1.bias"].Data)
}

func TestLoad_HalfPrecisionFallsBackToPermissive(t *testing.T) {
	t.Parallel()

	// 1.0, -2.0, 0.5 in IEEE half precision.
	path := writeSafetensors(t,
		stTensor{"model.bn0.weight", "F16", []int{3}, u16Bytes(0x3c00, 0xc000, 0x3800)},
	)
	l, m := newTestLoader(t)

	store, err := l.Load(path, device.CPUConfig)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5}, store["bn0.weight"].Data)

	successes := testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModeStrict, metrics.StatusSuccess)) +
		testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModePermissive, metrics.StatusSuccess))
	assert.InDelta(t, 1, successes, 0)
}

func TestLoad_MissingModelEntry(t *testing.T) {
	t.Parallel()

	path := writeSafetensors(t,
		stTensor{"fc1.weight", "F32", []int{1}, f32Bytes(1)},
	)
	l, _ := newTestLoader(t)

	_, err := l.Load(path, device.CPUConfig)
	require.Error(t, err)
	assert.True(t, errors.IsCheckpointFormat(err), "got %v", err)
}

func TestLoad_UnreadableFile(t *testing.T) {
	t.Parallel()

	l, m := newTestLoader(t)
	dir := t.TempDir()

	for _, path := range []string{filepath.Join(dir, "missing.pth"), dir} {
		_, err := l.Load(path, device.CPUConfig)
		require.Error(t, err)
		assert.True(t, errors.IsCheckpointLoad(err), "%s: got %v", path, err)
	}
	assert.Zero(t, testutil.CollectAndCount(m.CheckpointLoadTotal))
}

func TestLoad_CorruptPth(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.pth")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xff, 0xfe}, 64), 0o600))
	l, m := newTestLoader(t)

	_, err := l.Load(path, device.CPUConfig)
	require.Error(t, err)
	assert.True(t, errors.IsCheckpointLoad(err), "got %v", err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModePermissive, metrics.StatusError)), 0)
}

func TestLoad_WarnsWhenMemoryIsShort(t *testing.T) {
	t.Parallel()

	path := writeSafetensors(t, stTensor{"model.x", "F32", []int{1}, f32Bytes(1)})
	l, _ := newTestLoader(t)
	l.AvailableMemory = func() (uint64, error) { return 1, nil }

	_, err := l.Load(path, device.CPUConfig)
	assert.NoError(t, err)
}

func TestStrictFindClass(t *testing.T) {
	t.Parallel()

	cls, err := strictFindClass("collections", "OrderedDict")
	require.NoError(t, err)
	assert.IsType(t, &types.OrderedDictClass{}, cls)

	_, err = strictFindClass("numpy.core.multiarray", "scalar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numpy.core.multiarray.scalar")
}

func TestStateFromPickle(t *testing.T) {
	t.Parallel()

	state := types.NewOrderedDict()
	state.Set("conv.weight", &pytorch.Tensor{
		Source: &pytorch.FloatStorage{Data: []float32{9, 1, 2, 3, 4, 5, 6}},
		// 2x3 view starting at offset 1.
		StorageOffset: 1,
		Size:          []int{2, 3},
		Stride:        []int{3, 1},
	})
	state.Set("fc.weight", &pytorch.Tensor{
		// Transposed view of a 2x3 row-major storage.
		Source: &pytorch.FloatStorage{Data: []float32{1, 2, 3, 4, 5, 6}},
		Size:   []int{3, 2},
		Stride: []int{1, 3},
	})
	state.Set("bn.num_batches_tracked", &pytorch.Tensor{
		Source: &pytorch.LongStorage{Data: []int64{42}},
		Size:   []int{},
		Stride: []int{},
	})

	top := types.NewOrderedDict()
	top.Set("iteration", 1000)
	top.Set(ModelEntry, state)

	store, err := stateFromPickle(top)
	require.NoError(t, err)

	assert.Equal(t, &model.Tensor{Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}, store["conv.weight"])
	assert.Equal(t, &model.Tensor{Shape: []int{3, 2}, Data: []float32{1, 4, 2, 5, 3, 6}}, store["fc.weight"])
	assert.Equal(t, []float32{42}, store["bn.num_batches_tracked"].Data)
}

func TestStateFromPickle_Rejects(t *testing.T) {
	t.Parallel()

	withoutModel := types.NewOrderedDict()
	withoutModel.Set("optimizer", types.NewOrderedDict())

	badParam := types.NewOrderedDict()
	badParam.Set("fc.weight", "not a tensor")
	withBadParam := types.NewOrderedDict()
	withBadParam.Set(ModelEntry, badParam)

	tests := []struct {
		name         string
		obj          any
		noModelEntry bool
	}{
		{"not a mapping", []any{1, 2}, true},
		{"no model entry", withoutModel, true},
		{"empty model entry", func() any {
			d := types.NewOrderedDict()
			d.Set(ModelEntry, types.NewOrderedDict())
			return d
		}(), true},
		{"non tensor parameter", withBadParam, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := stateFromPickle(tt.obj)
			require.Error(t, err)
			assert.Equal(t, tt.noModelEntry, errors.Is(err, errNoModelEntry), "got %v", err)
		})
	}
}

func TestTensorFromTorch_OutOfRangeView(t *testing.T) {
	t.Parallel()

	_, err := tensorFromTorch(&pytorch.Tensor{
		Source:        &pytorch.FloatStorage{Data: []float32{1, 2}},
		StorageOffset: 1,
		Size:          []int{2},
		Stride:        []int{1},
	})
	assert.Error(t, err)
}
