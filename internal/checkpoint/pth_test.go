package checkpoint

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// pickleWriter emits the protocol 2 opcodes torch.save uses for a state dict.
type pickleWriter struct {
	bytes.Buffer
}

func (w *pickleWriter) op(b ...byte) { w.Write(b) }

func (w *pickleWriter) str(s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	w.WriteByte('X')
	w.Write(n[:])
	w.WriteString(s)
}

func (w *pickleWriter) global(module, name string) {
	w.WriteByte('c')
	w.WriteString(module + "\n" + name + "\n")
}

func (w *pickleWriter) int1(v int) { w.op('K', byte(v)) }

func (w *pickleWriter) tuple(values ...int) {
	w.op('(')
	for _, v := range values {
		w.int1(v)
	}
	w.op('t')
}

func (w *pickleWriter) orderedDict() {
	w.global("collections", "OrderedDict")
	w.op(')', 'R')
}

// tensor writes _rebuild_tensor_v2(storage, 0, shape, strides, False, OrderedDict())
// over the float storage stored under key.
func (w *pickleWriter) tensor(key string, shape []int, n int) {
	w.global("torch._utils", "_rebuild_tensor_v2")
	w.op('(')
	w.op('(')
	w.str("storage")
	w.global("torch", "FloatStorage")
	w.str(key)
	w.str("cpu")
	w.int1(n)
	w.op('t', 'Q')
	w.int1(0)
	w.tuple(shape...)
	w.tuple(contiguousStrides(shape)...)
	w.op(0x89)
	w.orderedDict()
	w.op('t', 'R')
}

type pthTensor struct {
	name   string
	shape  []int
	values []float32
}

// writePth writes a zip-layout PyTorch checkpoint holding {entry: OrderedDict(tensors)}.
// With foreignGlobal set, the top-level dict also holds a numpy scalar class,
// which strict decoding must refuse.
func writePth(t *testing.T, entry string, foreignGlobal bool, tensors ...pthTensor) string {
	t.Helper()

	var w pickleWriter
	w.op(0x80, 2)
	w.op('}', '(')
	w.str(entry)
	w.orderedDict()
	w.op('(')
	for i, pt := range tensors {
		w.str(pt.name)
		w.tensor(strconv.Itoa(i), pt.shape, len(pt.values))
	}
	w.op('u')
	if foreignGlobal {
		w.str("best_map")
		w.global("numpy.core.multiarray", "scalar")
	}
	w.op('u', '.')

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	add := func(name string, data []byte) {
		f, err := zw.Create("archive/" + name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	add("data.pkl", w.Bytes())
	for i, pt := range tensors {
		add("data/"+strconv.Itoa(i), f32Bytes(pt.values...))
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "Cnn14.pth")
	require.NoError(t, os.WriteFile(path, archive.Bytes(), 0o600))
	return path
}

var testPthTensors = []pthTensor{
	{"fc_audioset.weight", []int{2, 2}, []float32{1, 2, 3, 4}},
	{"fc_audioset.bias", []int{2}, []float32{0.5, -0.5}},
}

func TestLoad_PthStrict(t *testing.T) {
	t.Parallel()

	path := writePth(t, ModelEntry, false, testPthTensors...)
	l, m := newTestLoader(t)

	store, err := l.Load(path, device.CPUConfig)
	require.NoError(t, err)

	assert.Equal(t, &model.Tensor{Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}}, store["fc_audioset.weight"])
	assert.Equal(t, &model.Tensor{Shape: []int{2}, Data: []float32{0.5, -0.5}}, store["fc_audioset.bias"])
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModeStrict, metrics.StatusSuccess)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModePermissive, metrics.StatusSuccess)), 0)
}

func TestLoad_PthForeignGlobalFallsBackToPermissive(t *testing.T) {
	t.Parallel()

	path := writePth(t, ModelEntry, true, testPthTensors...)
	l, m := newTestLoader(t)

	_, strictErr := decodePth(path, ModeStrict)
	require.Error(t, strictErr)
	assert.Contains(t, strictErr.Error(), "numpy.core.multiarray.scalar")

	store, err := l.Load(path, device.CPUConfig)
	require.NoError(t, err)
	require.Len(t, store, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, store["fc_audioset.weight"].Data)
	assert.Equal(t, []float32{0.5, -0.5}, store["fc_audioset.bias"].Data)

	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModeStrict, metrics.StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModePermissive, metrics.StatusSuccess)), 0)
}

func TestLoad_PthWithoutModelEntry(t *testing.T) {
	t.Parallel()

	path := writePth(t, "state_dict", false, testPthTensors...)
	l, _ := newTestLoader(t)

	_, err := l.Load(path, device.CPUConfig)
	require.Error(t, err)
	assert.True(t, errors.IsCheckpointFormat(err), "got %v", err)
}

func TestDecodePth_RejectsUnknownHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := map[string][]byte{
		"empty.pth":  nil,
		"zeros.pth":  make([]byte, 2048),
		"text.pth":   []byte("not a checkpoint"),
		"single.pth": {0x80},
	}
	for name, data := range tests {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		_, err := decodePth(path, ModePermissive)
		assert.Error(t, err, name)
	}
}

func TestDecodePth_MalformedStreamIsAnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "x.pth")
	require.NoError(t, os.WriteFile(path, []byte{0x80, 0x02, 0xff, 0x00}, 0o600))

	for _, mode := range []Mode{ModeStrict, ModePermissive} {
		var err error
		require.NotPanics(t, func() { _, err = decodePth(path, mode) })
		assert.Error(t, err, "mode %s", mode)
	}

	l, m := newTestLoader(t)
	_, err := l.Load(path, device.CPUConfig)
	require.Error(t, err)
	assert.True(t, errors.IsCheckpointLoad(err), "got %v", err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CheckpointLoadTotal.WithLabelValues(metrics.ModePermissive, metrics.StatusError)), 0)
}
