package checkpoint

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/tphakala/panns-go/internal/model"
)

const pickleProto = 0x80

// decodePth reads a PyTorch archive, in either the zip or the legacy layout.
// In strict mode any global outside the tensor rebuild helpers and plain
// containers aborts decoding. In permissive mode unknown globals become
// opaque objects.
func decodePth(path string, mode Mode) (store model.ParameterStore, err error) {
	// gopickle panics on some malformed streams, for example unknown opcodes.
	defer func() {
		if r := recover(); r != nil {
			store, err = nil, fmt.Errorf("decode pth: %v", r)
		}
	}()

	if err := checkPthHeader(path); err != nil {
		return nil, err
	}

	newUnpickler := func(r io.Reader) pickle.Unpickler {
		u := pickle.NewUnpickler(r)
		if mode == ModeStrict {
			u.FindClass = strictFindClass
		} else {
			u.FindClass = permissiveFindClass
		}
		return u
	}

	obj, err := pytorch.LoadWithUnpickler(path, newUnpickler)
	if err != nil {
		return nil, err
	}
	return stateFromPickle(obj)
}

// checkPthHeader accepts a zip archive or a bare pickle stream (protocol 2+).
// gopickle loops forever on inputs that read as an empty tar archive, such
// as zero-filled files.
func checkPthHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var head [2]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return fmt.Errorf("read pth header: %w", err)
	}
	if head == [2]byte{'P', 'K'} || head[0] == pickleProto {
		return nil
	}
	return fmt.Errorf("not a PyTorch archive: header % x", head[:])
}

// strictFindClass resolves globals the torch loader does not handle itself.
// Only ordered dicts are allowed through.
func strictFindClass(module, name string) (interface{}, error) {
	if module == "collections" && name == "OrderedDict" {
		return &types.OrderedDictClass{}, nil
	}
	return nil, fmt.Errorf("global %s.%s is not allowed when loading weights only", module, name)
}

func permissiveFindClass(module, name string) (interface{}, error) {
	return types.NewGenericClass(module, name), nil
}

type pyMapping interface {
	Get(key interface{}) (interface{}, bool)
}

type pyKeyed interface {
	pyMapping
	Keys() []interface{}
}

// stateFromPickle extracts the tensors under the "model" key of a decoded
// checkpoint.
func stateFromPickle(obj interface{}) (model.ParameterStore, error) {
	top, ok := obj.(pyMapping)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, not a dict", errNoModelEntry, obj)
	}
	state, ok := top.Get(ModelEntry)
	if !ok {
		return nil, errNoModelEntry
	}

	store := make(model.ParameterStore)
	add := func(key, value interface{}) error {
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("parameter key %v is %T, not a string", key, key)
		}
		t, ok := value.(*pytorch.Tensor)
		if !ok {
			return fmt.Errorf("parameter %s is %T, not a tensor", name, value)
		}
		converted, err := tensorFromTorch(t)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		store[name] = converted
		return nil
	}

	switch s := state.(type) {
	case *types.OrderedDict:
		for e := s.List.Front(); e != nil; e = e.Next() {
			entry := entryOf(e)
			if entry == nil {
				continue
			}
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	case pyKeyed:
		for _, key := range s.Keys() {
			value, _ := s.Get(key)
			if err := add(key, value); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: model entry is %T, not a dict", errNoModelEntry, state)
	}

	if len(store) == 0 {
		return nil, fmt.Errorf("%w: model entry is empty", errNoModelEntry)
	}
	return store, nil
}

func entryOf(e *list.Element) *types.OrderedDictEntry {
	entry, _ := e.Value.(*types.OrderedDictEntry)
	return entry
}

// tensorFromTorch copies a possibly strided torch tensor into a contiguous
// float32 tensor.
func tensorFromTorch(t *pytorch.Tensor) (*model.Tensor, error) {
	var storage []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		storage = s.Data
	case *pytorch.HalfStorage:
		storage = s.Data
	case *pytorch.DoubleStorage:
		storage = castFloat32(s.Data)
	case *pytorch.LongStorage:
		storage = castFloat32(s.Data)
	case *pytorch.IntStorage:
		storage = castFloat32(s.Data)
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}

	shape := slices.Clone(t.Size)
	n := model.NumElements(shape)
	out := make([]float32, n)
	if n == 0 {
		return &model.Tensor{Shape: shape, Data: out}, nil
	}

	strides := t.Stride
	if len(strides) != len(shape) {
		strides = contiguousStrides(shape)
	}

	if slices.Equal(strides, contiguousStrides(shape)) {
		end := t.StorageOffset + n
		if t.StorageOffset < 0 || end > len(storage) {
			return nil, fmt.Errorf("view [%d:%d] outside storage of %d elements", t.StorageOffset, end, len(storage))
		}
		copy(out, storage[t.StorageOffset:end])
		return &model.Tensor{Shape: shape, Data: out}, nil
	}

	index := make([]int, len(shape))
	for i := range out {
		pos := t.StorageOffset
		for d, ix := range index {
			pos += ix * strides[d]
		}
		if pos < 0 || pos >= len(storage) {
			return nil, fmt.Errorf("strided element %d outside storage of %d elements", pos, len(storage))
		}
		out[i] = storage[pos]

		for d := len(index) - 1; d >= 0; d-- {
			index[d]++
			if index[d] < shape[d] {
				break
			}
			index[d] = 0
		}
	}
	return &model.Tensor{Shape: shape, Data: out}, nil
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = step
		step *= shape[d]
	}
	return strides
}

func castFloat32[T int32 | int64 | float64](in []T) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
