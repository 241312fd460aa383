package model

import (
	"fmt"
	"maps"
	"slices"
)

// Tensor is a dense, row-major float32 array on the host.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor wraps data with shape. len(data) must equal the shape's element count.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if n := NumElements(shape); n != len(data) {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Zeros returns a zero-filled tensor of shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, NumElements(shape))}
}

// NumElements returns the element count of shape; a scalar shape has one element.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Rows splits a tensor with rank >= 2 into per-row views along the first axis.
func (t *Tensor) Rows() [][]float32 {
	if len(t.Shape) == 0 || t.Shape[0] == 0 {
		return nil
	}
	stride := len(t.Data) / t.Shape[0]
	rows := make([][]float32, t.Shape[0])
	for i := range rows {
		rows[i] = t.Data[i*stride : (i+1)*stride : (i+1)*stride]
	}
	return rows
}

// ParameterStore maps parameter names, such as "conv_block1.conv1.weight",
// to their values. A store is owned by at most one model.
type ParameterStore map[string]*Tensor

// Names returns the parameter names in sorted order.
func (s ParameterStore) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Bytes returns the float32 payload size of the store.
func (s ParameterStore) Bytes() int64 {
	var n int64
	for _, t := range s {
		n += int64(len(t.Data)) * 4
	}
	return n
}

// ConcatRows stacks tensors of equal trailing shape along the first axis.
func ConcatRows(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	tail := parts[0].Shape[1:]
	rows := 0
	size := 0
	for _, p := range parts {
		if len(p.Shape) == 0 || !slices.Equal(p.Shape[1:], tail) {
			return nil, fmt.Errorf("cannot concatenate shape %v with %v", p.Shape, parts[0].Shape)
		}
		rows += p.Shape[0]
		size += len(p.Data)
	}

	data := make([]float32, 0, size)
	for _, p := range parts {
		data = append(data, p.Data...)
	}
	return &Tensor{Shape: append([]int{rows}, tail...), Data: data}, nil
}

// SliceRows returns rows [from, to) of t as a view.
func SliceRows(t *Tensor, from, to int) *Tensor {
	stride := 0
	if t.Shape[0] > 0 {
		stride = len(t.Data) / t.Shape[0]
	}
	shape := slices.Clone(t.Shape)
	shape[0] = to - from
	return &Tensor{Shape: shape, Data: t.Data[from*stride : to*stride]}
}
