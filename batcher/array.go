package batcher

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Array is the minimal view of one data axis the batcher needs: a leading
// sample count, gather by indices and contiguous slicing. Implementations
// that also support concatenation (see Concatenator) allow leftover samples
// to be carried over between chunks.
type Array interface {
	// Len returns the number of samples along the leading axis.
	Len() int

	// Take returns a new Array holding the samples at the given indices,
	// in order. Indices must be within [0, Len()).
	Take(indices []int) Array

	// Slice returns the samples in [i, j), like a Go slice expression.
	Slice(i, j int) Array
}

// Concatenator is an optional Array capability. Arrays that implement it can
// be joined sample-wise, which the batcher uses to prepend leftover samples
// to the next chunk.
type Concatenator interface {
	Concat(other Array) (Array, error)
}

// Tensorer is an optional Array capability for handing data to gomlx.
type Tensorer interface {
	Tensor() *tensors.Tensor
}

// Floats stores samples as float32 rows. It is the workhorse array type for
// model inputs and targets.
type Floats [][]float32

// NewFloats wraps rows without copying them.
func NewFloats(rows [][]float32) Floats { return Floats(rows) }

func (f Floats) Len() int { return len(f) }

func (f Floats) Take(indices []int) Array {
	out := make(Floats, len(indices))
	for i, idx := range indices {
		out[i] = f[idx]
	}
	return out
}

func (f Floats) Slice(i, j int) Array { return f[i:j] }

func (f Floats) Concat(other Array) (Array, error) {
	o, ok := other.(Floats)
	if !ok {
		return nil, fmt.Errorf("cannot concat Floats with %T", other)
	}
	out := make(Floats, 0, len(f)+len(o))
	out = append(out, f...)
	out = append(out, o...)
	return out, nil
}

// Tensor converts the rows into a gomlx tensor of shape [len, rowWidth].
func (f Floats) Tensor() *tensors.Tensor {
	return tensors.FromAnyValue([][]float32(f))
}

// Ints stores scalar integer samples, typically class labels or raw ids.
type Ints []int64

func (n Ints) Len() int { return len(n) }

func (n Ints) Take(indices []int) Array {
	out := make(Ints, len(indices))
	for i, idx := range indices {
		out[i] = n[idx]
	}
	return out
}

func (n Ints) Slice(i, j int) Array { return n[i:j] }

func (n Ints) Concat(other Array) (Array, error) {
	o, ok := other.(Ints)
	if !ok {
		return nil, fmt.Errorf("cannot concat Ints with %T", other)
	}
	out := make(Ints, 0, len(n)+len(o))
	out = append(out, n...)
	out = append(out, o...)
	return out, nil
}

// Tensor converts the values into a 1-D gomlx tensor.
func (n Ints) Tensor() *tensors.Tensor {
	return tensors.FromAnyValue([]int64(n))
}

// Data maps axis names (e.g. "input", "labels") to arrays of samples. All
// axes of one Data must share the same leading sample count.
type Data map[string]Array

// ToTensors converts every axis that supports it into a gomlx tensor, ready
// for a gomlx training step. Axes without tensor support are skipped.
func ToTensors(data Data) map[string]*tensors.Tensor {
	out := make(map[string]*tensors.Tensor, len(data))
	for k, arr := range data {
		if t, ok := arr.(Tensorer); ok {
			out[k] = t.Tensor()
		}
	}
	return out
}
