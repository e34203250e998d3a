// Package checkpoints reads, writes, merges and inspects model checkpoint
// files. A checkpoint is a gob-encoded map of named tensors plus free-form
// metadata and a step counter.
package checkpoints

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/Noofbiz/nnkit/layers"
)

// Tensor is one entry of a checkpoint. Float tensors carry Data; integer
// tensors (step counters, vocab ids) carry Ints and are never merged.
type Tensor struct {
	Shape []int
	Data  []float32
	Ints  []int64
}

// Float reports whether the tensor holds floating-point values.
func (t Tensor) Float() bool { return t.Ints == nil }

// Size returns the number of elements.
func (t Tensor) Size() int {
	if t.Float() {
		return len(t.Data)
	}
	return len(t.Ints)
}

// Checkpoint is the on-disk model state.
type Checkpoint struct {
	Tensors map[string]Tensor
	Meta    map[string]string
	Step    int
}

// FromParams snapshots layer parameters into a checkpoint.
func FromParams(params []*layers.Param, step int) *Checkpoint {
	ck := &Checkpoint{
		Tensors: make(map[string]Tensor, len(params)),
		Meta:    make(map[string]string),
		Step:    step,
	}
	for _, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		shape := make([]int, len(p.Shape))
		copy(shape, p.Shape)
		ck.Tensors[p.Name] = Tensor{Shape: shape, Data: data}
	}
	return ck
}

// Restore copies checkpoint tensors back into matching parameters.
func (ck *Checkpoint) Restore(params []*layers.Param) error {
	for _, p := range params {
		t, ok := ck.Tensors[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint has no tensor %q", p.Name)
		}
		if len(t.Data) != len(p.Data) {
			return fmt.Errorf("tensor %q has %d elements, parameter wants %d",
				p.Name, len(t.Data), len(p.Data))
		}
		copy(p.Data, t.Data)
	}
	return nil
}

// Save writes the checkpoint to path.
func Save(ck *Checkpoint, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", path, err)
	}
	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}
	defer f.Close()
	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return &ck, nil
}

// Merge writes a weighted merge of two checkpoint files to pathOut:
// out = ratio*A + (1-ratio)*B per float tensor. pathB == "" takes 100% of A.
// Integer tensors and metadata are copied from A. noise > 0 additionally
// perturbs every float tensor with truncated-normal noise scaled by
// noise times the tensor's own standard deviation. Merge does not check the
// two checkpoints for architectural compatibility beyond tensor sizes.
func Merge(pathA, pathB, pathOut string, ratio, noise float64, seed int64) error {
	ckA, err := Load(pathA)
	if err != nil {
		return err
	}
	ckB := ckA
	if pathB != "" {
		if ckB, err = Load(pathB); err != nil {
			return err
		}
	}

	rng := rand.New(rand.NewSource(seed))

	merged := &Checkpoint{
		Tensors: make(map[string]Tensor, len(ckA.Tensors)),
		Meta:    ckA.Meta,
		Step:    ckA.Step,
	}
	for name, ta := range ckA.Tensors {
		if !ta.Float() {
			merged.Tensors[name] = ta
			continue
		}
		tb, ok := ckB.Tensors[name]
		if !ok {
			return fmt.Errorf("tensor %q missing from %s", name, pathB)
		}
		if len(tb.Data) != len(ta.Data) {
			return fmt.Errorf("tensor %q: %d vs %d elements", name, len(ta.Data), len(tb.Data))
		}

		data := make([]float32, len(ta.Data))
		for i := range data {
			data[i] = float32(ratio)*ta.Data[i] + float32(1-ratio)*tb.Data[i]
		}
		if noise > 0 {
			if std := stddev(ta.Data); std > 0 {
				perturb := make([]float32, len(data))
				layers.TruncNormal(std)(rng, perturb)
				for i := range data {
					data[i] += float32(noise) * perturb[i]
				}
			}
		}
		merged.Tensors[name] = Tensor{Shape: ta.Shape, Data: data}
	}

	return Save(merged, pathOut)
}

func stddev(xs []float32) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += float64(x)
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := float64(x) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Info returns a human-readable listing of the first checkpoint: tensor
// names, shapes, dtypes and the total float count. With pathB given, each
// tensor is compared against the second checkpoint and the report ends with
// an equality verdict.
func Info(pathA, pathB string) (string, error) {
	ckA, err := Load(pathA)
	if err != nil {
		return "", err
	}
	var ckB *Checkpoint
	if pathB != "" {
		if ckB, err = Load(pathB); err != nil {
			return "", err
		}
	}

	names := make([]string, 0, len(ckA.Tensors))
	floats := 0
	for name, t := range ckA.Tensors {
		names = append(names, name)
		if t.Float() {
			floats += t.Size()
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "checkpoint has %d tensors, #floats: %d\n", len(ckA.Tensors), floats)

	equal := true
	for _, name := range names {
		t := ckA.Tensors[name]
		dtype := "float32"
		if !t.Float() {
			dtype = "int64"
		}
		fmt.Fprintf(&sb, "%-60s shape: %-12v %s\n", name, t.Shape, dtype)
		if ckB == nil {
			continue
		}
		tb, ok := ckB.Tensors[name]
		switch {
		case !ok:
			fmt.Fprintf(&sb, " ---> not present in second checkpoint\n")
			equal = false
		case !tensorsEqual(t, tb):
			fmt.Fprintf(&sb, " ---> not equal in second checkpoint\n")
			equal = false
		}
	}
	if ckB != nil {
		verdict := "are equal"
		if !equal {
			verdict = "are NOT equal"
		}
		fmt.Fprintf(&sb, "checkpoints %s\n", verdict)
	}
	return sb.String(), nil
}

func tensorsEqual(a, b Tensor) bool {
	if a.Float() != b.Float() || a.Size() != b.Size() {
		return false
	}
	if a.Float() {
		for i := range a.Data {
			if a.Data[i] != b.Data[i] {
				return false
			}
		}
		return true
	}
	for i := range a.Ints {
		if a.Ints[i] != b.Ints[i] {
			return false
		}
	}
	return true
}
