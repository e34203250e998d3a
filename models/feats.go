// Package models bundles small ready-made model definitions: a feature
// classifier trained with cross-entropy and adaptive gradient clipping, and
// a text embedder/classifier pair built from the layer helpers.
package models

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/nnkit/batcher"
	"github.com/Noofbiz/nnkit/checkpoints"
	"github.com/Noofbiz/nnkit/gradclip"
	"github.com/Noofbiz/nnkit/layers"
)

// Axis names the classifier expects in training batches.
const (
	AxisFeats  = "feats"
	AxisLabels = "labels"
)

// ClassifierConfig configures FeatsClassifier. Zero values select defaults.
type ClassifierConfig struct {
	// FeatsWidth is the input feature dimension. Required.
	FeatsWidth int

	// NumClasses of the output distribution. Required.
	NumClasses int

	// HiddenSizes of the dense stack. Default []int{64}.
	HiddenSizes []int

	// LearningRate of the SGD update. Default 0.001.
	LearningRate float64

	// Seed for weight init. Default 123.
	Seed int64

	// Clip configures the adaptive gradient clipper.
	Clip gradclip.Config

	// Writer, when set, records loss and gradient norms per step.
	Writer layers.ScalarWriter

	// Logger used for progress output. A default logger is created when
	// nil.
	Logger *logrus.Logger
}

// FeatsClassifier is a dense-stack classifier over flat feature vectors.
// TrainStep consumes batches in the batcher's Data format and runs forward,
// cross-entropy backward, adaptive clip and an SGD update.
type FeatsClassifier struct {
	cfg    ClassifierConfig
	log    *logrus.Logger
	rng    *rand.Rand
	hidden []*layers.Dense
	out    *layers.Dense
	clip   *gradclip.Clipper
	zeroes *layers.ZeroesProcessor
	step   int
}

// NewFeatsClassifier builds the model and its clipper.
func NewFeatsClassifier(cfg ClassifierConfig) (*FeatsClassifier, error) {
	if cfg.FeatsWidth <= 0 || cfg.NumClasses <= 0 {
		return nil, errors.New("models: FeatsWidth and NumClasses are required")
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Seed == 0 {
		cfg.Seed = 123
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	m := &FeatsClassifier{
		cfg: cfg,
		log: cfg.Logger,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}

	in := cfg.FeatsWidth
	for i, h := range cfg.HiddenSizes {
		name := fmt.Sprintf("hidden%d", i)
		m.hidden = append(m.hidden, layers.NewDense(name, in, h, layers.ReLU, nil, m.rng))
		in = h
	}
	m.out = layers.NewDense("out", in, cfg.NumClasses, nil, nil, m.rng)

	cfg.Clip.Logger = cfg.Logger
	m.clip = gradclip.NewClipper(m.Params(), cfg.Clip)
	m.zeroes = layers.NewZeroesProcessor(nil, "nane", cfg.Writer)

	return m, nil
}

// Params returns all trainable parameters.
func (m *FeatsClassifier) Params() []*layers.Param {
	var params []*layers.Param
	for _, l := range m.hidden {
		params = append(params, l.Params()...)
	}
	return append(params, m.out.Params()...)
}

// Logits runs the forward pass without the softmax.
func (m *FeatsClassifier) Logits(x [][]float32) [][]float32 {
	for _, l := range m.hidden {
		x = l.Forward(x)
	}
	return m.out.Forward(x)
}

// Probs returns class probabilities per input row.
func (m *FeatsClassifier) Probs(x [][]float32) [][]float32 {
	logits := m.Logits(x)
	out := make([][]float32, len(logits))
	for i, row := range logits {
		out[i] = softmax(row)
	}
	return out
}

// Predict returns the argmax class per input row.
func (m *FeatsClassifier) Predict(x [][]float32) []int {
	logits := m.Logits(x)
	out := make([]int, len(logits))
	for i, row := range logits {
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// TrainResult reports one training step.
type TrainResult struct {
	Loss   float64
	Norm   float64
	ClipTo float64
}

// TrainStep trains on one batch: forward, mean cross-entropy, backprop,
// adaptive clip, SGD update. The batch needs a "feats" Floats axis and a
// "labels" Ints axis.
func (m *FeatsClassifier) TrainStep(batch batcher.Data) (TrainResult, error) {
	feats, ok := batch[AxisFeats].(batcher.Floats)
	if !ok {
		return TrainResult{}, fmt.Errorf("batch axis %q missing or not Floats", AxisFeats)
	}
	labels, ok := batch[AxisLabels].(batcher.Ints)
	if !ok {
		return TrainResult{}, fmt.Errorf("batch axis %q missing or not Ints", AxisLabels)
	}
	if len(feats) == 0 || len(feats) != len(labels) {
		return TrainResult{}, fmt.Errorf("bad batch: %d feature rows, %d labels", len(feats), len(labels))
	}

	params := m.Params()
	for _, p := range params {
		p.ZeroGrad()
	}

	var loss float64
	var lastHidden [][]float32
	for ex := range feats {
		label := int(labels[ex])
		if label < 0 || label >= m.cfg.NumClasses {
			return TrainResult{}, fmt.Errorf("label %d out of range [0,%d)", label, m.cfg.NumClasses)
		}

		acts := m.forwardCached(feats[ex])
		lastHidden = append(lastHidden, acts[len(acts)-1])

		logits := m.out.Forward(acts[len(acts)-1 : len(acts)])[0]
		probs := softmax(logits)
		loss += -math.Log(math.Max(float64(probs[label]), 1e-12))

		// Output delta of softmax + cross-entropy.
		delta := make([]float32, len(probs))
		copy(delta, probs)
		delta[label] -= 1

		m.backward(acts, delta)
	}
	loss /= float64(len(feats))

	// Mean gradients over the batch before clipping.
	inv := float32(1) / float32(len(feats))
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= inv
		}
	}

	res := m.clip.Clip()

	lr := float32(m.cfg.LearningRate)
	for _, p := range params {
		for i := range p.Grad {
			p.Data[i] -= lr * p.Grad[i]
		}
	}

	m.zeroes.Process(layers.Zeroes(lastHidden), m.step)
	if m.cfg.Writer != nil {
		m.cfg.Writer.Add(loss, "loss", m.step)
		m.cfg.Writer.Add(res.Norm, "gg_norm", m.step)
		m.cfg.Writer.Add(res.ClipTo, "gg_norm_clip", m.step)
	}
	m.step++

	return TrainResult{Loss: loss, Norm: res.Norm, ClipTo: res.ClipTo}, nil
}

// forwardCached runs the hidden stack for one example, returning the
// activations per layer, acts[0] being the input.
func (m *FeatsClassifier) forwardCached(input []float32) [][]float32 {
	acts := make([][]float32, 0, len(m.hidden)+1)
	acts = append(acts, input)
	for _, l := range m.hidden {
		acts = append(acts, l.Forward([][]float32{acts[len(acts)-1]})[0])
	}
	return acts
}

// backward accumulates gradients for one example given the output delta.
// For ReLU the activated outputs carry the derivative (1 where > 0), so no
// separate pre-activation cache is kept.
func (m *FeatsClassifier) backward(acts [][]float32, delta []float32) {
	accumulate(m.out, delta, acts[len(acts)-1])
	delta = propagate(m.out, delta)

	for l := len(m.hidden) - 1; l >= 0; l-- {
		deriv := layers.ReLUDeriv(acts[l+1])
		for i := range delta {
			delta[i] *= deriv[i]
		}
		accumulate(m.hidden[l], delta, acts[l])
		if l > 0 {
			delta = propagate(m.hidden[l], delta)
		}
	}
}

// accumulate adds the weight and bias gradients of one dense layer.
func accumulate(d *layers.Dense, delta, inAct []float32) {
	for j := range delta {
		d.Bias.Grad[j] += delta[j]
		row := d.Weight.Grad[j*d.In : (j+1)*d.In]
		for i := range inAct {
			row[i] += delta[j] * inAct[i]
		}
	}
}

// propagate returns the delta for the previous layer.
func propagate(d *layers.Dense, delta []float32) []float32 {
	prev := make([]float32, d.In)
	for i := 0; i < d.In; i++ {
		var sum float32
		for j := range delta {
			sum += d.Weight.Data[j*d.In+i] * delta[j]
		}
		prev[i] = sum
	}
	return prev
}

// Save snapshots the parameters to a checkpoint file.
func (m *FeatsClassifier) Save(path string) error {
	return checkpoints.Save(checkpoints.FromParams(m.Params(), m.step), path)
}

// Load restores parameters from a checkpoint file.
func (m *FeatsClassifier) Load(path string) error {
	ck, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	if err := ck.Restore(m.Params()); err != nil {
		return err
	}
	m.step = ck.Step
	return nil
}

func softmax(logits []float32) []float32 {
	maxv := logits[0]
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxv))
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i := range out {
		out[i] = float32(exps[i] / sum)
	}
	return out
}
