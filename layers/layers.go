// Package layers provides small neural-network building blocks operating on
// float32 slices: dense, 1-D convolution, residual connection, positional
// encoding and dropout variants. Layers expose their parameters as named
// Param values so gradient clipping and checkpoint tools can reach them.
package layers

import (
	"math"
	"math/rand"
)

// Param is a named parameter tensor with a gradient buffer of the same size.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Data:  make([]float32, size),
		Grad:  make([]float32, size),
	}
}

// Size returns the number of elements.
func (p *Param) Size() int { return len(p.Data) }

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Initializer fills a parameter buffer with initial values.
type Initializer func(rng *rand.Rand, data []float32)

// TruncNormal returns a truncated-normal initializer: values are drawn with
// the given standard deviation and clamped to ±2 std.
func TruncNormal(std float64) Initializer {
	return func(rng *rand.Rand, data []float32) {
		for i := range data {
			v := rng.NormFloat64() * std
			if v > 2*std {
				v = 2 * std
			}
			if v < -2*std {
				v = -2 * std
			}
			data[i] = float32(v)
		}
	}
}

// DefaultInit is the package-wide default weight initializer.
var DefaultInit = TruncNormal(0.02)

// Activation applies a non-linearity in place over one row.
type Activation func(x []float32)

// ReLU zeroes negative values in place.
func ReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// Tanh applies tanh in place.
func Tanh(x []float32) {
	for i := range x {
		x[i] = float32(math.Tanh(float64(x[i])))
	}
}

// ReLUDeriv returns the elementwise ReLU derivative for the pre-activations.
func ReLUDeriv(pre []float32) []float32 {
	d := make([]float32, len(pre))
	for i := range pre {
		if pre[i] > 0 {
			d[i] = 1
		}
	}
	return d
}

// Dense is a linear layer with optional bias and activation.
type Dense struct {
	In, Out    int
	Weight     *Param // flat [Out][In]
	Bias       *Param // nil when built without bias
	Activation Activation
}

// NewDense builds a dense layer. Weights use init (DefaultInit when nil),
// bias starts at zero.
func NewDense(name string, in, out int, act Activation, init Initializer, rng *rand.Rand) *Dense {
	if init == nil {
		init = DefaultInit
	}
	d := &Dense{
		In:         in,
		Out:        out,
		Weight:     NewParam(name+".weight", out, in),
		Bias:       NewParam(name+".bias", out),
		Activation: act,
	}
	init(rng, d.Weight.Data)
	return d
}

// Forward computes activation(x W^T + b) for a batch of rows.
func (d *Dense) Forward(x [][]float32) [][]float32 {
	out := make([][]float32, len(x))
	for r, row := range x {
		o := make([]float32, d.Out)
		for j := 0; j < d.Out; j++ {
			w := d.Weight.Data[j*d.In : (j+1)*d.In]
			sum := float32(0)
			for i := 0; i < d.In; i++ {
				sum += w[i] * row[i]
			}
			if d.Bias != nil {
				sum += d.Bias.Data[j]
			}
			o[j] = sum
		}
		if d.Activation != nil {
			d.Activation(o)
		}
		out[r] = o
	}
	return out
}

// Params returns the layer parameters for clipping and checkpointing.
func (d *Dense) Params() []*Param {
	if d.Bias == nil {
		return []*Param{d.Weight}
	}
	return []*Param{d.Weight, d.Bias}
}

// Conv1D is a 1-D convolution over [batch][time][channels] input with "same"
// padding, so the time dimension is preserved.
type Conv1D struct {
	In, Filters, Kernel int
	Weight              *Param // flat [Filters][Kernel][In]
	Bias                *Param
	Activation          Activation
}

// NewConv1D builds a convolution layer with the given kernel size.
func NewConv1D(name string, in, filters, kernel int, act Activation, init Initializer, rng *rand.Rand) *Conv1D {
	if init == nil {
		init = DefaultInit
	}
	c := &Conv1D{
		In:         in,
		Filters:    filters,
		Kernel:     kernel,
		Weight:     NewParam(name+".weight", filters, kernel, in),
		Bias:       NewParam(name+".bias", filters),
		Activation: act,
	}
	init(rng, c.Weight.Data)
	return c
}

// Forward convolves each sequence, returning [batch][time][Filters].
func (c *Conv1D) Forward(x [][][]float32) [][][]float32 {
	pad := (c.Kernel - 1) / 2
	out := make([][][]float32, len(x))
	for b, seq := range x {
		steps := len(seq)
		os := make([][]float32, steps)
		for t := 0; t < steps; t++ {
			o := make([]float32, c.Filters)
			for f := 0; f < c.Filters; f++ {
				sum := c.Bias.Data[f]
				for k := 0; k < c.Kernel; k++ {
					src := t + k - pad
					if src < 0 || src >= steps {
						continue
					}
					w := c.Weight.Data[(f*c.Kernel+k)*c.In : (f*c.Kernel+k+1)*c.In]
					row := seq[src]
					for i := 0; i < c.In; i++ {
						sum += w[i] * row[i]
					}
				}
				o[f] = sum
			}
			if c.Activation != nil {
				c.Activation(o)
			}
			os[t] = o
		}
		out[b] = os
	}
	return out
}

// Params returns the layer parameters.
func (c *Conv1D) Params() []*Param { return []*Param{c.Weight, c.Bias} }

// Dropout is standard inverted dropout: kept values are scaled by 1/(1-rate)
// during training, evaluation passes input through unchanged.
type Dropout struct {
	Rate     float64
	Training bool
	rng      *rand.Rand
}

// NewDropout builds a dropout layer in evaluation mode.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{Rate: rate, rng: rng}
}

// Forward applies dropout to a batch of rows.
func (d *Dropout) Forward(x [][]float32) [][]float32 {
	if !d.Training || d.Rate == 0 {
		return x
	}
	scale := float32(1 / (1 - d.Rate))
	out := make([][]float32, len(x))
	for r, row := range x {
		o := make([]float32, len(row))
		for i, v := range row {
			if d.rng.Float64() >= d.Rate {
				o[i] = v * scale
			}
		}
		out[r] = o
	}
	return out
}

// Residual adds a bypass connection to the layer input, with optional
// dropout applied to the bypass during training.
type Residual struct {
	Dropout *Dropout // nil disables bypass dropout
}

// NewResidual builds a residual connection; rate 0 disables dropout.
func NewResidual(rate float64, rng *rand.Rand) *Residual {
	r := &Residual{}
	if rate > 0 {
		r.Dropout = NewDropout(rate, rng)
	}
	return r
}

// Forward returns inp + bypass elementwise. Shapes must match.
func (r *Residual) Forward(inp, bypass [][]float32) [][]float32 {
	if r.Dropout != nil {
		bypass = r.Dropout.Forward(bypass)
	}
	out := make([][]float32, len(inp))
	for i := range inp {
		row := make([]float32, len(inp[i]))
		for j := range row {
			row[j] = inp[i][j] + bypass[i][j]
		}
		out[i] = row
	}
	return out
}

// PositionalEncoding adds the fixed sin/cos position table to sequence
// inputs of shape [batch][time][DModel].
type PositionalEncoding struct {
	DModel, MaxLen int
	Dropout        *Dropout

	pe [][]float32
}

// NewPositionalEncoding precomputes the encoding table for up to maxLen
// positions.
func NewPositionalEncoding(dModel, maxLen int, dropoutRate float64, rng *rand.Rand) *PositionalEncoding {
	p := &PositionalEncoding{DModel: dModel, MaxLen: maxLen}
	if dropoutRate > 0 {
		p.Dropout = NewDropout(dropoutRate, rng)
	}
	p.pe = make([][]float32, maxLen)
	for pos := 0; pos < maxLen; pos++ {
		row := make([]float32, dModel)
		for i := 0; i < dModel; i += 2 {
			div := math.Exp(float64(i) * (-math.Log(10000.0) / float64(dModel)))
			row[i] = float32(math.Sin(float64(pos) * div))
			if i+1 < dModel {
				row[i+1] = float32(math.Cos(float64(pos) * div))
			}
		}
		p.pe[pos] = row
	}
	return p
}

// Forward adds the position table to every sequence in the batch.
func (p *PositionalEncoding) Forward(x [][][]float32) [][][]float32 {
	out := make([][][]float32, len(x))
	for b, seq := range x {
		os := make([][]float32, len(seq))
		for t, row := range seq {
			o := make([]float32, len(row))
			for i := range row {
				o[i] = row[i] + p.pe[t][i]
			}
			os[t] = o
		}
		if p.Dropout != nil {
			os = p.Dropout.Forward(os)
		}
		out[b] = os
	}
	return out
}

// TFDropout is time-and-feature dropout for sequence tensors of shape
// [batch][time][feats]: one mask drops whole time steps, another drops whole
// feature channels. Masks are shared across the batch.
type TFDropout struct {
	TimeRate, FeatRate float64
	Training           bool
	rng                *rand.Rand
}

// NewTFDropout builds the layer in evaluation mode.
func NewTFDropout(timeRate, featRate float64, rng *rand.Rand) *TFDropout {
	return &TFDropout{TimeRate: timeRate, FeatRate: featRate, rng: rng}
}

// Forward applies the time and feature masks independently.
func (d *TFDropout) Forward(x [][][]float32) [][][]float32 {
	if !d.Training || (d.TimeRate == 0 && d.FeatRate == 0) || len(x) == 0 {
		return x
	}
	steps := len(x[0])
	feats := len(x[0][0])

	timeMask := d.mask(steps, d.TimeRate)
	featMask := d.mask(feats, d.FeatRate)

	out := make([][][]float32, len(x))
	for b, seq := range x {
		os := make([][]float32, len(seq))
		for t, row := range seq {
			o := make([]float32, len(row))
			for i, v := range row {
				o[i] = v * timeMask[t] * featMask[i]
			}
			os[t] = o
		}
		out[b] = os
	}
	return out
}

// mask draws an inverted-dropout keep mask of the given length; rate 0
// yields all ones.
func (d *TFDropout) mask(n int, rate float64) []float32 {
	m := make([]float32, n)
	if rate == 0 {
		for i := range m {
			m[i] = 1
		}
		return m
	}
	scale := float32(1 / (1 - rate))
	for i := range m {
		if d.rng.Float64() >= rate {
			m[i] = scale
		}
	}
	return m
}
