// Package gradclip clips parameter gradients by their global norm. Besides
// the plain fixed-threshold clip it provides Clipper, which adapts the
// threshold to a moving average of the norms observed during training.
package gradclip

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/nnkit/layers"
)

// NormInf selects max-abs instead of the L2 norm.
var NormInf = math.Inf(1)

// ClipNorm computes the global gradient norm over the given parameters and,
// when doClip is set, scales all gradients in place by
// min(1, maxNorm/(norm+1e-6)). It returns the pre-clip norm. normType is the
// norm order, typically 2 or NormInf.
func ClipNorm(params []*layers.Param, maxNorm, normType float64, doClip bool) float64 {
	var withGrad []*layers.Param
	for _, p := range params {
		if p != nil && len(p.Grad) > 0 {
			withGrad = append(withGrad, p)
		}
	}
	if len(withGrad) == 0 {
		return 0
	}

	var total float64
	if math.IsInf(normType, 1) {
		for _, p := range withGrad {
			for _, g := range p.Grad {
				if a := math.Abs(float64(g)); a > total {
					total = a
				}
			}
		}
	} else {
		var sum float64
		for _, p := range withGrad {
			var pn float64
			for _, g := range p.Grad {
				pn += math.Pow(math.Abs(float64(g)), normType)
			}
			sum += pn
		}
		total = math.Pow(sum, 1/normType)
	}

	if doClip {
		coef := maxNorm / (total + 1e-6)
		if coef < 1 {
			for _, p := range withGrad {
				for i := range p.Grad {
					p.Grad[i] = float32(float64(p.Grad[i]) * coef)
				}
			}
		}
	}
	return total
}

// MovAvg is an exponential moving average with arithmetic warm-up: until
// 1/factor values have been absorbed the average is the plain mean, which
// stabilizes the early estimate.
type MovAvg struct {
	Factor   float64
	FirstAvg bool

	value float64
	count int
}

// NewMovAvg builds a moving average with the given update factor.
func NewMovAvg(factor float64, firstAvg bool) *MovAvg {
	return &MovAvg{Factor: factor, FirstAvg: firstAvg}
}

// Upd absorbs the next value and returns the updated average.
func (m *MovAvg) Upd(v float64) float64 {
	warm := int(1 / m.Factor)
	if m.FirstAvg && m.count < warm {
		m.value = (m.value*float64(m.count) + v) / float64(m.count+1)
	} else {
		m.value = m.value*(1-m.Factor) + v*m.Factor
	}
	m.count++
	return m.value
}

// Value returns the current average.
func (m *MovAvg) Value() float64 { return m.value }

// Config holds Clipper tunables; zero values select the defaults.
type Config struct {
	// StartVal seeds the moving average. Default 0.1.
	StartVal float64

	// Factor of the moving average update. Default 0.01.
	Factor float64

	// FirstAvg enables arithmetic warm-up of the average. Default true
	// (disable with NoFirstAvg).
	NoFirstAvg bool

	// MaxClip caps the clip threshold; 0 means no cap.
	MaxClip float64

	// MaxUpd bounds a single average update to MaxUpd times the current
	// threshold, so one huge norm cannot blow up the target. Default 1.5.
	MaxUpd float64

	// DoClip false disables scaling (norms are still tracked). Default is
	// to clip (disable with NoClip).
	NoClip bool

	// NormType of the global norm. Default 2.
	NormType float64

	// Logger for per-step debug output. A default logger is created when
	// nil.
	Logger *logrus.Logger
}

// Clipper clips a parameter set to the moving average of its gradient norms.
type Clipper struct {
	params []*layers.Param
	mavg   *MovAvg
	cfg    Config
	log    *logrus.Logger
}

// Result reports one clipping step: the observed global norm and the
// threshold that was applied.
type Result struct {
	Norm   float64
	ClipTo float64
}

// NewClipper builds a Clipper over the given parameters.
func NewClipper(params []*layers.Param, cfg Config) *Clipper {
	if cfg.StartVal == 0 {
		cfg.StartVal = 0.1
	}
	if cfg.Factor == 0 {
		cfg.Factor = 0.01
	}
	if cfg.MaxUpd == 0 {
		cfg.MaxUpd = 1.5
	}
	if cfg.NormType == 0 {
		cfg.NormType = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	mavg := NewMovAvg(cfg.Factor, !cfg.NoFirstAvg)
	mavg.Upd(cfg.StartVal)
	return &Clipper{params: params, mavg: mavg, cfg: cfg, log: cfg.Logger}
}

// Clip scales the gradients to the current adaptive threshold and feeds the
// observed norm back into the moving average.
func (c *Clipper) Clip() Result {
	clipTo := c.mavg.Value()
	norm := ClipNorm(c.params, clipTo, c.cfg.NormType, !c.cfg.NoClip)

	upd := norm
	if limit := clipTo * c.cfg.MaxUpd; upd > limit {
		upd = limit
	}
	if c.cfg.MaxClip > 0 && upd > c.cfg.MaxClip {
		upd = c.cfg.MaxClip
	}
	c.mavg.Upd(upd)

	c.log.WithFields(logrus.Fields{
		"norm":    norm,
		"clip_to": clipTo,
	}).Debug("gradients clipped")

	return Result{Norm: norm, ClipTo: clipTo}
}

// Threshold returns the clip value the next Clip call will use.
func (c *Clipper) Threshold() float64 { return c.mavg.Value() }
