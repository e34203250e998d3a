package layers

import "fmt"

// Zeroes reports dead units: element i of the result is 1 when feature i
// never activated (value <= 0) in any row of the batch, 0 otherwise.
func Zeroes(rows [][]float32) []int {
	if len(rows) == 0 {
		return nil
	}
	feats := len(rows[0])
	activated := make([]int, feats)
	for _, row := range rows {
		for i, v := range row {
			if v > 0 {
				activated[i]++
			}
		}
	}
	zs := make([]int, feats)
	for i, a := range activated {
		if a == 0 {
			zs[i] = 1
		}
	}
	return zs
}

// ScalarWriter records scalar values against step numbers. scalars.Writer
// satisfies it.
type ScalarWriter interface {
	Add(value float64, tag string, step int)
}

// ZeroesProcessor accumulates dead-unit indicators over fixed step intervals
// and reports, per interval, the fraction of units that stayed dead through
// the whole interval. With a ScalarWriter attached the values are also
// recorded under "<prefix>/nane_<interval>" tags.
type ZeroesProcessor struct {
	Intervals []int
	TagPrefix string
	Writer    ScalarWriter

	buffers map[int][][]int
	single  []float64
	step    int
}

// NewZeroesProcessor builds a processor with the default intervals
// (50, 500, 5000) when none are given.
func NewZeroesProcessor(intervals []int, tagPrefix string, w ScalarWriter) *ZeroesProcessor {
	if len(intervals) == 0 {
		intervals = []int{50, 500, 5000}
	}
	if tagPrefix == "" {
		tagPrefix = "nane"
	}
	zp := &ZeroesProcessor{
		Intervals: intervals,
		TagPrefix: tagPrefix,
		Writer:    w,
		buffers:   make(map[int][][]int, len(intervals)),
	}
	for _, iv := range intervals {
		zp.buffers[iv] = nil
	}
	return zp
}

// Process absorbs the next zeroes vector. step < 0 uses the internal step
// counter. The returned map holds one entry per interval that completed on
// this call (key 1 carries the short-window mean of per-step fractions) and
// is empty otherwise.
func (zp *ZeroesProcessor) Process(zeroes []int, step int) map[int]float64 {
	out := make(map[int]float64)
	if len(zeroes) == 0 {
		return out
	}
	if step < 0 {
		step = zp.step
	}

	mean := 0.0
	for _, z := range zeroes {
		mean += float64(z)
	}
	mean /= float64(len(zeroes))
	zp.single = append(zp.single, mean)

	if len(zp.single) == zp.Intervals[0] {
		sum := 0.0
		for _, v := range zp.single {
			sum += v
		}
		out[1] = sum / float64(len(zp.single))
		zp.single = zp.single[:0]
	}

	for _, iv := range zp.Intervals {
		zp.buffers[iv] = append(zp.buffers[iv], zeroes)
		if len(zp.buffers[iv]) < iv {
			continue
		}
		// A unit counts as dead for the interval only when it was dead at
		// every step of it.
		feats := len(zeroes)
		dead := 0
		for i := 0; i < feats; i++ {
			all := true
			for _, vec := range zp.buffers[iv] {
				if i >= len(vec) || vec[i] == 0 {
					all = false
					break
				}
			}
			if all {
				dead++
			}
		}
		out[iv] = float64(dead) / float64(feats)
		zp.buffers[iv] = nil
	}

	if zp.Writer != nil {
		for iv, v := range out {
			zp.Writer.Add(v, fmt.Sprintf("%s/nane_%d", zp.TagPrefix, iv), step)
		}
	}

	zp.step++
	return out
}
