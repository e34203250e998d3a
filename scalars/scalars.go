// Package scalars records scalar metric values against step numbers,
// grouped by tag. Recorded series can be summarized, flushed to CSV or
// rendered as a PNG line chart.
package scalars

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"os"
	"sort"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type point struct {
	step  int
	value float64
}

// Writer collects scalar series. It is safe for concurrent use, so a
// background loader and a training loop can both record into it.
type Writer struct {
	mu     sync.Mutex
	series map[string][]point
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{series: make(map[string][]point)}
}

// Add records one value for the tag at the given step.
func (w *Writer) Add(value float64, tag string, step int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series[tag] = append(w.series[tag], point{step: step, value: value})
}

// Tags returns the recorded tags, sorted.
func (w *Writer) Tags() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	tags := make([]string, 0, len(w.series))
	for tag := range w.series {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Series returns the steps and values recorded for a tag, in record order.
func (w *Writer) Series(tag string) (steps []int, values []float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.series[tag] {
		steps = append(steps, p.step)
		values = append(values, p.value)
	}
	return steps, values
}

// Summary holds descriptive statistics of one series.
type Summary struct {
	N         int
	Mean, Std float64
	Min, Max  float64
}

// Summarize computes statistics over all values recorded for a tag.
func (w *Writer) Summarize(tag string) (Summary, error) {
	_, values := w.Series(tag)
	if len(values) == 0 {
		return Summary{}, fmt.Errorf("no values recorded for tag %q", tag)
	}
	s := Summary{
		N:    len(values),
		Mean: stat.Mean(values, nil),
		Min:  values[0],
		Max:  values[0],
	}
	if len(values) > 1 {
		s.Std = stat.StdDev(values, nil)
	}
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	return s, nil
}

// FlushCSV writes all series as tag,step,value rows.
func (w *Writer) FlushCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"tag", "step", "value"}); err != nil {
		return err
	}
	for _, tag := range w.Tags() {
		steps, values := w.Series(tag)
		for i := range steps {
			rec := []string{
				tag,
				strconv.Itoa(steps[i]),
				strconv.FormatFloat(values[i], 'g', -1, 64),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// PlotPNG renders the given tags (all of them when none are named) as lines
// over step numbers and saves the chart as a PNG.
func (w *Writer) PlotPNG(path, title string, tags ...string) error {
	if len(tags) == 0 {
		tags = w.Tags()
	}
	if len(tags) == 0 {
		return fmt.Errorf("nothing to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = "value"

	palette := []color.RGBA{
		{R: 20, G: 80, B: 200, A: 255},
		{R: 200, G: 30, B: 30, A: 255},
		{R: 40, G: 140, B: 40, A: 255},
		{R: 150, G: 90, B: 10, A: 255},
		{R: 110, G: 40, B: 160, A: 255},
	}

	for i, tag := range tags {
		steps, values := w.Series(tag)
		if len(values) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(values))
		for j := range values {
			xys[j] = plotter.XY{X: float64(steps[j]), Y: values[j]}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(1.2)
		p.Add(line)
		p.Legend.Add(tag, line)
	}
	p.Add(plotter.NewGrid())

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}
