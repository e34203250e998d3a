package scalars

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAddAndSeries(t *testing.T) {
	w := NewWriter()
	w.Add(0.5, "loss", 0)
	w.Add(0.4, "loss", 1)
	w.Add(1.0, "norm", 0)

	tags := w.Tags()
	if len(tags) != 2 || tags[0] != "loss" || tags[1] != "norm" {
		t.Fatalf("unexpected tags: %v", tags)
	}

	steps, values := w.Series("loss")
	if len(steps) != 2 || steps[1] != 1 || values[0] != 0.5 {
		t.Fatalf("unexpected loss series: %v %v", steps, values)
	}

	steps, values = w.Series("unknown")
	if steps != nil || values != nil {
		t.Fatalf("unknown tag should yield empty series")
	}
}

func TestSummarize(t *testing.T) {
	w := NewWriter()
	for i, v := range []float64{1, 2, 3, 4} {
		w.Add(v, "m", i)
	}

	s, err := w.Summarize("m")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if s.N != 4 || math.Abs(s.Mean-2.5) > 1e-9 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Min != 1 || s.Max != 4 {
		t.Fatalf("unexpected min/max: %+v", s)
	}
	// Sample stddev of 1..4 is sqrt(5/3).
	if math.Abs(s.Std-math.Sqrt(5.0/3.0)) > 1e-9 {
		t.Fatalf("unexpected stddev: %v", s.Std)
	}

	if _, err := w.Summarize("missing"); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestConcurrentAdd(t *testing.T) {
	w := NewWriter()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Add(float64(i), "shared", g*100+i)
			}
		}(g)
	}
	wg.Wait()

	steps, _ := w.Series("shared")
	if len(steps) != 800 {
		t.Fatalf("expected 800 points, got %d", len(steps))
	}
}

func TestFlushCSV(t *testing.T) {
	w := NewWriter()
	w.Add(0.25, "loss", 3)
	w.Add(2, "norm", 3)

	path := filepath.Join(t.TempDir(), "scalars.csv")
	if err := w.FlushCSV(path); err != nil {
		t.Fatalf("FlushCSV failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening flushed CSV: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading flushed CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "tag" || records[0][2] != "value" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "loss" || records[1][1] != "3" || records[1][2] != "0.25" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
}

func TestPlotPNG(t *testing.T) {
	w := NewWriter()
	for i := 0; i < 10; i++ {
		w.Add(float64(10-i), "loss", i)
		w.Add(float64(i), "acc", i)
	}

	path := filepath.Join(t.TempDir(), "chart.png")
	if err := w.PlotPNG(path, "training"); err != nil {
		t.Fatalf("PlotPNG failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("chart file is empty")
	}

	empty := NewWriter()
	if err := empty.PlotPNG(filepath.Join(t.TempDir(), "none.png"), "empty"); err == nil {
		t.Fatalf("expected error when nothing was recorded")
	}
}
