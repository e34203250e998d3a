package models

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/nnkit/batcher"
	"github.com/Noofbiz/nnkit/gradclip"
	"github.com/Noofbiz/nnkit/scalars"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// xorBatch is a tiny separable problem: class is x0 > x1.
func xorBatch() batcher.Data {
	feats := batcher.Floats{
		{1, 0}, {0.8, 0.1}, {0.9, 0.3}, {0.7, 0},
		{0, 1}, {0.1, 0.8}, {0.3, 0.9}, {0, 0.7},
	}
	labels := batcher.Ints{0, 0, 0, 0, 1, 1, 1, 1}
	return batcher.Data{AxisFeats: feats, AxisLabels: labels}
}

func TestClassifierConfigValidation(t *testing.T) {
	if _, err := NewFeatsClassifier(ClassifierConfig{}); err == nil {
		t.Fatalf("expected error for missing dims")
	}
	if _, err := NewFeatsClassifier(ClassifierConfig{FeatsWidth: 4}); err == nil {
		t.Fatalf("expected error for missing NumClasses")
	}
}

func TestClassifierShapes(t *testing.T) {
	m, err := NewFeatsClassifier(ClassifierConfig{
		FeatsWidth:  2,
		NumClasses:  3,
		HiddenSizes: []int{8, 4},
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewFeatsClassifier failed: %v", err)
	}

	probs := m.Probs([][]float32{{0.5, -0.5}, {1, 1}})
	if len(probs) != 2 || len(probs[0]) != 3 {
		t.Fatalf("unexpected probs shape: %d x %d", len(probs), len(probs[0]))
	}
	for _, row := range probs {
		var sum float64
		for _, v := range row {
			if v < 0 || v > 1 {
				t.Fatalf("probability out of range: %v", row)
			}
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("probabilities sum to %v", sum)
		}
	}

	preds := m.Predict([][]float32{{0.5, -0.5}})
	if len(preds) != 1 || preds[0] < 0 || preds[0] >= 3 {
		t.Fatalf("unexpected prediction: %v", preds)
	}

	// hidden0 w+b, hidden1 w+b, out w+b.
	if got := len(m.Params()); got != 6 {
		t.Fatalf("expected 6 params, got %d", got)
	}
}

func TestClassifierLossDecreases(t *testing.T) {
	w := scalars.NewWriter()
	m, err := NewFeatsClassifier(ClassifierConfig{
		FeatsWidth:   2,
		NumClasses:   2,
		HiddenSizes:  []int{16},
		LearningRate: 0.5,
		Clip:         gradclip.Config{StartVal: 5, Logger: quietLogger()},
		Writer:       w,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewFeatsClassifier failed: %v", err)
	}

	batch := xorBatch()
	first, err := m.TrainStep(batch)
	if err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}

	var last TrainResult
	for i := 0; i < 200; i++ {
		if last, err = m.TrainStep(batch); err != nil {
			t.Fatalf("TrainStep %d failed: %v", i, err)
		}
	}
	t.Logf("loss: first=%.4f last=%.4f", first.Loss, last.Loss)
	if last.Loss >= first.Loss {
		t.Fatalf("loss did not decrease: first=%v last=%v", first.Loss, last.Loss)
	}

	// The trained model should separate the two clusters.
	preds := m.Predict([][]float32{{0.9, 0.1}, {0.1, 0.9}})
	if preds[0] != 0 || preds[1] != 1 {
		t.Fatalf("trained model misclassifies: %v", preds)
	}

	steps, _ := w.Series("loss")
	if len(steps) != 201 {
		t.Fatalf("writer recorded %d loss points, want 201", len(steps))
	}
	if tags := w.Tags(); len(tags) < 3 {
		t.Fatalf("expected loss and norm tags, got %v", tags)
	}
}

func TestClassifierBadBatches(t *testing.T) {
	m, err := NewFeatsClassifier(ClassifierConfig{
		FeatsWidth: 2, NumClasses: 2, Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewFeatsClassifier failed: %v", err)
	}

	if _, err := m.TrainStep(batcher.Data{}); err == nil {
		t.Fatalf("expected error for missing axes")
	}
	if _, err := m.TrainStep(batcher.Data{
		AxisFeats:  batcher.Floats{{1, 2}},
		AxisLabels: batcher.Ints{5},
	}); err == nil {
		t.Fatalf("expected error for out-of-range label")
	}
	if _, err := m.TrainStep(batcher.Data{
		AxisFeats:  batcher.Floats{{1, 2}, {3, 4}},
		AxisLabels: batcher.Ints{0},
	}); err == nil {
		t.Fatalf("expected error for length mismatch")
	}
}

func TestClassifierSaveLoad(t *testing.T) {
	cfg := ClassifierConfig{
		FeatsWidth: 2, NumClasses: 2, Logger: quietLogger(),
		Clip: gradclip.Config{Logger: quietLogger()},
	}
	m, err := NewFeatsClassifier(cfg)
	if err != nil {
		t.Fatalf("NewFeatsClassifier failed: %v", err)
	}
	if _, err := m.TrainStep(xorBatch()); err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "clf.ckpt")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg.Seed = 999 // different init, then restored from disk
	m2, err := NewFeatsClassifier(cfg)
	if err != nil {
		t.Fatalf("second NewFeatsClassifier failed: %v", err)
	}
	if err := m2.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	in := [][]float32{{0.3, 0.7}, {0.9, 0.2}}
	a := m.Probs(in)
	b := m2.Probs(in)
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("restored model differs at [%d][%d]: %v vs %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestTextEmbedder(t *testing.T) {
	e, err := NewTextEmbedder(EmbedderConfig{
		Buckets:  256,
		EmbedDim: 8,
		MaxLen:   16,
		Width:    4,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewTextEmbedder failed: %v", err)
	}
	if e.Width() != 4 {
		t.Fatalf("unexpected width: %d", e.Width())
	}

	texts := []string{"Hello, world!", "a longer piece of text with more tokens", ""}
	emb, err := e.Embed(texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(emb) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(emb))
	}
	for i, row := range emb {
		if len(row) != 4 {
			t.Fatalf("row %d has width %d, want 4", i, len(row))
		}
	}

	// Empty text embeds as zeros.
	for _, v := range emb[2] {
		if v != 0 {
			t.Fatalf("empty text row not zero: %v", emb[2])
		}
	}

	// Same config and seed give identical embeddings.
	e2, err := NewTextEmbedder(EmbedderConfig{
		Buckets: 256, EmbedDim: 8, MaxLen: 16, Width: 4, Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("second NewTextEmbedder failed: %v", err)
	}
	emb2, err := e2.Embed(texts)
	if err != nil {
		t.Fatalf("second Embed failed: %v", err)
	}
	for i := range emb {
		for j := range emb[i] {
			if emb[i][j] != emb2[i][j] {
				t.Fatalf("embeddings differ at [%d][%d]", i, j)
			}
		}
	}

	if _, err := e.Embed(nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestTextEmbedderTokens(t *testing.T) {
	e, err := NewTextEmbedder(EmbedderConfig{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewTextEmbedder failed: %v", err)
	}

	tokens := e.Tokens("Hello, World! It's fine.")
	want := []string{"hello", "world", "it", "s", "fine"}
	if len(tokens) != len(want) {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d: got %q want %q", i, tokens[i], want[i])
		}
	}
}

func TestTextClassifier(t *testing.T) {
	c, err := NewTextClassifier(EmbedderConfig{
		Buckets: 128, EmbedDim: 8, Width: 8, Logger: quietLogger(),
	}, 3)
	if err != nil {
		t.Fatalf("NewTextClassifier failed: %v", err)
	}

	probs, err := c.Probs([]string{"good movie", "terrible film"})
	if err != nil {
		t.Fatalf("Probs failed: %v", err)
	}
	if len(probs) != 2 || len(probs[0]) != 3 {
		t.Fatalf("unexpected probs shape: %d x %d", len(probs), len(probs[0]))
	}
	for _, row := range probs {
		var sum float64
		for _, v := range row {
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("probabilities sum to %v", sum)
		}
	}

	groups, err := c.ProbsBatches([][]string{{"one"}, {"two", "three"}})
	if err != nil {
		t.Fatalf("ProbsBatches failed: %v", err)
	}
	if len(groups) != 2 || len(groups[1]) != 2 {
		t.Fatalf("unexpected group shapes")
	}
}
