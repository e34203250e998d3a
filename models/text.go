package models

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/nnkit/layers"
)

// EmbedderConfig configures TextEmbedder. Zero values select defaults.
type EmbedderConfig struct {
	// Buckets of the hashed embedding table. Default 4096.
	Buckets int

	// EmbedDim of token vectors. Default 64.
	EmbedDim int

	// MaxLen truncates token sequences. Default 64.
	MaxLen int

	// Kernel size of the convolution over the token sequence. Default 3.
	Kernel int

	// Width of the output embedding. Default EmbedDim.
	Width int

	// DropoutRate applied after positional encoding during training.
	DropoutRate float64

	// Seed for weight init. Default 123.
	Seed int64

	// Logger used for progress output.
	Logger *logrus.Logger
}

// TextEmbedder maps texts to fixed-width embeddings: hashed token lookup,
// positional encoding, a same-padding convolution with a residual bypass,
// mean pooling over time and a final projection.
type TextEmbedder struct {
	cfg   EmbedderConfig
	rng   *rand.Rand
	table *layers.Param
	pos   *layers.PositionalEncoding
	conv  *layers.Conv1D
	res   *layers.Residual
	proj  *layers.Dense
}

// NewTextEmbedder builds the embedder.
func NewTextEmbedder(cfg EmbedderConfig) (*TextEmbedder, error) {
	if cfg.Buckets == 0 {
		cfg.Buckets = 4096
	}
	if cfg.EmbedDim == 0 {
		cfg.EmbedDim = 64
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 64
	}
	if cfg.Kernel == 0 {
		cfg.Kernel = 3
	}
	if cfg.Width == 0 {
		cfg.Width = cfg.EmbedDim
	}
	if cfg.Seed == 0 {
		cfg.Seed = 123
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	e := &TextEmbedder{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	e.table = layers.NewParam("embed.table", cfg.Buckets, cfg.EmbedDim)
	layers.DefaultInit(e.rng, e.table.Data)
	e.pos = layers.NewPositionalEncoding(cfg.EmbedDim, cfg.MaxLen, cfg.DropoutRate, e.rng)
	// Filters match EmbedDim so the residual bypass lines up.
	e.conv = layers.NewConv1D("embed.conv", cfg.EmbedDim, cfg.EmbedDim, cfg.Kernel, layers.ReLU, nil, e.rng)
	e.res = layers.NewResidual(0, e.rng)
	e.proj = layers.NewDense("embed.proj", cfg.EmbedDim, cfg.Width, nil, nil, e.rng)

	return e, nil
}

// Width returns the output embedding width.
func (e *TextEmbedder) Width() int { return e.cfg.Width }

// Params returns the embedder parameters.
func (e *TextEmbedder) Params() []*layers.Param {
	params := []*layers.Param{e.table}
	params = append(params, e.conv.Params()...)
	return append(params, e.proj.Params()...)
}

// Tokens splits a text into lowercase tokens on whitespace and punctuation.
func (e *TextEmbedder) Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// bucket hashes a token into the embedding table.
func (e *TextEmbedder) bucket(token string) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(e.cfg.Buckets))
}

// Embed returns one embedding row per input text. Texts with no tokens
// produce a zero row.
func (e *TextEmbedder) Embed(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("models: no texts given")
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		tokens := e.Tokens(text)
		if len(tokens) > e.cfg.MaxLen {
			tokens = tokens[:e.cfg.MaxLen]
		}
		if len(tokens) == 0 {
			out[i] = make([]float32, e.cfg.Width)
			continue
		}

		seq := make([][]float32, len(tokens))
		for t, token := range tokens {
			b := e.bucket(token)
			seq[t] = e.table.Data[b*e.cfg.EmbedDim : (b+1)*e.cfg.EmbedDim]
		}

		enc := e.pos.Forward([][][]float32{seq})
		conv := e.conv.Forward(enc)
		mixed := e.res.Forward(conv[0], enc[0])

		// Mean pool over time.
		pooled := make([]float32, e.cfg.EmbedDim)
		for _, row := range mixed {
			for j, v := range row {
				pooled[j] += v
			}
		}
		inv := float32(1) / float32(len(mixed))
		for j := range pooled {
			pooled[j] *= inv
		}

		out[i] = e.proj.Forward([][]float32{pooled})[0]
	}
	return out, nil
}

// TextClassifier is a TextEmbedder with a dense classification head.
type TextClassifier struct {
	Embedder *TextEmbedder
	head     *layers.Dense

	numClasses int
}

// NewTextClassifier builds a classifier with the given number of classes
// (default 2) on top of a fresh embedder.
func NewTextClassifier(cfg EmbedderConfig, numClasses int) (*TextClassifier, error) {
	if numClasses == 0 {
		numClasses = 2
	}
	emb, err := NewTextEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	head := layers.NewDense("head", emb.Width(), numClasses, nil, nil, emb.rng)
	return &TextClassifier{Embedder: emb, head: head, numClasses: numClasses}, nil
}

// Params returns embedder and head parameters.
func (c *TextClassifier) Params() []*layers.Param {
	return append(c.Embedder.Params(), c.head.Params()...)
}

// Probs returns class probabilities per text.
func (c *TextClassifier) Probs(texts []string) ([][]float32, error) {
	emb, err := c.Embedder.Embed(texts)
	if err != nil {
		return nil, err
	}
	logits := c.head.Forward(emb)
	out := make([][]float32, len(logits))
	for i, row := range logits {
		out[i] = softmax(row)
	}
	return out, nil
}

// ProbsBatches classifies several groups of texts, preserving the grouping.
func (c *TextClassifier) ProbsBatches(groups [][]string) ([][][]float32, error) {
	out := make([][][]float32, len(groups))
	for i, texts := range groups {
		probs, err := c.Probs(texts)
		if err != nil {
			return nil, err
		}
		out[i] = probs
	}
	return out, nil
}
