// Package batcher turns in-memory or file-backed datasets into a
// deterministic, seed-reproducible stream of mini-batches.
//
// The core type is Batcher: it pulls chunks of training data from a
// ChunkLoader, keeps a working index map over the current chunk and serves
// batches from it. When the index map runs out, the next chunk is loaded and
// any unconsumed leftover indices are carried over, so no sample is dropped
// at chunk boundaries (as long as the Array type supports concatenation).
//
// Reproducibility contract: the RNG is re-seeded from a monotonically
// incremented counter before every GetBatch call, which makes the exact
// sequence of batches a pure function of the initial seed and the number of
// pulls. Two Batchers with the same data, configuration and seed produce
// identical batch sequences.
//
// Held-out (test/validation) sets are fixed at construction time, partitioned
// into batches once per batch size and cached thereafter.
package batcher

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
)

// Sampling selects how sample indices are drawn from each chunk.
type Sampling string

const (
	// SamplingBase serves samples in the order the chunk provides them.
	SamplingBase Sampling = "base"

	// SamplingRandom draws a batch-sized set of indices without replacement
	// from each chunk, reloading the chunk for every batch.
	SamplingRandom Sampling = "random"

	// SamplingRandomCov shuffles the whole chunk, guaranteeing every sample
	// appears exactly once per pass before any repeats. This is the default.
	SamplingRandomCov Sampling = "random_cov"
)

// DefaultTestName is the name under which an unnamed held-out set is stored.
const DefaultTestName = "__TS__"

// ErrConfig is wrapped by every misconfiguration error the package returns:
// unknown sampling type, missing or unknown held-out set name, empty file
// list, conflicting split requests.
var ErrConfig = errors.New("batcher: misconfiguration")

// ChunkLoader supplies the next block of training data. It may return the
// same data every time (in-memory datasets) or stream distinct chunks from
// files. A chunk is not necessarily a full epoch.
type ChunkLoader func() (Data, error)

// Config holds the tunables shared by all batcher constructors. Zero values
// select the defaults documented per field.
type Config struct {
	// BatchSize of training batches. Default 16.
	BatchSize int

	// TSMul multiplies BatchSize for held-out batches. Default 2.
	TSMul int

	// Sampling policy for training batches. Default SamplingRandomCov.
	Sampling Sampling

	// Seed for the reproducible batch stream. Default 123.
	Seed int64

	// SplitFactor, when > 0, moves that fraction of the training data into
	// the default held-out set. Only honored by NewData; it cannot be
	// combined with TestData or NamedTestData.
	SplitFactor float64

	// TestData is an unnamed held-out set, stored under DefaultTestName.
	TestData Data

	// NamedTestData holds one or more named held-out sets. Mutually
	// exclusive with TestData.
	NamedTestData map[string]Data

	// Prefetch bounds the background chunk queue of the file-backed
	// batchers. Default 1.
	Prefetch int

	// Logger used for progress and warnings. A default logger is created
	// when nil.
	Logger *logrus.Logger
}

func (c *Config) fillDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.TSMul == 0 {
		c.TSMul = 2
	}
	if c.Sampling == "" {
		c.Sampling = SamplingRandomCov
	}
	if c.Seed == 0 {
		c.Seed = 123
	}
	if c.Prefetch == 0 {
		c.Prefetch = 1
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Batcher composes a ChunkLoader with a sampling policy into a pull-based
// batch stream. Batcher is not safe for concurrent use; the file-backed
// variants overlap chunk loading with consumption internally.
type Batcher struct {
	cfg  Config
	log  *logrus.Logger
	load ChunkLoader

	seedCounter int64
	rng         *rand.Rand

	keys     []string
	train    Data
	trainLen int

	ixmap []int
	ixptr int

	test      map[string]Data
	testLen   int
	tsNamed   bool
	tsBatches map[string][]Data
}

// New builds a Batcher over the given chunk loader. The first chunk is
// loaded here, so loader failures surface from New.
func New(load ChunkLoader, cfg Config) (*Batcher, error) {
	cfg.fillDefaults()

	switch cfg.Sampling {
	case SamplingBase, SamplingRandom, SamplingRandomCov:
	default:
		return nil, fmt.Errorf("%w: unknown sampling type %q", ErrConfig, cfg.Sampling)
	}
	if cfg.TestData != nil && cfg.NamedTestData != nil {
		return nil, fmt.Errorf("%w: both TestData and NamedTestData given", ErrConfig)
	}

	b := &Batcher{
		cfg:         cfg,
		log:         cfg.Logger,
		load:        load,
		seedCounter: cfg.Seed,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		tsBatches:   make(map[string][]Data),
	}

	if err := b.nextChunk(); err != nil {
		return nil, err
	}

	if cfg.NamedTestData != nil {
		b.test = cfg.NamedTestData
		b.tsNamed = true
	} else if cfg.TestData != nil {
		b.test = map[string]Data{DefaultTestName: cfg.TestData}
	}
	for name, data := range b.test {
		for _, k := range b.keys {
			if _, ok := data[k]; !ok {
				return nil, fmt.Errorf("%w: held-out set %q missing axis %q", ErrConfig, name, k)
			}
		}
		b.testLen += data[b.keys[0]].Len()
	}

	b.log.WithFields(logrus.Fields{
		"batch_size": cfg.BatchSize,
		"sampling":   cfg.Sampling,
		"train_len":  b.trainLen,
		"test_len":   b.testLen,
	}).Info("batcher initialized")

	return b, nil
}

// nextChunk loads the next chunk, generates a fresh index map for it and
// carries over any unconsumed leftover indices from the previous one.
func (b *Batcher) nextChunk() error {
	chunk, err := b.load()
	if err != nil {
		return err
	}
	if len(chunk) == 0 {
		return fmt.Errorf("%w: chunk has no axes", ErrConfig)
	}

	// Axis names are fixed by the first chunk.
	if b.keys == nil {
		for k := range chunk {
			b.keys = append(b.keys, k)
		}
		sort.Strings(b.keys)
	}

	chunkLen := -1
	for _, k := range b.keys {
		arr, ok := chunk[k]
		if !ok {
			return fmt.Errorf("chunk is missing axis %q", k)
		}
		if chunkLen == -1 {
			chunkLen = arr.Len()
		} else if arr.Len() != chunkLen {
			return fmt.Errorf("axis %q has %d samples, want %d", k, arr.Len(), chunkLen)
		}
	}

	var ixNew []int
	switch b.cfg.Sampling {
	case SamplingBase:
		ixNew = make([]int, chunkLen)
		for i := range ixNew {
			ixNew[i] = i
		}
	case SamplingRandom:
		n := b.cfg.BatchSize
		if n > chunkLen {
			n = chunkLen
		}
		ixNew = b.rng.Perm(chunkLen)[:n]
	case SamplingRandomCov:
		ixNew = b.rng.Perm(chunkLen)
	}

	left := b.ixmap[b.ixptr:]
	if len(left) > 0 {
		carried, cerr := b.carryLeftovers(chunk, left)
		if cerr != nil {
			return cerr
		}
		if carried {
			shifted := make([]int, 0, len(left)+len(ixNew))
			for i := range left {
				shifted = append(shifted, i)
			}
			for _, ix := range ixNew {
				shifted = append(shifted, ix+len(left))
			}
			ixNew = shifted
		} else {
			b.log.Warnf("batcher: dropping %d leftover samples, arrays do not support concatenation", len(left))
		}
	}

	b.ixmap = ixNew
	b.ixptr = 0
	b.train = chunk
	b.trainLen = chunk[b.keys[0]].Len()
	return nil
}

// carryLeftovers prepends the samples at the leftover indices to the chunk,
// in place. It reports false when any axis lacks concat support.
func (b *Batcher) carryLeftovers(chunk Data, left []int) (bool, error) {
	for _, k := range b.keys {
		if _, ok := chunk[k].(Concatenator); !ok {
			return false, nil
		}
	}
	for _, k := range b.keys {
		leftArr := b.train[k].Take(left)
		joined, err := leftArr.(Concatenator).Concat(chunk[k])
		if err != nil {
			return false, fmt.Errorf("carrying leftover samples for axis %q: %w", k, err)
		}
		chunk[k] = joined
	}
	return true, nil
}

// GetBatch returns the next training batch as a mapping of axis name to a
// batch-sized array. The batch content is deterministic under a fixed seed.
func (b *Batcher) GetBatch() (Data, error) {
	b.rng = rand.New(rand.NewSource(b.seedCounter))
	b.seedCounter++

	if b.ixptr+b.cfg.BatchSize > len(b.ixmap) {
		if err := b.nextChunk(); err != nil {
			return nil, err
		}
	}

	end := b.ixptr + b.cfg.BatchSize
	if end > len(b.ixmap) {
		end = len(b.ixmap)
	}
	indices := b.ixmap[b.ixptr:end]
	b.ixptr = end

	batch := make(Data, len(b.keys))
	for _, k := range b.keys {
		batch[k] = b.train[k].Take(indices)
	}
	return batch, nil
}

// TestBatches returns the full fixed partition of the named held-out set,
// split into batches of BatchSize*TSMul. The partition is computed once per
// batch size and cached. Pass name=="" for the unnamed held-out set.
func (b *Batcher) TestBatches(name string) ([]Data, error) {
	if b.test == nil {
		return nil, fmt.Errorf("%w: no held-out data given", ErrConfig)
	}
	if name == "" {
		if b.tsNamed {
			return nil, fmt.Errorf("%w: held-out set name must be given", ErrConfig)
		}
		name = DefaultTestName
	}
	data, ok := b.test[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown held-out set %q", ErrConfig, name)
	}

	if cached, ok := b.tsBatches[name]; ok {
		return cached, nil
	}
	batches := SplitIntoBatches(data, b.cfg.BatchSize*b.cfg.TSMul)
	b.tsBatches[name] = batches
	return batches, nil
}

// SetBatchSize changes the training batch size and invalidates the cached
// held-out partitions.
func (b *Batcher) SetBatchSize(bs int) {
	b.cfg.BatchSize = bs
	b.tsBatches = make(map[string][]Data)
}

// DataSizes returns the current training chunk length and the total held-out
// length.
func (b *Batcher) DataSizes() (train, test int) {
	return b.trainLen, b.testLen
}

// Keys returns the sorted axis names, fixed by the first chunk.
func (b *Batcher) Keys() []string { return b.keys }

// TestNames returns the held-out set names, or nil when only the unnamed
// default set exists.
func (b *Batcher) TestNames() []string {
	if b.test == nil || !b.tsNamed {
		return nil
	}
	names := make([]string, 0, len(b.test))
	for name := range b.test {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SplitIntoBatches splits data into consecutive batches of the given size.
// The last batch may be shorter.
func SplitIntoBatches(data Data, size int) []Data {
	var n int
	for _, arr := range data {
		n = arr.Len()
		break
	}
	var out []Data
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		batch := make(Data, len(data))
		for k, arr := range data {
			batch[k] = arr.Slice(start, end)
		}
		out = append(out, batch)
	}
	return out
}

// Split partitions data into two sets with a seeded permutation; the second
// set receives the given fraction of samples. Both training/held-out splits
// and cross-validation folds are built from this.
func Split(data Data, factor float64, seed int64) (Data, Data) {
	rng := rand.New(rand.NewSource(seed))

	var n int
	for _, arr := range data {
		n = arr.Len()
		break
	}
	perm := rng.Perm(n)

	lenB := int(float64(n) * factor)
	lenA := n - lenB

	a := make(Data, len(data))
	b := make(Data, len(data))
	for k, arr := range data {
		a[k] = arr.Take(perm[:lenA])
		b[k] = arr.Take(perm[lenA:])
	}
	return a, b
}

// NewData builds a Batcher over a fixed in-memory dataset; the same data is
// reused as every chunk. With Config.SplitFactor > 0 a held-out set is carved
// out of the training data first.
func NewData(train Data, cfg Config) (*Batcher, error) {
	if cfg.SplitFactor > 0 {
		if cfg.TestData != nil || cfg.NamedTestData != nil {
			return nil, fmt.Errorf("%w: cannot split, held-out data already given", ErrConfig)
		}
		seed := cfg.Seed
		if seed == 0 {
			seed = 123
		}
		var test Data
		train, test = Split(train, cfg.SplitFactor, seed)
		cfg.TestData = test
	}
	// A fresh map per chunk: carry-over mutates the chunk in place and must
	// not grow the caller's data.
	return New(func() (Data, error) {
		chunk := make(Data, len(train))
		for k, arr := range train {
			chunk[k] = arr
		}
		return chunk, nil
	}, cfg)
}
