package batcher

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChunkBuilder turns one file into a chunk of training data.
type ChunkBuilder func(path string) (Data, error)

type chunkResult struct {
	data Data
	path string
	err  error
}

// FilesBatcher streams training chunks from a list of files, cycling through
// the list indefinitely. Loading happens on a background goroutine so file
// I/O overlaps with batch consumption; the handoff is a bounded queue of
// Config.Prefetch chunks. A builder error propagates through GetBatch (or
// New) and stops chunk delivery. Close must be called to join the loader.
type FilesBatcher struct {
	*Batcher

	results chan chunkResult
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
}

// NewFiles builds a FilesBatcher with a single background loader goroutine.
func NewFiles(files []string, build ChunkBuilder, cfg Config) (*FilesBatcher, error) {
	return newFiles(files, build, 1, cfg)
}

// NewFilesPool is the multi-worker variant: a fixed-size pool of loader
// goroutines builds chunks in parallel. Chunk order follows completion
// order, not file order. Useful when building a single chunk takes longer
// than consuming it.
func NewFilesPool(files []string, build ChunkBuilder, workers int, cfg Config) (*FilesBatcher, error) {
	if workers < 1 {
		workers = 1
	}
	return newFiles(files, build, workers, cfg)
}

func newFiles(files []string, build ChunkBuilder, workers int, cfg Config) (*FilesBatcher, error) {
	cfg.fillDefaults()
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: empty file list", ErrConfig)
	}

	fb := &FilesBatcher{
		results: make(chan chunkResult, cfg.Prefetch),
		stop:    make(chan struct{}),
	}

	files = append([]string(nil), files...)
	cfg.Logger.WithFields(logrus.Fields{
		"files":   len(files),
		"workers": workers,
	}).Info("files batcher starting loader")

	if workers == 1 {
		fb.wg.Add(1)
		go fb.loaderLoop(files, build, cfg)
	} else {
		tasks := make(chan string)
		fb.wg.Add(1)
		go fb.dispatchLoop(files, tasks)
		for i := 0; i < workers; i++ {
			fb.wg.Add(1)
			go fb.workerLoop(tasks, build, cfg)
		}
	}

	b, err := New(fb.nextChunk, cfg)
	if err != nil {
		fb.Close()
		return nil, err
	}
	fb.Batcher = b
	return fb, nil
}

// loaderLoop cycles through the file list, building one chunk ahead of the
// consumer (plus whatever the prefetch queue holds).
func (fb *FilesBatcher) loaderLoop(files []string, build ChunkBuilder, cfg Config) {
	defer fb.wg.Done()
	for i := 0; ; i++ {
		path := files[i%len(files)]
		data, err := build(path)
		select {
		case fb.results <- chunkResult{data: data, path: path, err: err}:
			if err != nil {
				return
			}
			cfg.Logger.WithField("file", path).Debug("loader built chunk")
		case <-fb.stop:
			return
		}
	}
}

// dispatchLoop feeds the rotating file list to the worker pool.
func (fb *FilesBatcher) dispatchLoop(files []string, tasks chan<- string) {
	defer fb.wg.Done()
	defer close(tasks)
	for i := 0; ; i++ {
		select {
		case tasks <- files[i%len(files)]:
		case <-fb.stop:
			return
		}
	}
}

func (fb *FilesBatcher) workerLoop(tasks <-chan string, build ChunkBuilder, cfg Config) {
	defer fb.wg.Done()
	for path := range tasks {
		data, err := build(path)
		select {
		case fb.results <- chunkResult{data: data, path: path, err: err}:
			if err != nil {
				return
			}
			cfg.Logger.WithField("file", path).Debug("worker built chunk")
		case <-fb.stop:
			return
		}
	}
}

// nextChunk blocks until the background loader hands over the next chunk.
func (fb *FilesBatcher) nextChunk() (Data, error) {
	select {
	case res := <-fb.results:
		if res.err != nil {
			return nil, fmt.Errorf("building chunk from %s: %w", res.path, res.err)
		}
		return res.data, nil
	case <-fb.stop:
		return nil, fmt.Errorf("%w: batcher is closed", ErrConfig)
	}
}

// Close signals the background loader(s) to stop and waits for them to exit.
// It is safe to call Close more than once.
func (fb *FilesBatcher) Close() {
	fb.closed.Do(func() { close(fb.stop) })
	fb.wg.Wait()
}
