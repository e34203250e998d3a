package main

// Example command that streams CSV files through a files batcher and
// converts a batch into gomlx tensors.
//
// Usage:
//   go run ./example -pattern 'data/*.csv'
//
// Each CSV is expected to carry feature columns "x", "y" and an integer
// "label" column. If no file matches the pattern the example prints an
// error and exits.

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/nnkit/batcher"
	"github.com/Noofbiz/nnkit/datasets"
)

func main() {
	pattern := flag.String("pattern", "data/*.csv", "glob pattern of CSV chunk files")
	batchSize := flag.Int("batch", 8, "training batch size")
	pulls := flag.Int("pulls", 4, "number of batches to pull")
	flag.Parse()

	paths, err := datasets.Glob(*pattern)
	if err != nil {
		log.Fatalf("failed to find CSV files: %v", err)
	}
	fmt.Printf("Streaming %d CSV files matching %s\n", len(paths), *pattern)

	build := datasets.ChunkBuilderCSV(
		map[string][]string{"feats": {"x", "y"}},
		map[string]string{"labels": "label"},
	)

	fb, err := batcher.NewFiles(paths, build, batcher.Config{BatchSize: *batchSize})
	if err != nil {
		log.Fatalf("failed to start files batcher: %v", err)
	}
	defer fb.Close()

	for i := 0; i < *pulls; i++ {
		batch, err := fb.GetBatch()
		if err != nil {
			log.Fatalf("failed to pull batch %d: %v", i, err)
		}

		ts := batcher.ToTensors(batch)
		fmt.Printf("Batch %d: %d samples, tensors:", i, batch["feats"].Len())
		for name, tensor := range ts {
			fmt.Printf(" %s=%T", name, tensor)
		}
		fmt.Println()
	}

	fmt.Println("Done. Chunks were loaded lazily on a background goroutine.")
}
