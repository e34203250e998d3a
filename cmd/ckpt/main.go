package main

// ckpt inspects and merges checkpoint files.
//
// Inspect one checkpoint, or compare two:
//   ckpt -info -a model.ckpt
//   ckpt -info -a model.ckpt -b other.ckpt
//
// Merge two checkpoints (out = ratio*A + (1-ratio)*B), optionally adding
// truncated-normal noise scaled per tensor:
//   ckpt -merge -a model.ckpt -b other.ckpt -out merged.ckpt -ratio 0.5
//   ckpt -merge -a model.ckpt -out jittered.ckpt -noise 0.1

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Noofbiz/nnkit/checkpoints"
)

func main() {
	info := flag.Bool("info", false, "print tensor listing of checkpoint A, comparing against B when given")
	merge := flag.Bool("merge", false, "merge checkpoints A and B into -out")
	pathA := flag.String("a", "", "path to checkpoint A")
	pathB := flag.String("b", "", "path to checkpoint B (optional)")
	pathOut := flag.String("out", "", "output path for -merge")
	ratio := flag.Float64("ratio", 0.5, "merge ratio: out = ratio*A + (1-ratio)*B")
	noise := flag.Float64("noise", 0, "noise scale added to merged float tensors (fraction of tensor stddev)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed for noise")
	flag.Parse()

	if *pathA == "" {
		fmt.Fprintln(os.Stderr, "checkpoint A is required (-a)")
		flag.Usage()
		os.Exit(2)
	}

	switch {
	case *info:
		report, err := checkpoints.Info(*pathA, *pathB)
		if err != nil {
			log.Fatalf("info failed: %v", err)
		}
		fmt.Print(report)

	case *merge:
		if *pathOut == "" {
			log.Fatalf("merge needs an output path (-out)")
		}
		if err := checkpoints.Merge(*pathA, *pathB, *pathOut, *ratio, *noise, *seed); err != nil {
			log.Fatalf("merge failed: %v", err)
		}
		fmt.Printf("merged %s", *pathA)
		if *pathB != "" {
			fmt.Printf(" and %s (ratio %.2f)", *pathB, *ratio)
		}
		if *noise > 0 {
			fmt.Printf(" with noise %.3f", *noise)
		}
		fmt.Printf(" -> %s\n", *pathOut)

	default:
		fmt.Fprintln(os.Stderr, "one of -info or -merge is required")
		flag.Usage()
		os.Exit(2)
	}
}
