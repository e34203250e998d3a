// Package datasets turns CSV files on disk into batcher chunks. Each CSV
// file becomes one chunk; streaming a directory of files through a
// batcher.FilesBatcher gives training over datasets that do not fit in
// memory.
package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Noofbiz/nnkit/batcher"
)

// ChunkBuilderCSV returns a batcher.ChunkBuilder that reads one CSV file
// per call. floatAxes maps an output axis name to the CSV columns that form
// each sample row (in order). intAxes maps an output axis name to a single
// CSV column parsed as an integer, typically a class label.
//
// Column names are matched case-insensitively against the file header. A
// missing column is an error, as is a row that fails to parse.
func ChunkBuilderCSV(floatAxes map[string][]string, intAxes map[string]string) batcher.ChunkBuilder {
	return func(path string) (batcher.Data, error) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open CSV %s: %w", path, err)
		}
		defer file.Close()

		reader := csv.NewReader(file)
		header, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
		}

		colIndex := make(map[string]int, len(header))
		for i, col := range header {
			colIndex[strings.TrimSpace(strings.ToLower(col))] = i
		}
		for axis, cols := range floatAxes {
			for _, col := range cols {
				if _, ok := colIndex[strings.ToLower(col)]; !ok {
					return nil, fmt.Errorf("column %q for axis %q not found in %s", col, axis, path)
				}
			}
		}
		for axis, col := range intAxes {
			if _, ok := colIndex[strings.ToLower(col)]; !ok {
				return nil, fmt.Errorf("column %q for axis %q not found in %s", col, axis, path)
			}
		}

		floats := make(map[string][][]float32, len(floatAxes))
		ints := make(map[string][]int64, len(intAxes))

		rowIdx := 0
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read row %d of %s: %w", rowIdx, path, err)
			}

			for axis, cols := range floatAxes {
				row := make([]float32, len(cols))
				for i, col := range cols {
					val, err := parseFloat32(record[colIndex[strings.ToLower(col)]])
					if err != nil {
						return nil, fmt.Errorf("failed to parse %s at row %d of %s: %w", col, rowIdx, path, err)
					}
					row[i] = val
				}
				floats[axis] = append(floats[axis], row)
			}
			for axis, col := range intAxes {
				val, err := parseInt64(record[colIndex[strings.ToLower(col)]])
				if err != nil {
					return nil, fmt.Errorf("failed to parse %s at row %d of %s: %w", col, rowIdx, path, err)
				}
				ints[axis] = append(ints[axis], val)
			}

			rowIdx++
		}

		data := make(batcher.Data, len(floats)+len(ints))
		for axis, rows := range floats {
			data[axis] = batcher.Floats(rows)
		}
		for axis, vals := range ints {
			data[axis] = batcher.Ints(vals)
		}
		return data, nil
	}
}

// Glob expands a file pattern, failing when nothing matches. Use it to build
// the file list for batcher.NewFiles.
func Glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files found matching pattern: %s", pattern)
	}
	return paths, nil
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

func parseInt64(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	return strconv.ParseInt(s, 10, 64)
}
