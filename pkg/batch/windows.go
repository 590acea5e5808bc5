// Package batch partitions a record count into contiguous index windows.
package batch

import (
	"iter"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Count returns the number of windows covering n records, ceil(n/size).
func Count(n, size int) (int, error) {
	if err := check(n, size); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return (n-1)/size + 1, nil
}

// Windows yields the half-open ranges [start, end) that partition [0, n)
// in ascending order. Every window holds size indices except possibly the
// last. A non-positive size is rejected instead of yielding nothing.
func Windows(n, size int) (iter.Seq2[int, int], error) {
	count, err := Count(n, size)
	if err != nil {
		return nil, err
	}
	return func(yield func(start, end int) bool) {
		for i := 0; i < count; i++ {
			start := i * size
			end := min(start+size, n)
			if !yield(start, end) {
				return
			}
		}
	}, nil
}

func check(n, size int) error {
	if size <= 0 {
		return errors.Newf(errors.ErrorTypeValidation, "batch size must be positive, got %d", size)
	}
	if n < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "record count must not be negative, got %d", n)
	}
	return nil
}
