package columnar

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/mmap"
)

// readAtSeekCloser is what the IPC file reader consumes, plus Close.
type readAtSeekCloser interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// ArrowSource reads an Arrow IPC file through a memory map. Record
// batches are decoded only when a window touches them.
type ArrowSource struct {
	path       string
	file       readAtSeekCloser
	fileReader *ipc.FileReader
	schema     *arrow.Schema
	mem        memory.Allocator

	// offsets[b] is the first row of record batch b; offsets[len-1] is the row count
	offsets []int64
	// batches decoded for the current window, released once passed
	cache map[int]arrow.Record
	mu    sync.Mutex
}

// OpenArrow opens an Arrow IPC file.
func OpenArrow(path string) (*ArrowSource, error) {
	f, err := openReadAt(path)
	if err != nil {
		return nil, err
	}

	mem := memory.NewGoAllocator()
	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create Arrow reader").
			WithDetail("path", path)
	}

	src := &ArrowSource{
		path:       path,
		file:       f,
		fileReader: fr,
		schema:     fr.Schema(),
		mem:        mem,
		cache:      make(map[int]arrow.Record),
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to size Arrow file").
			WithDetail("path", path)
	}
	counts, err := batchRowCounts(f, size)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read record batch lengths").
			WithDetail("path", path)
	}
	if len(counts) != fr.NumRecords() {
		src.Close()
		return nil, errors.New(errors.ErrorTypeData, "record batch count mismatch").
			WithDetail("path", path).
			WithDetail("footer", len(counts)).
			WithDetail("reader", fr.NumRecords())
	}

	src.offsets = make([]int64, 1, len(counts)+1)
	for _, n := range counts {
		src.offsets = append(src.offsets, src.offsets[len(src.offsets)-1]+n)
	}

	return src, nil
}

func openReadAt(path string) (readAtSeekCloser, error) {
	if mmap.Supported() {
		r, err := mmap.Open(path, mmap.Sequential)
		if err == nil {
			return r, nil
		}
	}
	f, err := os.Open(path) //nolint:gosec // G304: caller resolves the path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to open source").
			WithDetail("path", path)
	}
	return f, nil
}

// Columns returns the column names in schema order.
func (s *ArrowSource) Columns() []string { return fieldNames(s.schema) }

// Has reports whether every field is a column.
func (s *ArrowSource) Has(fields ...string) bool { return hasAll(s.schema, fields) }

// Len returns the row count; all columns of an IPC file share it.
func (s *ArrowSource) Len(field string) (int, error) {
	if !s.schema.HasField(field) {
		return 0, missingColumn(field)
	}
	return int(s.offsets[len(s.offsets)-1]), nil
}

// NumBatches returns the number of record batches in the file.
func (s *ArrowSource) NumBatches() int { return len(s.offsets) - 1 }

// Slice returns rows [start, end) of field.
func (s *ArrowSource) Slice(ctx context.Context, field string, start, end int) (arrow.Array, error) {
	idx := s.schema.FieldIndices(field)
	if len(idx) == 0 {
		return nil, missingColumn(field)
	}
	n := int(s.offsets[len(s.offsets)-1])
	if err := checkRange(field, start, end, n); err != nil {
		return nil, err
	}
	if start == end {
		return array.MakeArrayOfNull(s.mem, s.schema.Field(idx[0]).Type, 0), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictBefore(int64(start))

	first := s.batchOf(int64(start))
	var chunks []arrow.Array
	defer func() {
		for _, c := range chunks {
			c.Release()
		}
	}()

	for b := first; b < s.NumBatches() && s.offsets[b] < int64(end); b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.batch(b)
		if err != nil {
			return nil, err
		}
		lo := max(int64(start), s.offsets[b]) - s.offsets[b]
		hi := min(int64(end), s.offsets[b+1]) - s.offsets[b]
		chunks = append(chunks, array.NewSlice(rec.Column(idx[0]), lo, hi))
	}

	if len(chunks) == 1 {
		out := chunks[0]
		out.Retain()
		return out, nil
	}
	out, err := array.Concatenate(chunks, s.mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to join record batches").
			WithDetail("field", field)
	}
	return out, nil
}

// batchOf returns the record batch containing row.
func (s *ArrowSource) batchOf(row int64) int {
	return sort.Search(s.NumBatches(), func(b int) bool { return s.offsets[b+1] > row })
}

func (s *ArrowSource) batch(b int) (arrow.Record, error) {
	if rec, ok := s.cache[b]; ok {
		return rec, nil
	}
	rec, err := s.fileReader.RecordAt(b)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read record batch").
			WithDetail("path", s.path).
			WithDetail("batch", b)
	}
	s.cache[b] = rec
	return rec, nil
}

// evictBefore drops cached batches that end at or before row.
func (s *ArrowSource) evictBefore(row int64) {
	for b, rec := range s.cache {
		if s.offsets[b+1] <= row {
			rec.Release()
			delete(s.cache, b)
		}
	}
}

// Close releases cached batches and the file.
func (s *ArrowSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for b, rec := range s.cache {
		rec.Release()
		delete(s.cache, b)
	}

	var err error
	if s.fileReader != nil {
		err = s.fileReader.Close()
		s.fileReader = nil
	}
	if s.file != nil {
		if closeErr := s.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.file = nil
	}
	return err
}
