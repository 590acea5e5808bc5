// Package mmap provides memory-mapped, random-access reading of large
// read-only files. Pages are faulted in on demand, so a dataset many times
// larger than RAM can be sliced without loading it.
package mmap

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// Supported reports whether this platform can map files.
func Supported() bool { return supported }

// Access hints how the mapping will be read.
type Access int

const (
	// Sequential favours read-ahead; the default.
	Sequential Access = iota
	// Random disables read-ahead for scattered reads.
	Random
)

// Reader is a read-only memory-mapped file. It implements io.Reader,
// io.ReaderAt and io.Seeker, which is what columnar file readers need.
type Reader struct {
	file     *os.File
	data     []byte
	section  *bytes.Reader
	fileSize int64
	pageSize int

	// Stats
	bytesRead int64
	pagesRead int64

	mu sync.RWMutex
}

// Open maps filename read-only.
func Open(filename string, access Access) (*Reader, error) {
	file, err := os.Open(filename) //nolint:gosec // G304: caller resolves the path
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	fileSize := stat.Size()
	if fileSize == 0 {
		file.Close()
		return nil, fmt.Errorf("file is empty")
	}

	data, err := mmap(int(file.Fd()), 0, int(fileSize), protRead, mapShared)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}

	advice := madvSequential
	if access == Random {
		advice = madvRandom
	}
	// advisory only
	_ = madvise(data, advice)

	return &Reader{
		file:     file,
		data:     data,
		section:  bytes.NewReader(data),
		fileSize: fileSize,
		pageSize: os.Getpagesize(),
	}, nil
}

// Size returns the length of the mapped file.
func (r *Reader) Size() int64 { return r.fileSize }

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.section == nil {
		return 0, os.ErrClosed
	}
	n, err := r.section.Read(p)
	r.account(int64(n))
	return n, err
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.section == nil {
		return 0, os.ErrClosed
	}
	n, err := r.section.ReadAt(p, off)
	r.account(int64(n))
	return n, err
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.section == nil {
		return 0, os.ErrClosed
	}
	return r.section.Seek(offset, whence)
}

// ReadRange returns the mapped bytes of [offset, offset+length) without
// copying. The slice is invalid after Close.
func (r *Reader) ReadRange(offset, length int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil, os.ErrClosed
	}
	if offset < 0 || offset >= r.fileSize {
		return nil, fmt.Errorf("offset %d out of range [0, %d)", offset, r.fileSize)
	}

	end := offset + length
	if end > r.fileSize {
		end = r.fileSize
	}

	r.prefetchRange(offset, end)
	r.account(end - offset)

	return r.data[offset:end], nil
}

func (r *Reader) account(n int64) {
	r.bytesRead += n
	r.pagesRead += (n + int64(r.pageSize) - 1) / int64(r.pageSize)
}

// prefetchRange advises kernel to prefetch a range of pages
func (r *Reader) prefetchRange(start, end int64) {
	startPage := (start / int64(r.pageSize)) * int64(r.pageSize)
	endPage := ((end + int64(r.pageSize) - 1) / int64(r.pageSize)) * int64(r.pageSize)

	if endPage > r.fileSize {
		endPage = r.fileSize
	}

	if endPage-startPage <= 0 {
		return
	}

	_ = madvise(r.data[startPage:endPage], madvWillneed)
}

// Close unmaps the file and closes it
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error

	if r.data != nil {
		err = munmap(r.data)
		r.data = nil
		r.section = nil
	}

	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}

	return err
}

// Stats returns reading statistics
func (r *Reader) Stats() (bytesRead, pagesRead int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bytesRead, r.pagesRead
}

var (
	_ io.ReaderAt   = (*Reader)(nil)
	_ io.ReadSeeker = (*Reader)(nil)
)
