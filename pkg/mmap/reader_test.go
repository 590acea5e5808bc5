package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestReaderRandomAccess(t *testing.T) {
	if !Supported() {
		t.Skip("mmap not supported")
	}
	content := []byte("0123456789abcdefghij")
	r, err := Open(writeTemp(t, content), Random)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(len(content)), r.Size())

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf))

	pos, err := r.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(17), pos)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hij", string(rest))

	rng, err := r.ReadRange(2, 100)
	require.NoError(t, err)
	assert.Equal(t, content[2:], rng)

	_, err = r.ReadRange(int64(len(content)), 1)
	assert.Error(t, err)

	bytesRead, pagesRead := r.Stats()
	assert.Greater(t, bytesRead, int64(0))
	assert.Greater(t, pagesRead, int64(0))
}

func TestOpenRejectsEmptyAndMissing(t *testing.T) {
	_, err := Open(writeTemp(t, nil), Sequential)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing"), Sequential)
	assert.Error(t, err)
}

func TestReadAfterClose(t *testing.T) {
	if !Supported() {
		t.Skip("mmap not supported")
	}
	r, err := Open(writeTemp(t, []byte("abc")), Sequential)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, os.ErrClosed)
}
