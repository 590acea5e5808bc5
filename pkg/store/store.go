// Package store persists converted records in a directory-based,
// append-only key-value store.
//
// A store directory holds a single bolt database file. Records live under
// the ASCII decimal form of their index; the reserved key num_examples
// holds the record count declared when the store was created.
package store

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

const (
	// DataFile is the database file inside a store directory.
	DataFile = "data.mdb"
	// CountKey is the reserved key holding the number of examples.
	CountKey = "num_examples"
	// DefaultMaxSize is the default size bound, 1e12 bytes.
	DefaultMaxSize int64 = 1_000_000_000_000
)

var bucketName = []byte("records")

// Options configures a store.
type Options struct {
	// MaxSize bounds the database file; a write that would grow it past
	// the bound fails. Zero means DefaultMaxSize.
	MaxSize int64
	// NoSync skips fsync per commit. The store is synced on Close.
	NoSync bool
	// Timeout waits for the file lock held by another process.
	Timeout time.Duration
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Store is an open store. It is not safe for concurrent writers.
type Store struct {
	path     string
	db       *bolt.DB
	codec    *Codec
	opts     Options
	readOnly bool
	written  int
}

// Key returns the store key of record index i.
func Key(i int) []byte { return []byte(strconv.Itoa(i)) }

// Create destroys any store at path, creates an empty one and records
// count under CountKey in its own committed transaction.
func Create(path string, count int, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	if count < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "negative example count %d", count)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to remove existing store").
			WithDetail("path", path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create store directory").
			WithDetail("path", path)
	}

	codec, err := NewCodec()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build codec")
	}

	db, err := bolt.Open(filepath.Join(path, DataFile), 0o644, &bolt.Options{
		Timeout: opts.Timeout,
		NoSync:  opts.NoSync,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to open store").
			WithDetail("path", path)
	}

	s := &Store{path: path, db: db, codec: codec, opts: opts}

	value, err := codec.EncodeCount(count)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.update([]byte(CountKey), value); err != nil {
		db.Close()
		return nil, err
	}

	opts.Logger.Debug("store created",
		zap.String("path", path),
		zap.Int("num_examples", count))

	return s, nil
}

// Open opens an existing store read-only.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	file := filepath.Join(path, DataFile)
	if _, err := os.Stat(file); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "store not found").
			WithDetail("path", path)
	}

	codec, err := NewCodec()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build codec")
	}

	db, err := bolt.Open(file, 0o444, &bolt.Options{Timeout: opts.Timeout, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to open store").
			WithDetail("path", path)
	}

	return &Store{path: path, db: db, codec: codec, opts: opts, readOnly: true}, nil
}

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// Written returns the number of records put through this handle.
func (s *Store) Written() int { return s.written }

// Put writes rec under the decimal key of index, as one committed unit of
// work.
func (s *Store) Put(index int, rec map[string]any) error {
	if s.readOnly {
		return errors.New(errors.ErrorTypeStoreIO, "store is read-only").
			WithDetail("path", s.path)
	}

	value, err := s.codec.EncodeRecord(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to serialize record").
			WithDetail("key", index)
	}
	if err := s.update(Key(index), value); err != nil {
		return err
	}
	s.written++
	return nil
}

func (s *Store) update(key, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		// The file size only changes at commit, so the bound is checked
		// against the committed size plus the pending entry.
		if tx.Size()+int64(len(key)+len(value)) > s.opts.MaxSize {
			return errors.Newf(errors.ErrorTypeStoreIO, "store full: size bound of %d bytes reached", s.opts.MaxSize)
		}
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to write record").
			WithDetail("path", s.path).
			WithDetail("key", string(key))
	}
	return nil
}

// Count returns the value stored under CountKey.
func (s *Store) Count() (int, error) {
	value, err := s.get([]byte(CountKey))
	if err != nil {
		return 0, err
	}
	return s.codec.DecodeCount(value)
}

// Get reads the record stored under the decimal key of index.
func (s *Store) Get(index int) (map[string]any, error) {
	value, err := s.get(Key(index))
	if err != nil {
		return nil, err
	}
	return s.codec.DecodeRecord(value)
}

func (s *Store) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		// bolt values are only valid inside the transaction
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to read record").
			WithDetail("path", s.path)
	}
	if value == nil {
		return nil, errors.New(errors.ErrorTypeStoreIO, "key not found").
			WithDetail("path", s.path).
			WithDetail("key", string(key))
	}
	return value, nil
}

// ForEach calls fn for indices 0..Count()-1 in ascending order, stopping
// at the first error.
func (s *Store) ForEach(fn func(index int, rec map[string]any) error) error {
	n, err := s.Count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		rec, err := s.Get(i)
		if err != nil {
			return err
		}
		if err := fn(i, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the store. A store opened with NoSync is synced first.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	defer func() { s.db = nil }()

	if s.opts.NoSync && !s.readOnly {
		if err := s.db.Sync(); err != nil {
			s.db.Close()
			return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to sync store").
				WithDetail("path", s.path)
		}
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to close store").
			WithDetail("path", s.path)
	}
	s.opts.Logger.Debug("store closed",
		zap.String("path", s.path),
		zap.Int("records_written", s.written))
	return nil
}
