package pipeline

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/prositlmdb/pkg/transform"
)

// Source is the part of a columnar dataset the pipeline reads.
type Source interface {
	Has(fields ...string) bool
	Len(field string) (int, error)
	Slice(ctx context.Context, field string, start, end int) (arrow.Array, error)
}

// Transformer turns raw rows into records.
type Transformer interface {
	// Required lists the fields a source must have.
	Required() []string
	// Loaded lists the fields to read given the source's columns.
	Loaded(has func(field string) bool) []string
	Transform(raw transform.RawRecord) (transform.Record, error)
}

// Store receives converted records.
type Store interface {
	Put(index int, rec map[string]any) error
	Close() error
}

// StoreFactory destroys any store at path and creates one declaring count
// records.
type StoreFactory func(path string, count int) (Store, error)

// State is the stage a conversion is in.
type State int

const (
	StateInit State = iota
	StateMetadataWritten
	StateLoadBatch
	StateTransform
	StateWriteBatch
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateMetadataWritten:
		return "metadata_written"
	case StateLoadBatch:
		return "load_batch"
	case StateTransform:
		return "transform"
	case StateWriteBatch:
		return "write_batch"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result summarizes a completed conversion.
type Result struct {
	Path     string        `json:"path"`
	Records  int           `json:"records"`
	Batches  int           `json:"batches"`
	Fields   []string      `json:"fields"`
	Duration time.Duration `json:"duration"`
}
