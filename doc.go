// Package prositlmdb converts Prosit fragmentation prediction datasets into
// key-value record stores, one record per example, and joins model
// predictions back into the columnar format.
//
// # Architecture
//
// A conversion is a single-goroutine stream over four collaborators:
//
//  1. A columnar source (pkg/formats/columnar) hands out windows of named
//     columns from an Arrow IPC or Parquet file without loading whole columns.
//  2. A batch indexer (pkg/batch) partitions [0, N) into contiguous windows.
//  3. A record transformer (pkg/transform, pkg/sequence) casts each field
//     and decodes the integer peptide sequence into a string.
//  4. A record store (pkg/store) writes each record under the decimal form
//     of its index, next to a reserved num_examples key.
//
// internal/pipeline composes them; internal/driver runs the pipeline over
// every configured data type and split; internal/export performs the
// inverse join of predictions into a columnar file.
//
// # Quick Start
//
//	prositlmdb config init prositlmdb.yaml
//	prositlmdb convert --config prositlmdb.yaml
//	prositlmdb inspect lmdb/prosit_fragmentation_hcd/prosit_fragmentation_hcd_train.lmdb --index 0
//
// Or from Go:
//
//	p := pipeline.New(pipeline.Config{BatchSize: 100_000}, logger.Get())
//	result, err := p.ConvertFile(ctx, "hdf5/hcd/prediction_hcd_train.arrow", "out/hcd_train.lmdb")
//
// # Configuration
//
// Configuration is YAML with ${VAR} substitution, overridable through
// PROSITLMDB_* environment variables; see pkg/config.
//
// # Observability
//
//   - Structured logging with zap, one "batch complete" line per window
//   - Prometheus metrics served at /metrics when enabled
//   - OpenTelemetry spans per conversion and per batch when enabled
package prositlmdb
