// Package persistence defines the storage-agnostic contract for a durable
// MVCC document log and secondary-index log: the types, interfaces and
// invariants that any backing SQL store must satisfy. The github.com/
// sadroad/convex-pg/internal/persistence/pg package is the PostgreSQL
// implementation of this contract.
package persistence

import (
	"fmt"

	"github.com/google/uuid"
)

// TS is a monotonic logical timestamp, nanoseconds since the Unix epoch
// by convention but opaque to the persistence layer beyond ordering.
type TS = int64

// ID is a 16-byte internal identifier: document ids, table ids, and
// index ids all share this representation.
type ID [16]byte

// String renders an ID as hex, matching how the pg package logs and
// formats errors that reference one.
func (id ID) String() string {
	return fmt.Sprintf("%x", [16]byte(id))
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// NewID generates a random document/table/index id. uuid.UUID and ID
// share the same [16]byte representation, so a v4 UUID converts
// directly with no re-encoding.
func NewID() ID {
	return ID(uuid.New())
}

// ConflictStrategy selects what happens when a write collides with an
// existing primary key.
type ConflictStrategy int

const (
	// ConflictError aborts the whole transaction on a primary-key collision.
	ConflictError ConflictStrategy = iota
	// ConflictOverwrite updates only the mutable columns of the colliding
	// row (value+deleted for documents; deleted+table_id+document_id for
	// index entries). Identity columns and key-derivation columns are
	// never touched.
	ConflictOverwrite
)

func (c ConflictStrategy) String() string {
	switch c {
	case ConflictError:
		return "error"
	case ConflictOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// DocumentLogEntry is one row of the append-only document revision log.
type DocumentLogEntry struct {
	ID      ID
	TS      TS
	TableID ID
	Value   []byte // opaque bytes, JSON when present; nil/absent when Deleted
	Deleted bool
	PrevTS  *TS // optional: ts of the revision this one supersedes
}

// IndexEntry is one row of the append-only secondary-index log, expressed
// in terms of a full logical key. SplitKey (see splitkey.go) derives the
// physical prefix/suffix/sha256 columns from Key.
type IndexEntry struct {
	IndexID    ID
	Key        []byte
	TS         TS
	Deleted    bool
	TableID    *ID
	DocumentID *ID
}

// LatestDocument is the materialized result of an index scan: the full
// logical key plus the live document it currently resolves to.
type LatestDocument struct {
	Key      []byte
	Document DocumentLogEntry
}

// Order selects ascending or descending iteration.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// PersistenceGlobal is a single row of the small engine-metadata KV store.
type PersistenceGlobal struct {
	Key   string
	Value []byte // opaque JSON bytes
}

// TableSizeStats is the (data, index, row-count) triple reported for one
// physical table by the stats operation in §4.9.
type TableSizeStats struct {
	Table     string
	DataBytes int64
	IndexBytes int64
	RowCount  *int64 // best-effort; nil when the catalog doesn't know
}

// Size limits and batching constants shared across the write and bulk
// import paths. Names and values are carried over unchanged from the
// reference implementation this backend was modeled on.
const (
	// MaxIndexKeyPrefixLen is the number of leading bytes of a logical
	// index key stored inline as key_prefix; any remainder is stored as
	// key_suffix.
	MaxIndexKeyPrefixLen = 2500

	// MaxInsertSize bounds the number of documents accepted by a single
	// write() call.
	MaxInsertSize = 56000

	// RowsPerCopyBatch bounds how many rows accumulate in one binary COPY
	// stream before it is finished and a fresh one started.
	RowsPerCopyBatch = 1_000_000

	// ChunkSize is the width of the UNION ALL template used to batch
	// previous-revision lookups and chunked deletes.
	ChunkSize = 8

	// DefaultPipelineQueries bounds how many previous-revision batch
	// queries may be in flight concurrently; overridable via the
	// PIPELINE_QUERIES environment variable.
	DefaultPipelineQueries = 16
)
