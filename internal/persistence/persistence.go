package persistence

import (
	"context"
	"errors"
)

// Sentinel errors for the disposition table in §7. Callers should match
// against these with errors.Is; the pg package always wraps the
// underlying driver error alongside one of these where applicable.
var (
	// ErrReadOnly is returned when construction is refused because the
	// read-only flag is set and allow_read_only was not requested.
	ErrReadOnly = errors.New("persistence: backend is read-only")

	// ErrAlreadyAcquired is returned by Lease.Acquire when another holder
	// already presented a timestamp greater than or equal to the
	// candidate (fail-fast, per §9's open-question decision).
	ErrAlreadyAcquired = errors.New("persistence: lease already acquired with a higher timestamp")

	// ErrLeaseLost is returned by Transact when the advisory check finds
	// the lease has been stolen. Terminal for the Lease instance.
	ErrLeaseLost = errors.New("persistence: lease lost")

	// ErrDanglingIndexReference is surfaced on an index scan stream when
	// a live index row has no matching document.
	ErrDanglingIndexReference = errors.New("persistence: dangling index reference")

	// ErrRetentionViolation is surfaced on a stream when the injected
	// RetentionValidator rejects the chosen snapshot timestamp.
	ErrRetentionViolation = errors.New("persistence: retention validation failed")

	// ErrDuplicateResult is a fatal invariant violation: a previous-
	// revision lookup produced two results for the same request key.
	ErrDuplicateResult = errors.New("persistence: duplicate previous-revision result")
)

// Writer is the durable write API described in §4.3.
type Writer interface {
	Write(ctx context.Context, documents []DocumentLogEntry, indexes []IndexEntry, strategy ConflictStrategy) error
	Delete(ctx context.Context, documents []DocumentDeleteRequest) (int64, error)
	DeleteIndexEntries(ctx context.Context, entries []IndexDeleteRequest) (int64, error)
	SetReadOnly(ctx context.Context, readOnly bool) error
	WritePersistenceGlobal(ctx context.Context, key string, value []byte) error
	ImportDocumentsBatch(ctx context.Context, rows <-chan DocumentLogEntry) (int64, error)
	ImportIndexesBatch(ctx context.Context, rows <-chan IndexEntry) (int64, error)
	FinishLoading(ctx context.Context) error
	IsFresh() bool
}

// DocumentDeleteRequest identifies revisions to delete via §4.3's
// delete(): all revisions of (TableID, ID) with ts <= TS.
type DocumentDeleteRequest struct {
	TableID ID
	ID      ID
	TS      TS
}

// IndexDeleteRequest identifies index rows to delete via §4.3's
// delete_index_entries(): all rows of (IndexID, key) with ts <= TS.
type IndexDeleteRequest struct {
	IndexID ID
	Key     []byte
	TS      TS
}

// Reader is the snapshot-read API described in §4.5-4.9.
type Reader interface {
	IndexScan(ctx context.Context, indexID ID, readTimestamp TS, interval Interval, order Order, sizeHint int) (IndexScanStream, error)
	LoadDocuments(ctx context.Context, tsMin, tsMax TS, order Order, pageSize int) (DocumentLogStream, error)
	PreviousRevisions(ctx context.Context, reqs []PrevRevRequest) (map[PrevRevRequest]DocumentLogEntry, error)
	PreviousRevisionsOfDocuments(ctx context.Context, reqs []PrevRevOfDocRequest) (map[PrevRevOfDocRequest]DocumentLogEntry, error)
	ReadPersistenceGlobal(ctx context.Context, key string) (PersistenceGlobal, bool, error)
	TableSizeStats(ctx context.Context) ([]TableSizeStats, error)
	Version() string
}

// PrevRevRequest is one key of previous_revisions: the newest revision
// of ID strictly before TS.
type PrevRevRequest struct {
	ID ID
	TS TS
}

// PrevRevOfDocRequest is one key of previous_revisions_of_documents: the
// exact revision of ID at PrevTS.
type PrevRevOfDocRequest struct {
	ID     ID
	TS     TS
	PrevTS TS
}

// IndexScanStream is the lazy sequence produced by IndexScan. Next
// returns persistence.io.EOF-free iteration: ok is false once the scan
// is exhausted (after which err is nil) or once err is non-nil (after
// which the stream is dead). Close cancels an in-progress scan per the
// cancellation rule in §5 ("dropping the returned lazy sequence cancels
// the producer").
type IndexScanStream interface {
	Next(ctx context.Context) (LatestDocument, bool, error)
	Close()
}

// DocumentLogStream is the lazy sequence produced by LoadDocuments.
type DocumentLogStream interface {
	Next(ctx context.Context) (DocumentLogEntry, bool, error)
	Close()
}
