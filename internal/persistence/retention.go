package persistence

import "context"

// RetentionValidator is implemented by the higher database layer and
// consumed by Reader. It must fail if retention has already truncated
// data at or before the given snapshot timestamp, per §4.4.
//
// The core never implements this interface itself — only the concrete
// validator's two methods are called, after a page of rows has been
// fetched and its connection released, and before those rows are handed
// to the caller. A failing validation is fatal for the in-flight stream.
type RetentionValidator interface {
	// ValidateSnapshot fails if retention has advanced past ts for index
	// scans.
	ValidateSnapshot(ctx context.Context, ts TS) error

	// ValidateDocumentSnapshot fails if retention has advanced past ts
	// for the document log stream and previous-revision lookups.
	ValidateDocumentSnapshot(ctx context.Context, ts TS) error
}
