package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// ImportDocumentsBatch implements §4.3's bulk import path: reads entries
// from rows until the channel closes, issuing binary COPY batches of up
// to RowsPerCopyBatch rows each so one giant import doesn't hold a
// single COPY stream open indefinitely. Runs outside the lease — the
// caller is responsible for exclusivity during import, per the spec.
// Freshness flips as soon as any batch commits real rows, not only once
// the whole stream is exhausted, so a later batch's COPY error doesn't
// leave IsFresh() stale against rows already durable.
func (s *Store) ImportDocumentsBatch(ctx context.Context, rows <-chan persistence.DocumentLogEntry) (int64, error) {
	cols := []string{"ts", "table_id", "id", "value", "deleted", "prev_ts"}
	var total int64
	for {
		batch, done := collectDocumentBatch(rows, persistence.RowsPerCopyBatch)
		if len(batch) > 0 {
			n, err := s.rawPool.CopyFrom(ctx,
				copyTableName(s.schema, "documents"), cols,
				pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
					return documentParams(batch[i]), nil
				}))
			if err != nil {
				return total, fmt.Errorf("convexpg: import documents COPY: %w", err)
			}
			total += n
			s.fresh.Store(false)
		}
		if done {
			break
		}
	}
	return total, nil
}

// ImportIndexesBatch is ImportDocumentsBatch's index-log counterpart.
func (s *Store) ImportIndexesBatch(ctx context.Context, rows <-chan persistence.IndexEntry) (int64, error) {
	cols := []string{"index_id", "key_sha256", "ts", "key_prefix", "key_suffix", "deleted", "table_id", "document_id"}
	var total int64
	for {
		batch, done := collectIndexBatch(rows, persistence.RowsPerCopyBatch)
		if len(batch) > 0 {
			n, err := s.rawPool.CopyFrom(ctx,
				copyTableName(s.schema, "indexes"), cols,
				pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
					return indexParams(batch[i]), nil
				}))
			if err != nil {
				return total, fmt.Errorf("convexpg: import indexes COPY: %w", err)
			}
			total += n
		}
		if done {
			break
		}
	}
	return total, nil
}

func copyTableName(schema, table string) pgx.Identifier {
	return pgx.Identifier{schema, table}
}

// collectDocumentBatch drains rows until it has n entries or the
// channel closes, returning done=true in the latter case.
func collectDocumentBatch(rows <-chan persistence.DocumentLogEntry, n int) ([]persistence.DocumentLogEntry, bool) {
	batch := make([]persistence.DocumentLogEntry, 0, n)
	for len(batch) < n {
		r, ok := <-rows
		if !ok {
			return batch, true
		}
		batch = append(batch, r)
	}
	return batch, false
}

func collectIndexBatch(rows <-chan persistence.IndexEntry, n int) ([]persistence.IndexEntry, bool) {
	batch := make([]persistence.IndexEntry, 0, n)
	for len(batch) < n {
		r, ok := <-rows
		if !ok {
			return batch, true
		}
		batch = append(batch, r)
	}
	return batch, false
}
