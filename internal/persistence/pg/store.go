package pg

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// Store implements persistence.Writer on PostgreSQL. It owns the
// connection pool, the acquired Lease, and the "freshness" flag of
// §4.3, flipping it on the first successful write the way the reference
// implementation tracks it as an instance field rather than ambient
// global state (§9).
type Store struct {
	pool    *pool
	rawPool *pgxpool.Pool
	q       *queries
	schema  string
	cfg     *Config
	m       *metrics
	lease   *lease
	fresh   atomic.Bool
}

// New implements §4.8 Bootstrap end-to-end: resolve/create schema, run
// guarded idempotent DDL, check read-only, determine freshness, and
// acquire the lease.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("convexpg: URL is required")
	}
	applyConfigDefaults(cfg)

	m := newMetrics()

	pp, err := newPool(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	rawPool := pp.pgx
	if err := rawPool.Ping(ctx); err != nil {
		rawPool.Close()
		return nil, fmt.Errorf("convexpg: ping: %w", err)
	}

	bs, err := bootstrap(ctx, rawPool, cfg)
	if err != nil {
		rawPool.Close()
		return nil, err
	}

	q := buildQueries(bs.schema)
	p := &pool{pgx: rawPool, schema: bs.schema, metrics: m}

	l, err := acquireLease(ctx, rawPool, q, bs.schema, m, cfg.ShutdownSignal, nowNanos)
	if err != nil {
		rawPool.Close()
		return nil, err
	}

	s := &Store{
		pool:    p,
		rawPool: rawPool,
		q:       q,
		schema:  bs.schema,
		cfg:     cfg,
		m:       m,
		lease:   l,
	}
	s.fresh.Store(bs.isFresh)
	return s, nil
}

func nowNanos() persistence.TS {
	return time.Now().UnixNano()
}

// applyTLSConfigOnExistingPool runs applyTLSConfig against p.Config().
// pgxpool returns a copy of the pool's config there, so this does not
// change the TLS settings of p's connections. New applies the
// PG_CA_FILE/SSLKEYLOGFILE handling through newPool, before the pool is
// opened.
func applyTLSConfigOnExistingPool(p *pgxpool.Pool) error {
	return applyTLSConfig(p.Config())
}

// Close releases the pool. Safe to call once; the lease is not
// explicitly released (per §4.2, losing the lease is the only exit —
// letting the pool close and the row's ts simply age out for the next
// acquirer is the specified shutdown behavior).
func (s *Store) Close() {
	s.rawPool.Close()
}

// Pool exposes the underlying connection pool so a Reader can be built
// sharing it, per §3's "Reader and Writer share one pool" ownership
// model — a Store alone only implements Writer.
func (s *Store) Pool() *pgxpool.Pool {
	return s.rawPool
}

// Schema reports the resolved schema name, for constructing a Reader
// against the same schema as this Store.
func (s *Store) Schema() string {
	return s.schema
}

// IsFresh reports whether the documents table was empty at construction
// and remains so — flips permanently on the first successful write.
func (s *Store) IsFresh() bool {
	return s.fresh.Load()
}

// Write implements §4.3 write(): checks the document count against
// MaxInsertSize, then commits documents and indexes atomically under the
// lease. Only the count is validated; each entry is written with the
// TableID and ID it carries, and its opaque Value is not inspected. Document and index inserts run as a single serialized sequence
// on the transaction's one connection rather than genuinely pipelined,
// per §9's "Pipelined in-transaction inserts" design note (pgx does not
// expose concurrent statement execution on one connection the way the
// source driver's native pipelining does — a documented performance,
// not correctness, deviation).
func (s *Store) Write(ctx context.Context, documents []persistence.DocumentLogEntry, indexes []persistence.IndexEntry, strategy persistence.ConflictStrategy) error {
	if len(documents) > persistence.MaxInsertSize {
		return fmt.Errorf("convexpg: write: %d documents exceeds MAX_INSERT_SIZE %d", len(documents), persistence.MaxInsertSize)
	}

	docStmt := s.q.insertDocumentError
	idxStmt := s.q.insertIndexError
	if strategy == persistence.ConflictOverwrite {
		docStmt = s.q.insertDocumentOverwrite
		idxStmt = s.q.insertIndexOverwrite
	}

	err := s.lease.Transact(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, d := range documents {
			if _, err := txExec(ctx, s.schema, tx, docStmt, documentParams(d)...); err != nil {
				return fmt.Errorf("convexpg: insert document: %w", err)
			}
		}
		for _, e := range indexes {
			if _, err := txExec(ctx, s.schema, tx, idxStmt, indexParams(e)...); err != nil {
				return fmt.Errorf("convexpg: insert index entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.fresh.Store(false)
	return nil
}

// Delete implements §4.3 delete(): chunked 8-wide batches plus a
// single-row remainder statement, per request.
func (s *Store) Delete(ctx context.Context, documents []persistence.DocumentDeleteRequest) (int64, error) {
	var total int64
	chunks, remainder := chunk(documents, persistence.ChunkSize)
	for _, c := range chunks {
		args := make([]any, 0, persistence.ChunkSize*3)
		for _, r := range c {
			args = append(args, idBytes(r.TableID), idBytes(r.ID), r.TS)
		}
		n, err := s.pool.exec(ctx, s.q.deleteDocumentsChunk8, args...)
		if err != nil {
			return total, fmt.Errorf("convexpg: delete documents (chunk): %w", err)
		}
		total += n
	}
	for _, r := range remainder {
		n, err := s.pool.exec(ctx, s.q.deleteDocumentsOne, idBytes(r.TableID), idBytes(r.ID), r.TS)
		if err != nil {
			return total, fmt.Errorf("convexpg: delete document: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeleteIndexEntries implements §4.3 delete_index_entries(), same
// batching strategy keyed on (index_id, key_prefix, key_sha256, ts).
func (s *Store) DeleteIndexEntries(ctx context.Context, entries []persistence.IndexDeleteRequest) (int64, error) {
	var total int64
	chunks, remainder := chunk(entries, persistence.ChunkSize)
	for _, c := range chunks {
		args := make([]any, 0, persistence.ChunkSize*4)
		for _, r := range c {
			sk := persistence.Split(r.Key)
			args = append(args, idBytes(r.IndexID), sk.Prefix, sk.SHA256[:], r.TS)
		}
		n, err := s.pool.exec(ctx, s.q.deleteIndexesChunk8, args...)
		if err != nil {
			return total, fmt.Errorf("convexpg: delete index entries (chunk): %w", err)
		}
		total += n
	}
	for _, r := range remainder {
		sk := persistence.Split(r.Key)
		n, err := s.pool.exec(ctx, s.q.deleteIndexesOne, idBytes(r.IndexID), sk.Prefix, sk.SHA256[:], r.TS)
		if err != nil {
			return total, fmt.Errorf("convexpg: delete index entry: %w", err)
		}
		total += n
	}
	return total, nil
}

// SetReadOnly implements §4.3 set_read_only(): inserts or deletes the
// singleton read-only row.
func (s *Store) SetReadOnly(ctx context.Context, readOnly bool) error {
	stmt := s.q.clearReadOnly
	if readOnly {
		stmt = s.q.setReadOnly
	}
	_, err := s.pool.exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("convexpg: set read-only=%v: %w", readOnly, err)
	}
	return nil
}

// WritePersistenceGlobal implements §4.3 write_persistence_global(): an
// upsert keyed by key.
func (s *Store) WritePersistenceGlobal(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.exec(ctx, s.q.writeGlobal, key, value)
	if err != nil {
		return fmt.Errorf("convexpg: write persistence global %q: %w", key, err)
	}
	return nil
}

// FinishLoading implements §4.3 finish_loading(): runs the CREATE INDEX
// statements deferred during bootstrap when SkipIndexCreation was set.
// Each runs with an unbounded per-statement timeout (no deadline is
// attached beyond the caller's ctx), matching §5's "long CREATE INDEX
// statements in finish_loading use a disabled per-statement timeout".
func (s *Store) FinishLoading(ctx context.Context) error {
	bs, err := bootstrapPending(ctx, s.rawPool, s.schema, s.cfg)
	if err != nil {
		return err
	}
	for _, stmt := range bs {
		if _, err := s.rawPool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("convexpg: finish_loading: %w\nstatement: %s", err, truncateForError(stmt))
		}
	}
	return nil
}

// bootstrapPending recomputes the deferred index statements for a
// schema that was already bootstrapped with SkipIndexCreation; FinishLoading
// may be called well after construction (even in a separate process), so
// it cannot rely on the in-memory bootstrapResult from New.
func bootstrapPending(_ context.Context, _ *pgxpool.Pool, schema string, cfg *Config) ([]string, error) {
	if !cfg.SkipIndexCreation {
		return nil, nil
	}
	var pending []string
	for _, stmt := range tableDDL(schema) {
		if stmt.isIndex {
			pending = append(pending, stmt.sql)
		}
	}
	return pending, nil
}

// chunk splits items into groups of size n, returning the full chunks
// and the trailing remainder separately — mirrors the previous-revision
// pipeline's own chunk/remainder split in reader.go so both write-side
// batching and read-side batching use the same shape.
func chunk[T any](items []T, n int) ([][]T, []T) {
	var chunks [][]T
	i := 0
	for ; i+n <= len(items); i += n {
		chunks = append(chunks, items[i:i+n])
	}
	return chunks, items[i:]
}
