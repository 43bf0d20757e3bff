package pg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// Reader implements persistence.Reader on PostgreSQL. It holds no
// mutable shared state beyond the pool (§3 "Ownership"); the injected
// RetentionValidator is the only other collaborator.
type Reader struct {
	pool      *pool
	rawPool   *pgxpool.Pool
	q         *queries
	schema    string
	m         *metrics
	validator persistence.RetentionValidator
	version   string
	pipelineQueries int
}

// NewReader builds a Reader sharing the given pool/schema with a Store,
// per §3's shared-pool ownership model. validator implements §4.4 and
// is typically backed by its own Reader handle over a different
// connection, per §9's cyclic-relationship resolution.
func NewReader(rawPool *pgxpool.Pool, schema string, validator persistence.RetentionValidator, version string) *Reader {
	m := newMetrics()
	return &Reader{
		pool:            &pool{pgx: rawPool, schema: schema, metrics: m},
		rawPool:         rawPool,
		q:               buildQueries(schema),
		schema:          schema,
		m:               m,
		validator:       validator,
		version:         version,
		pipelineQueries: pipelineQueriesFromEnv(),
	}
}

func (r *Reader) Version() string { return r.version }

func pipelineQueriesFromEnv() int {
	if v := os.Getenv("PIPELINE_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return persistence.DefaultPipelineQueries
}

// ReadPersistenceGlobal implements the persistence-global read of §4.5
// (listed among Reader's responsibilities in §2).
func (r *Reader) ReadPersistenceGlobal(ctx context.Context, key string) (persistence.PersistenceGlobal, bool, error) {
	var value []byte
	err := r.pool.queryRow(ctx, func(row pgx.Row) error {
		return row.Scan(&value)
	}, r.q.readGlobal, key)
	if isNoRows(err) {
		return persistence.PersistenceGlobal{}, false, nil
	}
	if err != nil {
		return persistence.PersistenceGlobal{}, false, fmt.Errorf("convexpg: read persistence global %q: %w", key, err)
	}
	return persistence.PersistenceGlobal{Key: key, Value: value}, true, nil
}

// TableSizeStats implements §4.9: per-table (data, index, row-count)
// triples via pg_table_size/pg_indexes_size/pg_class.reltuples, cast
// through ::regclass. row_count is best-effort and may be nil.
func (r *Reader) TableSizeStats(ctx context.Context) ([]persistence.TableSizeStats, error) {
	tables := []string{"documents", "indexes", "leases", "read_only", "persistence_globals"}
	out := make([]persistence.TableSizeStats, 0, len(tables))
	for _, t := range tables {
		qualified := pgx.Identifier{r.schema, t}.Sanitize()
		var dataBytes, indexBytes int64
		var rowCount *int64
		q := fmt.Sprintf(
			`SELECT pg_table_size($1::regclass), pg_indexes_size($1::regclass),
			        (SELECT reltuples::bigint FROM pg_class WHERE oid = $1::regclass)`)
		err := r.pool.queryRow(ctx, func(row pgx.Row) error {
			return row.Scan(&dataBytes, &indexBytes, &rowCount)
		}, q, qualified)
		if err != nil {
			return nil, fmt.Errorf("convexpg: table size stats for %s: %w", t, err)
		}
		out = append(out, persistence.TableSizeStats{Table: t, DataBytes: dataBytes, IndexBytes: indexBytes, RowCount: rowCount})
	}
	return out, nil
}

// ---- Document log stream (§4.6) ----

// sentinel id bytes for the asymmetric cursor bounds: AFTER_ALL sorts
// after every real id (so asc's initial "ts_min - 1, AFTER_ALL, AFTER_ALL"
// strictly-greater cursor matches the first real row at ts_min);
// BEFORE_ALL sorts before every real id for desc's initial cursor.
var (
	afterAllID  = bytes.Repeat([]byte{0xff}, 16)
	beforeAllID = bytes.Repeat([]byte{0x00}, 16)
)

type docLogStream struct {
	r         *Reader
	tsMin     persistence.TS
	tsMax     persistence.TS
	order     persistence.Order
	pageSize  int
	validator persistence.RetentionValidator

	cursorTS    persistence.TS
	cursorTable []byte
	cursorID    []byte

	buf  []persistence.DocumentLogEntry
	i    int
	done bool
	err  error
}

// LoadDocuments implements §4.6. Cursor starts at the asymmetric
// sentinel described there and advances by the last row's (ts,
// table_id, id) after every page; each page is validated against the
// page's minimum observed ts (tsMin for an empty page) on a separate
// connection before rows are
// exposed to the caller, per §4.4.
func (r *Reader) LoadDocuments(ctx context.Context, tsMin, tsMax persistence.TS, order persistence.Order, pageSize int) (persistence.DocumentLogStream, error) {
	s := &docLogStream{r: r, tsMin: tsMin, tsMax: tsMax, order: order, pageSize: pageSize, validator: r.validator}
	if order == persistence.OrderAsc {
		s.cursorTS = tsMin - 1
		s.cursorTable = afterAllID
		s.cursorID = afterAllID
	} else {
		s.cursorTS = tsMax
		s.cursorTable = beforeAllID
		s.cursorID = beforeAllID
	}
	return s, nil
}

func (s *docLogStream) Close() {
	s.done = true
}

func (s *docLogStream) Next(ctx context.Context) (persistence.DocumentLogEntry, bool, error) {
	if s.err != nil {
		return persistence.DocumentLogEntry{}, false, s.err
	}
	if s.i < len(s.buf) {
		e := s.buf[s.i]
		s.i++
		return e, true, nil
	}
	if s.done {
		return persistence.DocumentLogEntry{}, false, nil
	}
	if err := s.fetchPage(ctx); err != nil {
		s.err = err
		return persistence.DocumentLogEntry{}, false, err
	}
	if s.i >= len(s.buf) {
		s.done = true
		return persistence.DocumentLogEntry{}, false, nil
	}
	e := s.buf[s.i]
	s.i++
	return e, true, nil
}

func (s *docLogStream) fetchPage(ctx context.Context) error {
	stmt := s.r.q.loadDocumentsAsc
	boundTS := s.tsMax
	if s.order == persistence.OrderDesc {
		stmt = s.r.q.loadDocumentsDesc
		boundTS = s.tsMin
	}

	rows, err := s.r.pool.query(ctx, stmt, s.cursorTS, s.cursorTable, s.cursorID, boundTS, s.pageSize)
	if err != nil {
		return fmt.Errorf("convexpg: load documents page: %w", err)
	}

	var page []persistence.DocumentLogEntry
	minTS := s.tsMin
	for rows.Next() {
		var e persistence.DocumentLogEntry
		var tableID, id []byte
		var prevTS *persistence.TS
		if err := rows.Scan(&e.TS, &tableID, &id, &e.Value, &e.Deleted, &prevTS); err != nil {
			rows.Close()
			return fmt.Errorf("convexpg: scan document row: %w", err)
		}
		e.TableID, _ = idFromBytes(tableID)
		e.ID, _ = idFromBytes(id)
		e.PrevTS = prevTS
		page = append(page, e)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return fmt.Errorf("convexpg: load documents page: %w", rowsErr)
	}

	if len(page) > 0 {
		last := page[len(page)-1]
		s.cursorTS, s.cursorTable, s.cursorID = last.TS, idBytes(last.TableID), idBytes(last.ID)
		if s.order == persistence.OrderAsc {
			minTS = page[0].TS
		} else {
			minTS = last.TS
		}
	}

	// Connection released (rows.Close() above) before validation, per §4.4/§9.
	if s.validator != nil {
		if err := s.validator.ValidateDocumentSnapshot(ctx, minTS); err != nil {
			return fmt.Errorf("%w: %v", persistence.ErrRetentionViolation, err)
		}
	}

	s.buf = page
	s.i = 0
	if len(page) < s.pageSize {
		s.done = true
	}
	return nil
}

// ---- Index scan (§4.5) ----

type scanMsg struct {
	doc      persistence.LatestDocument
	boundary bool
	err      error
}

type indexScanStream struct {
	msgs   chan scanMsg
	ack    chan struct{}
	cancel context.CancelFunc
	closed bool
}

func (s *indexScanStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	// Drain until the producer observes cancellation and closes msgs, so
	// its goroutine doesn't leak blocked on a send.
	for range s.msgs {
	}
}

func (s *indexScanStream) Next(ctx context.Context) (persistence.LatestDocument, bool, error) {
	for {
		select {
		case m, ok := <-s.msgs:
			if !ok {
				return persistence.LatestDocument{}, false, nil
			}
			if m.err != nil {
				return persistence.LatestDocument{}, false, m.err
			}
			if m.boundary {
				select {
				case s.ack <- struct{}{}:
					continue
				case <-ctx.Done():
					return persistence.LatestDocument{}, false, ctx.Err()
				}
			}
			return m.doc, true, nil
		case <-ctx.Done():
			return persistence.LatestDocument{}, false, ctx.Err()
		}
	}
}

// IndexScan implements §4.5: a paginated, retention-validated, order-
// correct scan over the requested interval, with cooperative
// backpressure via an in-band PageBoundary sentinel and buffered
// reordering for keys of MaxIndexKeyPrefixLen bytes or more.
func (r *Reader) IndexScan(ctx context.Context, indexID persistence.ID, readTimestamp persistence.TS, interval persistence.Interval, order persistence.Order, sizeHint int) (persistence.IndexScanStream, error) {
	batchSize := sizeHint
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > 5000 {
		batchSize = 5000
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s := &indexScanStream{
		msgs:   make(chan scanMsg, batchSize),
		ack:    make(chan struct{}),
		cancel: cancel,
	}
	go r.runIndexScan(scanCtx, indexID, readTimestamp, interval, order, batchSize, s)
	return s, nil
}

// scanCursor is the mutable per-page bound state the producer advances.
type scanCursor struct {
	lowerType persistence.BoundType
	lowerKey  []byte
	lowerSHA  [32]byte
	upperType persistence.BoundType
	upperKey  []byte
	upperSHA  [32]byte
}

func initialScanCursor(interval persistence.Interval) scanCursor {
	var c scanCursor
	if interval.Lower.Type == persistence.BoundUnbounded {
		c.lowerType = persistence.BoundUnbounded
	} else {
		c.lowerType = persistence.BoundIncluded
		c.lowerKey, c.lowerSHA = persistence.MinWithSamePrefix(interval.Lower.Key)
	}
	if interval.Upper.Type == persistence.BoundUnbounded {
		c.upperType = persistence.BoundUnbounded
	} else if interval.Upper.Type == persistence.BoundExcluded && len(interval.Upper.Key) < persistence.MaxIndexKeyPrefixLen {
		c.upperType = persistence.BoundExcluded
		c.upperKey, c.upperSHA = persistence.MinWithSamePrefix(interval.Upper.Key)
	} else {
		c.upperType = persistence.BoundIncluded
		c.upperKey, c.upperSHA = persistence.MaxWithSamePrefix(interval.Upper.Key)
	}
	return c
}

func (c scanCursor) args(indexID persistence.ID, readTimestamp persistence.TS, batchSize int) []any {
	args := []any{idBytes(indexID), readTimestamp, batchSize}
	if c.lowerType != persistence.BoundUnbounded {
		args = append(args, c.lowerKey, c.lowerSHA[:])
	}
	if c.upperType != persistence.BoundUnbounded {
		args = append(args, c.upperKey, c.upperSHA[:])
	}
	return args
}

// physicalRow is one row of the index-scan matrix result set.
type physicalRow struct {
	prefix     []byte
	suffix     []byte
	sha        [32]byte
	ts         persistence.TS
	idxDeleted bool
	tableID    []byte
	documentID []byte
	value      []byte
	docDeleted *bool
	prevTS     *persistence.TS
}

// scanRow reads one row of the matrix result into a physicalRow. sha256
// is scanned through a plain []byte first since pgx's bytea codec does
// not populate a fixed-size array destination directly.
func scanRow(rows pgx.Rows) (physicalRow, error) {
	var p physicalRow
	var sha []byte
	err := rows.Scan(&p.prefix, &p.suffix, &sha, &p.ts, &p.idxDeleted, &p.tableID, &p.documentID,
		&p.value, &p.docDeleted, &p.prevTS)
	copy(p.sha[:], sha)
	return p, err
}

func (p physicalRow) fullKey() []byte {
	if len(p.suffix) == 0 {
		return p.prefix
	}
	full := make([]byte, 0, len(p.prefix)+len(p.suffix))
	full = append(full, p.prefix...)
	full = append(full, p.suffix...)
	return full
}

func (r *Reader) runIndexScan(ctx context.Context, indexID persistence.ID, readTimestamp persistence.TS, interval persistence.Interval, order persistence.Order, batchSize int, s *indexScanStream) {
	defer close(s.msgs)

	cur := initialScanCursor(interval)
	var pendingBuf []physicalRow
	var pendingPrefix []byte

	flush := func(final bool) bool {
		if len(pendingBuf) == 0 {
			return true
		}
		sort.Slice(pendingBuf, func(i, j int) bool {
			ki, kj := pendingBuf[i].fullKey(), pendingBuf[j].fullKey()
			if order == persistence.OrderAsc {
				return bytes.Compare(ki, kj) < 0
			}
			return bytes.Compare(ki, kj) > 0
		})
		if r.m != nil {
			r.m.scanBufferedRows.Add(ctx, int64(len(pendingBuf)))
		}
		for _, p := range pendingBuf {
			doc, ok, err := resolveRow(p, interval)
			if err != nil {
				select {
				case s.msgs <- scanMsg{err: err}:
				case <-ctx.Done():
				}
				return false
			}
			if !ok {
				continue
			}
			select {
			case s.msgs <- scanMsg{doc: doc}:
			case <-ctx.Done():
				return false
			}
		}
		pendingBuf = nil
		pendingPrefix = nil
		_ = final
		return true
	}

	for {
		stmt, ok := r.q.indexScan[indexScanKey{cur.lowerType, cur.upperType, order}]
		if !ok {
			select {
			case s.msgs <- scanMsg{err: fmt.Errorf("convexpg: no index scan query for bound combination %+v/%+v", cur.lowerType, cur.upperType)}:
			case <-ctx.Done():
			}
			return
		}

		rows, err := r.pool.query(ctx, stmt, cur.args(indexID, readTimestamp, batchSize)...)
		if err != nil {
			select {
			case s.msgs <- scanMsg{err: fmt.Errorf("convexpg: index scan page: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		var page []physicalRow
		for rows.Next() {
			p, err := scanRow(rows)
			if err != nil {
				rows.Close()
				select {
				case s.msgs <- scanMsg{err: fmt.Errorf("convexpg: scan index row: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			page = append(page, p)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			select {
			case s.msgs <- scanMsg{err: fmt.Errorf("convexpg: index scan page: %w", rowsErr)}:
			case <-ctx.Done():
			}
			return
		}

		// Connection released above; validate before emitting, per §4.4.
		if r.validator != nil {
			if err := r.validator.ValidateSnapshot(ctx, readTimestamp); err != nil {
				select {
				case s.msgs <- scanMsg{err: fmt.Errorf("%w: %v", persistence.ErrRetentionViolation, err)}:
				case <-ctx.Done():
				}
				return
			}
		}

		for _, p := range page {
			long := len(p.prefix) >= persistence.MaxIndexKeyPrefixLen
			if !long {
				if len(pendingBuf) > 0 && !bytes.Equal(p.prefix, pendingPrefix) {
					if !flush(false) {
						return
					}
				}
				doc, ok, err := resolveRow(p, interval)
				if err != nil {
					select {
					case s.msgs <- scanMsg{err: err}:
					case <-ctx.Done():
					}
					return
				}
				if ok {
					select {
					case s.msgs <- scanMsg{doc: doc}:
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(pendingBuf) > 0 && !bytes.Equal(p.prefix, pendingPrefix) {
				if !flush(false) {
					return
				}
			}
			pendingPrefix = p.prefix
			pendingBuf = append(pendingBuf, p)
		}

		if len(page) < batchSize {
			// End of scan: flush any trailing buffered long-key group, then
			// close without sending a PageBoundary.
			flush(true)
			return
		}

		// Advance the bound for the next page to an exclusive cursor past
		// the last row emitted this page.
		last := page[len(page)-1]
		if order == persistence.OrderAsc {
			cur.lowerType = persistence.BoundExcluded
			cur.lowerKey = last.prefix
			cur.lowerSHA = last.sha
		} else {
			cur.upperType = persistence.BoundExcluded
			cur.upperKey = last.prefix
			cur.upperSHA = last.sha
		}

		select {
		case s.msgs <- scanMsg{boundary: true}:
		case <-ctx.Done():
			return
		}
		select {
		case <-s.ack:
		case <-ctx.Done():
			return
		}
	}
}

// resolveRow converts one physical row into a caller-visible
// LatestDocument, applying the §4.5 tombstone/integrity rules: deleted
// index rows are skipped (ok=false, no error); a live index row with no
// matching document (or a null value) is a dangling reference, which is
// fatal for the scan. The interval post-filter catches the superset
// produced for long keys.
func resolveRow(p physicalRow, interval persistence.Interval) (persistence.LatestDocument, bool, error) {
	full := p.fullKey()
	if !interval.Contains(full) {
		return persistence.LatestDocument{}, false, nil
	}
	if p.idxDeleted {
		return persistence.LatestDocument{}, false, nil
	}
	if len(p.tableID) == 0 || p.value == nil {
		return persistence.LatestDocument{}, false, fmt.Errorf("%w: index_id key=%x ts=%d", persistence.ErrDanglingIndexReference, full, p.ts)
	}
	tableID, _ := idFromBytes(p.tableID)
	docID, _ := idFromBytes(p.documentID)
	deleted := false
	if p.docDeleted != nil {
		deleted = *p.docDeleted
	}
	return persistence.LatestDocument{
		Key: full,
		Document: persistence.DocumentLogEntry{
			ID:      docID,
			TS:      p.ts,
			TableID: tableID,
			Value:   p.value,
			Deleted: deleted,
			PrevTS:  p.prevTS,
		},
	}, true, nil
}

// ---- Previous-revision lookups (§4.7) ----

// PreviousRevisions implements previous_revisions: for each (id, ts),
// the newest revision of id strictly before ts.
func (r *Reader) PreviousRevisions(ctx context.Context, reqs []persistence.PrevRevRequest) (map[persistence.PrevRevRequest]persistence.DocumentLogEntry, error) {
	out := make(map[persistence.PrevRevRequest]persistence.DocumentLogEntry, len(reqs))
	var minTS persistence.TS
	hasMin := false

	err := r.pipelinePrevRevisions(ctx, len(reqs), func(i int) (persistence.ID, persistence.TS) {
		return reqs[i].ID, reqs[i].TS
	}, r.q.prevRevisionChunk8, r.q.prevRevisionOne, func(queryTS persistence.TS, e persistence.DocumentLogEntry) error {
		req := persistence.PrevRevRequest{ID: e.ID, TS: queryTS}
		if _, dup := out[req]; dup {
			return persistence.ErrDuplicateResult
		}
		out[req] = e
		if !hasMin || e.TS < minTS {
			minTS, hasMin = e.TS, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasMin && r.validator != nil {
		if err := r.validator.ValidateDocumentSnapshot(ctx, minTS); err != nil {
			return nil, fmt.Errorf("%w: %v", persistence.ErrRetentionViolation, err)
		}
	}
	return out, nil
}

// PreviousRevisionsOfDocuments implements previous_revisions_of_documents:
// for each (id, ts, prev_ts), the exact revision at ts = prev_ts.
func (r *Reader) PreviousRevisionsOfDocuments(ctx context.Context, reqs []persistence.PrevRevOfDocRequest) (map[persistence.PrevRevOfDocRequest]persistence.DocumentLogEntry, error) {
	out := make(map[persistence.PrevRevOfDocRequest]persistence.DocumentLogEntry, len(reqs))
	type idAtTS struct {
		id persistence.ID
		ts persistence.TS
	}
	byQueryTS := make(map[idAtTS]persistence.PrevRevOfDocRequest, len(reqs))
	for _, req := range reqs {
		byQueryTS[idAtTS{req.ID, req.PrevTS}] = req
	}
	var minTS persistence.TS
	hasMin := false

	err := r.pipelinePrevRevisions(ctx, len(reqs), func(i int) (persistence.ID, persistence.TS) {
		return reqs[i].ID, reqs[i].PrevTS
	}, r.q.prevRevisionOfDocChunk8, r.q.prevRevisionOfDocOne, func(queryTS persistence.TS, e persistence.DocumentLogEntry) error {
		req, known := byQueryTS[idAtTS{e.ID, queryTS}]
		if !known {
			return fmt.Errorf("convexpg: previous_revisions_of_documents: result for unrequested (id=%s, prev_ts=%d)", e.ID, queryTS)
		}
		if _, dup := out[req]; dup {
			return persistence.ErrDuplicateResult
		}
		out[req] = e
		if !hasMin || req.TS < minTS {
			minTS, hasMin = req.TS, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasMin && r.validator != nil {
		if err := r.validator.ValidateDocumentSnapshot(ctx, minTS); err != nil {
			return nil, fmt.Errorf("%w: %v", persistence.ErrRetentionViolation, err)
		}
	}
	return out, nil
}

// pipelinePrevRevisions implements the shared chunking/pipelining
// machinery of §4.7: inputs are chunked into groups of ChunkSize, each
// chunk issues the 8-wide UNION ALL template (embedding a query_ts
// marker column per sub-query), the remainder uses the single-key
// template, and at most r.pipelineQueries queries run concurrently.
// onRow is called under a mutex, one row at a time.
func (r *Reader) pipelinePrevRevisions(
	ctx context.Context,
	n int,
	at func(i int) (persistence.ID, persistence.TS),
	chunkStmt, singleStmt string,
	onRow func(queryTS persistence.TS, e persistence.DocumentLogEntry) error,
) error {
	type job func(ctx context.Context) error

	var mu sync.Mutex
	serialOnRow := func(queryTS persistence.TS, e persistence.DocumentLogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		return onRow(queryTS, e)
	}

	var jobs []job
	chunkCount := n / persistence.ChunkSize
	for c := 0; c < chunkCount; c++ {
		c := c
		jobs = append(jobs, func(ctx context.Context) error {
			args := make([]any, 0, persistence.ChunkSize*2)
			for k := 0; k < persistence.ChunkSize; k++ {
				id, ts := at(c*persistence.ChunkSize + k)
				args = append(args, idBytes(id), ts)
			}
			return r.runPrevRevisionQuery(ctx, chunkStmt, args, serialOnRow)
		})
	}
	for i := chunkCount * persistence.ChunkSize; i < n; i++ {
		i := i
		jobs = append(jobs, func(ctx context.Context) error {
			id, ts := at(i)
			return r.runPrevRevisionQuery(ctx, singleStmt, []any{idBytes(id), ts}, serialOnRow)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.pipelineQueries)
	for _, j := range jobs {
		j := j
		g.Go(func() error { return j(gctx) })
	}
	return g.Wait()
}

func (r *Reader) runPrevRevisionQuery(ctx context.Context, stmt string, args []any, onRow func(persistence.TS, persistence.DocumentLogEntry) error) error {
	rows, err := r.pool.query(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("convexpg: previous-revision query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e persistence.DocumentLogEntry
		var tableID, id []byte
		var prevTS *persistence.TS
		var queryTS persistence.TS
		if err := rows.Scan(&e.TS, &tableID, &id, &e.Value, &e.Deleted, &prevTS, &queryTS); err != nil {
			return fmt.Errorf("convexpg: scan previous-revision row: %w", err)
		}
		e.TableID, _ = idFromBytes(tableID)
		e.ID, _ = idFromBytes(id)
		e.PrevTS = prevTS
		if err := onRow(queryTS, e); err != nil {
			return err
		}
	}
	return rows.Err()
}
