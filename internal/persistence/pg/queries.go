package pg

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// queries holds every parameterized SQL string this package issues,
// built once per schema at construction time — the "SQL Template
// Registry" of §2, including the compile-time-generated 3×3×2 index
// scan matrix of §4.5.
type queries struct {
	schema string

	documentsTbl string
	indexesTbl   string
	leasesTbl    string
	readOnlyTbl  string
	globalsTbl   string

	insertDocumentError     string
	insertDocumentOverwrite string
	insertIndexError        string
	insertIndexOverwrite    string

	deleteDocumentsOne    string
	deleteDocumentsChunk8 string
	deleteIndexesOne      string
	deleteIndexesChunk8   string

	loadDocumentsAsc  string
	loadDocumentsDesc string

	prevRevisionOne      string
	prevRevisionChunk8   string
	prevRevisionOfDocOne string
	prevRevisionOfDocChunk8 string

	readGlobal  string
	writeGlobal string

	leaseAcquire     string
	leaseCheck       string
	leasePrecondition string

	setReadOnly   string
	clearReadOnly string

	// indexScan is the §4.5 matrix, keyed by (lower, upper, order).
	indexScan map[indexScanKey]string
}

type indexScanKey struct {
	Lower persistence.BoundType
	Upper persistence.BoundType
	Order persistence.Order
}

func buildQueries(schema string) *queries {
	tbl := func(name string) string { return pgx.Identifier{schema, name}.Sanitize() }

	q := &queries{
		schema:       schema,
		documentsTbl: tbl("documents"),
		indexesTbl:   tbl("indexes"),
		leasesTbl:    tbl("leases"),
		readOnlyTbl:  tbl("read_only"),
		globalsTbl:   tbl("persistence_globals"),
	}

	q.insertDocumentError = fmt.Sprintf(
		`INSERT INTO %s (ts, table_id, id, value, deleted, prev_ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		q.documentsTbl)
	q.insertDocumentOverwrite = fmt.Sprintf(
		`INSERT INTO %s (ts, table_id, id, value, deleted, prev_ts) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ts, table_id, id) DO UPDATE SET value = EXCLUDED.value, deleted = EXCLUDED.deleted`,
		q.documentsTbl)

	q.insertIndexError = fmt.Sprintf(
		`INSERT INTO %s (index_id, key_sha256, ts, key_prefix, key_suffix, deleted, table_id, document_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.indexesTbl)
	q.insertIndexOverwrite = fmt.Sprintf(
		`INSERT INTO %s (index_id, key_sha256, ts, key_prefix, key_suffix, deleted, table_id, document_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (index_id, key_sha256, ts) DO UPDATE SET
		   deleted = EXCLUDED.deleted, table_id = EXCLUDED.table_id, document_id = EXCLUDED.document_id`,
		q.indexesTbl)

	q.deleteDocumentsOne = fmt.Sprintf(
		`DELETE FROM %s WHERE table_id = $1 AND id = $2 AND ts <= $3`, q.documentsTbl)
	q.deleteDocumentsChunk8 = buildChunkedDelete(q.documentsTbl, "table_id", "id", persistence.ChunkSize)

	q.deleteIndexesOne = fmt.Sprintf(
		`DELETE FROM %s WHERE index_id = $1 AND key_prefix = $2 AND key_sha256 = $3 AND ts <= $4`, q.indexesTbl)
	q.deleteIndexesChunk8 = buildChunkedIndexDelete(q.indexesTbl, persistence.ChunkSize)

	q.loadDocumentsAsc = fmt.Sprintf(
		`/*+ IndexScan(d documents_table_id_id_ts_idx) */
		 SELECT ts, table_id, id, value, deleted, prev_ts FROM %s AS d
		 WHERE (ts, table_id, id) > ($1, $2, $3) AND ts < $4
		 ORDER BY ts ASC, table_id ASC, id ASC LIMIT $5`, q.documentsTbl)
	q.loadDocumentsDesc = fmt.Sprintf(
		`/*+ IndexScan(d documents_table_id_id_ts_idx) */
		 SELECT ts, table_id, id, value, deleted, prev_ts FROM %s AS d
		 WHERE (ts, table_id, id) < ($1, $2, $3) AND ts >= $4
		 ORDER BY ts DESC, table_id DESC, id DESC LIMIT $5`, q.documentsTbl)

	q.prevRevisionOne = fmt.Sprintf(
		`SELECT ts, table_id, id, value, deleted, prev_ts, $2::bigint AS query_ts FROM %s
		 WHERE id = $1 AND ts < $2 ORDER BY ts DESC LIMIT 1`, q.documentsTbl)
	q.prevRevisionChunk8 = buildPrevRevisionUnion(q.documentsTbl, persistence.ChunkSize, false)

	q.prevRevisionOfDocOne = fmt.Sprintf(
		`SELECT ts, table_id, id, value, deleted, prev_ts, $2::bigint AS query_ts FROM %s
		 WHERE id = $1 AND ts = $2`, q.documentsTbl)
	q.prevRevisionOfDocChunk8 = buildPrevRevisionUnion(q.documentsTbl, persistence.ChunkSize, true)

	q.readGlobal = fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, q.globalsTbl)
	q.writeGlobal = fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		q.globalsTbl)

	q.leaseAcquire = fmt.Sprintf(`UPDATE %s SET ts = $1 WHERE id = 1 AND ts < $1`, q.leasesTbl)
	q.leaseCheck = fmt.Sprintf(`SELECT 1 FROM %s WHERE id = 1 AND ts = $1`, q.leasesTbl)
	q.leasePrecondition = fmt.Sprintf(`SELECT 1 FROM %s WHERE id = 1 AND ts = $1 FOR SHARE`, q.leasesTbl)

	q.setReadOnly = fmt.Sprintf(`INSERT INTO %s (id) VALUES (1) ON CONFLICT (id) DO NOTHING`, q.readOnlyTbl)
	q.clearReadOnly = fmt.Sprintf(`DELETE FROM %s WHERE id = 1`, q.readOnlyTbl)

	q.indexScan = buildIndexScanMatrix(q.indexesTbl, q.documentsTbl)

	return q
}

// buildChunkedDelete builds the ChunkSize-wide document-delete template:
// one WHERE clause per chunk member, OR'd together, each with its own
// three bind parameters.
func buildChunkedDelete(table, col1, col2 string, n int) string {
	var clauses []string
	for i := 0; i < n; i++ {
		base := i*3 + 1
		clauses = append(clauses, fmt.Sprintf("(%s = $%d AND %s = $%d AND ts <= $%d)", col1, base, col2, base+1, base+2))
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(clauses, " OR "))
}

// buildChunkedIndexDelete builds the ChunkSize-wide index-delete
// template: one clause per chunk member over (index_id, key_prefix,
// key_sha256, ts).
func buildChunkedIndexDelete(table string, n int) string {
	var clauses []string
	for i := 0; i < n; i++ {
		base := i*4 + 1
		clauses = append(clauses, fmt.Sprintf(
			"(index_id = $%d AND key_prefix = $%d AND key_sha256 = $%d AND ts <= $%d)", base, base+1, base+2, base+3))
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(clauses, " OR "))
}

// buildPrevRevisionUnion builds the ChunkSize-wide UNION ALL template
// for previous_revisions/previous_revisions_of_documents (§4.7): each
// sub-query embeds a literal query_ts marker column so the caller can
// de-multiplex which request a given result row answers.
func buildPrevRevisionUnion(table string, n int, exact bool) string {
	var parts []string
	for i := 0; i < n; i++ {
		idParam := i*2 + 1
		tsParam := i*2 + 2
		var cmp string
		if exact {
			cmp = fmt.Sprintf("ts = $%d", tsParam)
		} else {
			cmp = fmt.Sprintf("ts < $%d ORDER BY ts DESC LIMIT 1", tsParam)
		}
		sub := fmt.Sprintf(
			`SELECT ts, table_id, id, value, deleted, prev_ts, $%d::bigint AS query_ts
			 FROM %s WHERE id = $%d AND %s`, tsParam, table, idParam, cmp)
		if !exact {
			// The ORDER BY/LIMIT must wrap this one sub-query, so it needs
			// its own derived-table boundary inside the UNION ALL.
			sub = fmt.Sprintf(`SELECT * FROM (%s) AS chunk_%d`, sub, i)
		}
		parts = append(parts, sub)
	}
	return strings.Join(parts, "\nUNION ALL\n")
}

// buildIndexScanMatrix builds the 3×3×2 = 18 precompiled index scan
// query variants of §4.5, keyed by (lower bound kind, upper bound kind,
// order). Every variant: picks the latest version <= read_timestamp per
// (key_prefix, key_sha256) via DISTINCT ON ordered by ts DESC, left-joins
// to documents by (ts, table_id, document_id), and orders the outer
// result by (key_prefix, key_sha256) in the requested direction.
func buildIndexScanMatrix(indexesTbl, documentsTbl string) map[indexScanKey]string {
	m := make(map[indexScanKey]string)
	bounds := []persistence.BoundType{persistence.BoundUnbounded, persistence.BoundIncluded, persistence.BoundExcluded}
	orders := []persistence.Order{persistence.OrderAsc, persistence.OrderDesc}

	for _, lower := range bounds {
		for _, upper := range bounds {
			for _, order := range orders {
				m[indexScanKey{lower, upper, order}] = buildIndexScanQuery(indexesTbl, documentsTbl, lower, upper, order)
			}
		}
	}
	return m
}

// buildIndexScanQuery builds one variant of the matrix. Bind parameter
// layout is fixed across all variants so the reader can build args
// uniformly: $1 = index_id, $2 = read_timestamp, $3 = batch_size, then
// $4/$5 = lower (key_prefix, key_sha256) when lower != Unbounded, then
// $6/$7 (or $4/$5 if lower was Unbounded) = upper (key_prefix,
// key_sha256) when upper != Unbounded. The reader (reader.go) builds the
// argument slice from the same rule so query text and call sites stay in
// lockstep without a brittle shared constant table.
func buildIndexScanQuery(indexesTbl, documentsTbl string, lower, upper persistence.BoundType, order persistence.Order) string {
	where := []string{"i.ts <= $2"}
	param := 4
	if lower != persistence.BoundUnbounded {
		op := ">"
		if lower == persistence.BoundIncluded {
			op = ">="
		}
		where = append(where, fmt.Sprintf("(i.key_prefix, i.key_sha256) %s ($%d, $%d)", op, param, param+1))
		param += 2
	}
	if upper != persistence.BoundUnbounded {
		op := "<"
		if upper == persistence.BoundIncluded {
			op = "<="
		}
		where = append(where, fmt.Sprintf("(i.key_prefix, i.key_sha256) %s ($%d, $%d)", op, param, param+1))
		param += 2
	}

	dir := "ASC"
	if order == persistence.OrderDesc {
		dir = "DESC"
	}

	return fmt.Sprintf(`
/*+ Set(enable_seqscan off) */
WITH latest AS (
	SELECT DISTINCT ON (i.key_prefix, i.key_sha256)
		i.key_prefix, i.key_suffix, i.key_sha256, i.ts, i.deleted, i.table_id, i.document_id
	FROM %s AS i
	WHERE i.index_id = $1 AND %s
	ORDER BY i.key_prefix %s, i.key_sha256 %s, i.ts DESC
)
SELECT latest.key_prefix, latest.key_suffix, latest.key_sha256, latest.ts, latest.deleted,
       latest.table_id, latest.document_id,
       d.value, d.deleted AS doc_deleted, d.prev_ts
FROM latest
LEFT JOIN %s AS d ON d.ts = latest.ts AND d.table_id = latest.table_id AND d.id = latest.document_id
ORDER BY latest.key_prefix %s, latest.key_sha256 %s
LIMIT $3`, indexesTbl, strings.Join(where, " AND "), dir, dir, documentsTbl, dir, dir)
}
