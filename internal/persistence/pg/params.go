package pg

import "github.com/sadroad/convex-pg/internal/persistence"

// Parameter-position counts for the document and index insert templates,
// named the way the original implementation names them so the SQL in
// queries.go and the array-building code here stay in sync by
// inspection.
const (
	numDocumentParams = 6 // ts, table_id, id, value, deleted, prev_ts
	numIndexParams    = 8 // index_id, key_sha256, ts, key_prefix, key_suffix, deleted, table_id, document_id
)

// idBytes renders an ID as a plain []byte for BYTEA parameters.
func idBytes(id persistence.ID) []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

// idFromBytes parses a BYTEA column back into an ID. Panics-free: a
// short/long column is a schema-integrity bug, surfaced as an error by
// the caller rather than here.
func idFromBytes(b []byte) (persistence.ID, bool) {
	var id persistence.ID
	if len(b) != len(id) {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// optionalIDBytes renders a *ID, nil-safe, for nullable BYTEA columns.
func optionalIDBytes(id *persistence.ID) []byte {
	if id == nil {
		return nil
	}
	return idBytes(*id)
}

// documentParams builds the positional argument list for the document
// insert templates, matching numDocumentParams's column order.
func documentParams(d persistence.DocumentLogEntry) []any {
	return []any{d.TS, idBytes(d.TableID), idBytes(d.ID), d.Value, d.Deleted, d.PrevTS}
}

// indexParams builds the positional argument list for the index insert
// templates, matching numIndexParams's column order. The split happens
// here: callers pass a full IndexEntry and this derives prefix/suffix/
// sha256.
func indexParams(e persistence.IndexEntry) []any {
	sk := persistence.Split(e.Key)
	var suffix []byte
	if sk.HasSuffix() {
		suffix = sk.Suffix
	}
	return []any{
		idBytes(e.IndexID), sk.SHA256[:], e.TS, sk.Prefix, suffix, e.Deleted,
		optionalIDBytes(e.TableID), optionalIDBytes(e.DocumentID),
	}
}
