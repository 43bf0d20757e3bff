package pg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadroad/convex-pg/internal/persistence"
)

func drainIndexScan(t *testing.T, stream persistence.IndexScanStream) []persistence.LatestDocument {
	t.Helper()
	ctx, cancel := testContext(t)
	defer cancel()
	var out []persistence.LatestDocument
	for {
		d, ok, err := stream.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

func TestIndexScanAscendingOrder(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	indexID := newID(t, 9)
	keys := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")}

	var docs []persistence.DocumentLogEntry
	var idxs []persistence.IndexEntry
	for i, k := range keys {
		doc := newID(t, byte(10+i))
		docs = append(docs, persistence.DocumentLogEntry{ID: doc, TS: persistence.TS(100 + i), TableID: table, Value: k})
		idxs = append(idxs, persistence.IndexEntry{IndexID: indexID, Key: k, TS: persistence.TS(100 + i), TableID: &table, DocumentID: &doc})
	}
	require.NoError(t, s.Write(ctx, docs, idxs, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.IndexScan(ctx, indexID, 1000, persistence.Unbounded(), persistence.OrderAsc, 100)
	require.NoError(t, err)
	defer stream.Close()

	got := drainIndexScan(t, stream)
	require.Len(t, got, 3)
	require.Equal(t, []byte("apple"), got[0].Key)
	require.Equal(t, []byte("banana"), got[1].Key)
	require.Equal(t, []byte("cherry"), got[2].Key)
}

func TestIndexScanDescendingOrder(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	indexID := newID(t, 9)
	keys := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")}

	var docs []persistence.DocumentLogEntry
	var idxs []persistence.IndexEntry
	for i, k := range keys {
		doc := newID(t, byte(10+i))
		docs = append(docs, persistence.DocumentLogEntry{ID: doc, TS: persistence.TS(100 + i), TableID: table, Value: k})
		idxs = append(idxs, persistence.IndexEntry{IndexID: indexID, Key: k, TS: persistence.TS(100 + i), TableID: &table, DocumentID: &doc})
	}
	require.NoError(t, s.Write(ctx, docs, idxs, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.IndexScan(ctx, indexID, 1000, persistence.Unbounded(), persistence.OrderDesc, 100)
	require.NoError(t, err)
	defer stream.Close()

	got := drainIndexScan(t, stream)
	require.Len(t, got, 3)
	require.Equal(t, []byte("cherry"), got[0].Key)
	require.Equal(t, []byte("apple"), got[2].Key)
}

func TestIndexScanLongKeyRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	indexID := newID(t, 9)
	doc := newID(t, 20)

	longKey := append(bytes.Repeat([]byte{'k'}, persistence.MaxIndexKeyPrefixLen), []byte("-suffix-data")...)
	require.NoError(t, s.Write(ctx,
		[]persistence.DocumentLogEntry{{ID: doc, TS: 500, TableID: table, Value: []byte("v")}},
		[]persistence.IndexEntry{{IndexID: indexID, Key: longKey, TS: 500, TableID: &table, DocumentID: &doc}},
		persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.IndexScan(ctx, indexID, 1000, persistence.Unbounded(), persistence.OrderAsc, 100)
	require.NoError(t, err)
	defer stream.Close()

	got := drainIndexScan(t, stream)
	require.Len(t, got, 1)
	require.Equal(t, longKey, got[0].Key)
}

func TestIndexScanPaginationAcrossMultiplePages(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	indexID := newID(t, 9)

	var docs []persistence.DocumentLogEntry
	var idxs []persistence.IndexEntry
	for i := 0; i < 25; i++ {
		doc := newID(t, byte(i+1))
		key := []byte{byte(i)}
		docs = append(docs, persistence.DocumentLogEntry{ID: doc, TS: persistence.TS(i + 1), TableID: table, Value: key})
		idxs = append(idxs, persistence.IndexEntry{IndexID: indexID, Key: key, TS: persistence.TS(i + 1), TableID: &table, DocumentID: &doc})
	}
	require.NoError(t, s.Write(ctx, docs, idxs, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.IndexScan(ctx, indexID, 1000, persistence.Unbounded(), persistence.OrderAsc, 7)
	require.NoError(t, err)
	defer stream.Close()

	got := drainIndexScan(t, stream)
	require.Len(t, got, 25)
	for i, d := range got {
		require.Equal(t, []byte{byte(i)}, d.Key)
	}
}

func TestPreviousRevisionsFindsNewestStrictlyBefore(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	doc := newID(t, 3)
	table := newID(t, 1)
	require.NoError(t, s.Write(ctx, []persistence.DocumentLogEntry{
		{ID: doc, TS: 10, TableID: table, Value: []byte("v10")},
		{ID: doc, TS: 20, TableID: table, Value: []byte("v20")},
		{ID: doc, TS: 30, TableID: table, Value: []byte("v30")},
	}, nil, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	res, err := r.PreviousRevisions(ctx, []persistence.PrevRevRequest{{ID: doc, TS: 25}})
	require.NoError(t, err)
	got, ok := res[persistence.PrevRevRequest{ID: doc, TS: 25}]
	require.True(t, ok)
	require.Equal(t, []byte("v20"), got.Value)
}

func TestPreviousRevisionsOfDocumentsFindsExactRevision(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	doc := newID(t, 3)
	table := newID(t, 1)
	require.NoError(t, s.Write(ctx, []persistence.DocumentLogEntry{
		{ID: doc, TS: 10, TableID: table, Value: []byte("v10")},
		{ID: doc, TS: 20, TableID: table, Value: []byte("v20")},
	}, nil, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	req := persistence.PrevRevOfDocRequest{ID: doc, TS: 20, PrevTS: 10}
	res, err := r.PreviousRevisionsOfDocuments(ctx, []persistence.PrevRevOfDocRequest{req})
	require.NoError(t, err)
	got, ok := res[req]
	require.True(t, ok)
	require.Equal(t, []byte("v10"), got.Value)
}

func TestPreviousRevisionsPipelinesMoreThanOneChunk(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	var docs []persistence.DocumentLogEntry
	var reqs []persistence.PrevRevRequest
	const n = 20 // spans more than two ChunkSize=8 chunks, exercising the remainder path too
	for i := 0; i < n; i++ {
		doc := newID(t, byte(i+1))
		docs = append(docs,
			persistence.DocumentLogEntry{ID: doc, TS: persistence.TS(i*10 + 1), TableID: table, Value: []byte("old")},
			persistence.DocumentLogEntry{ID: doc, TS: persistence.TS(i*10 + 5), TableID: table, Value: []byte("new")},
		)
		reqs = append(reqs, persistence.PrevRevRequest{ID: doc, TS: persistence.TS(i*10 + 9)})
	}
	require.NoError(t, s.Write(ctx, docs, nil, persistence.ConflictError))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	res, err := r.PreviousRevisions(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, res, n)
	for _, req := range reqs {
		got, ok := res[req]
		require.True(t, ok)
		require.Equal(t, []byte("new"), got.Value)
	}
}
