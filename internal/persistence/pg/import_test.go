package pg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadroad/convex-pg/internal/persistence"
)

func TestImportDocumentsBatchOutsideLeaseFlipsFreshness(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	rows := make(chan persistence.DocumentLogEntry, 3)
	rows <- persistence.DocumentLogEntry{ID: newID(t, 1), TS: 1, TableID: table, Value: []byte("a")}
	rows <- persistence.DocumentLogEntry{ID: newID(t, 2), TS: 2, TableID: table, Value: []byte("b")}
	rows <- persistence.DocumentLogEntry{ID: newID(t, 3), TS: 3, TableID: table, Value: []byte("c")}
	close(rows)

	require.True(t, s.IsFresh())
	n, err := s.ImportDocumentsBatch(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.False(t, s.IsFresh())

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.LoadDocuments(ctx, 0, 10, persistence.OrderAsc, 10)
	require.NoError(t, err)
	defer stream.Close()
	got := 0
	for {
		_, ok, err := stream.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got++
	}
	require.Equal(t, 3, got)
}

func TestImportIndexesBatch(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	doc := newID(t, 2)
	indexID := newID(t, 9)

	docRows := make(chan persistence.DocumentLogEntry, 1)
	docRows <- persistence.DocumentLogEntry{ID: doc, TS: 1, TableID: table, Value: []byte("v")}
	close(docRows)
	_, err := s.ImportDocumentsBatch(ctx, docRows)
	require.NoError(t, err)

	idxRows := make(chan persistence.IndexEntry, 1)
	idxRows <- persistence.IndexEntry{IndexID: indexID, Key: []byte("k"), TS: 1, TableID: &table, DocumentID: &doc}
	close(idxRows)
	n, err := s.ImportIndexesBatch(ctx, idxRows)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.IndexScan(ctx, indexID, 100, persistence.Unbounded(), persistence.OrderAsc, 10)
	require.NoError(t, err)
	defer stream.Close()
	got, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("k"), got.Key)
}
