package pg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sadroad/convex-pg/internal/persistence"
)

func TestWriteAndLoadDocumentsRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	doc := newID(t, 2)
	entry := persistence.DocumentLogEntry{ID: doc, TS: 100, TableID: table, Value: []byte(`{"a":1}`)}

	require.True(t, s.IsFresh())
	err := s.Write(ctx, []persistence.DocumentLogEntry{entry}, nil, persistence.ConflictError)
	require.NoError(t, err)
	require.False(t, s.IsFresh())

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.LoadDocuments(ctx, 0, 200, persistence.OrderAsc, 10)
	require.NoError(t, err)
	defer stream.Close()

	got, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.ID, got.ID)
	require.Equal(t, entry.TS, got.TS)
	require.Equal(t, entry.Value, got.Value)

	_, ok, err = stream.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteConflictErrorRejectsDuplicatePrimaryKey(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	doc := newID(t, 2)
	entry := persistence.DocumentLogEntry{ID: doc, TS: 100, TableID: table, Value: []byte("v1")}

	require.NoError(t, s.Write(ctx, []persistence.DocumentLogEntry{entry}, nil, persistence.ConflictError))
	entry.Value = []byte("v2")
	err := s.Write(ctx, []persistence.DocumentLogEntry{entry}, nil, persistence.ConflictError)
	require.Error(t, err)
}

func TestWriteConflictOverwriteUpdatesMutableColumnsOnly(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	doc := newID(t, 2)
	entry := persistence.DocumentLogEntry{ID: doc, TS: 100, TableID: table, Value: []byte("v1")}
	require.NoError(t, s.Write(ctx, []persistence.DocumentLogEntry{entry}, nil, persistence.ConflictOverwrite))

	entry.Value = []byte("v2")
	entry.Deleted = true
	require.NoError(t, s.Write(ctx, []persistence.DocumentLogEntry{entry}, nil, persistence.ConflictOverwrite))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.LoadDocuments(ctx, 0, 200, persistence.OrderAsc, 10)
	require.NoError(t, err)
	defer stream.Close()

	got, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), got.Value)
	require.True(t, got.Deleted)
	require.Equal(t, table, got.TableID) // identity column untouched
}

func TestDeleteDocumentsRemovesRevisionsAtOrBeforeTS(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	table := newID(t, 1)
	doc := newID(t, 2)
	entries := []persistence.DocumentLogEntry{
		{ID: doc, TS: 10, TableID: table, Value: []byte("a")},
		{ID: doc, TS: 20, TableID: table, Value: []byte("b")},
		{ID: doc, TS: 30, TableID: table, Value: []byte("c")},
	}
	require.NoError(t, s.Write(ctx, entries, nil, persistence.ConflictError))

	n, err := s.Delete(ctx, []persistence.DocumentDeleteRequest{{TableID: table, ID: doc, TS: 20}})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stream, err := r.LoadDocuments(ctx, 0, 100, persistence.OrderAsc, 10)
	require.NoError(t, err)
	defer stream.Close()
	got, ok, err := stream.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, persistence.TS(30), got.TS)
}

func TestPersistenceGlobalRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	require.NoError(t, s.WritePersistenceGlobal(ctx, "schema_version", []byte("3")))

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	g, ok, err := r.ReadPersistenceGlobal(ctx, "schema_version")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("3"), g.Value)

	_, ok, err = r.ReadPersistenceGlobal(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetReadOnlyRefusesFurtherConstructionWithoutAllow(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	require.NoError(t, s.SetReadOnly(ctx, true))

	ctx2, cancel2 := testContext(t)
	defer cancel2()
	_, err := New(ctx2, &Config{URL: s.cfg.URL, Schema: s.schema})
	require.ErrorIs(t, err, persistence.ErrReadOnly)

	s2, err := New(ctx2, &Config{URL: s.cfg.URL, Schema: s.schema, AllowReadOnly: true})
	require.NoError(t, err)
	s2.Close()
}

func TestTableSizeStatsReturnsAllTables(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx, cancel := testContext(t)
	defer cancel()

	r := NewReader(s.Pool(), s.Schema(), nil, "test")
	stats, err := r.TableSizeStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 5)
}
