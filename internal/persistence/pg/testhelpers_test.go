package pg

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// testTimeout bounds any single test operation; generous because CI
// Postgres instances can be slow to spin up their first connection.
const testTimeout = 30 * time.Second

// testContext returns a context with timeout for test operations, the
// same helper shape dolt_test.go uses.
func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), testTimeout)
}

// skipIfNoPostgres skips the test unless TEST_DATABASE_URL names a
// reachable server, mirroring skipIfNoDolt's external-dependency gate.
func skipIfNoPostgres(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping test")
	}
	return url
}

// uniqueSchemaName generates a unique schema name for test isolation,
// the way uniqueTestDBName isolates each Dolt test's database.
func uniqueSchemaName(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("generate random bytes: %v", err)
	}
	return "pgtest_" + hex.EncodeToString(buf)
}

// setupTestStore creates a Store against a freshly created, uniquely
// named schema, returning a cleanup that drops it.
func setupTestStore(t *testing.T, opts ...func(*Config)) (*Store, func()) {
	t.Helper()
	url := skipIfNoPostgres(t)
	schema := uniqueSchemaName(t)

	cfg := &Config{URL: url, Schema: schema}
	for _, o := range opts {
		o(cfg)
	}

	ctx, cancel := testContext(t)
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cleanup := func() {
		ctx, cancel := testContext(t)
		defer cancel()
		_, _ = s.Pool().Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		s.Close()
	}
	return s, cleanup
}

func newID(t *testing.T, b byte) persistence.ID {
	t.Helper()
	var id persistence.ID
	id[0] = b
	return id
}
