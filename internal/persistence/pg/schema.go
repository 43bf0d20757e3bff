package pg

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatement is one DDL statement plus whether it's index-creating
// (and therefore deferrable to FinishLoading when SkipIndexCreation is
// set, per §4.8 step 3).
type schemaStatement struct {
	sql       string
	isIndex   bool
}

// tableDDL returns the guarded table statements for schema followed by
// the index-creating statements (marked isIndex). The table statements' `DO $$ ... IF to_regclass(...) IS NULL THEN ... END $$`
// shape lets re-running bootstrap on an already-initialized schema avoid
// taking the heavier lock CREATE TABLE IF NOT EXISTS would (§6).
func tableDDL(schema string) []schemaStatement {
	tbl := func(name string) string { return pgx.Identifier{schema, name}.Sanitize() }

	return []schemaStatement{
		{sql: fmt.Sprintf(`
DO $$
BEGIN
	IF to_regclass('%s.documents') IS NULL THEN
		CREATE TABLE %s (
			ts BIGINT NOT NULL,
			table_id BYTEA NOT NULL,
			id BYTEA NOT NULL,
			value BYTEA,
			deleted BOOLEAN NOT NULL DEFAULT false,
			prev_ts BIGINT,
			PRIMARY KEY (ts, table_id, id)
		);
	END IF;
END $$;`, schema, tbl("documents"))},

		{sql: fmt.Sprintf(`
DO $$
BEGIN
	IF to_regclass('%s.indexes') IS NULL THEN
		CREATE TABLE %s (
			index_id BYTEA NOT NULL,
			key_sha256 BYTEA NOT NULL,
			ts BIGINT NOT NULL,
			key_prefix BYTEA NOT NULL,
			key_suffix BYTEA,
			deleted BOOLEAN NOT NULL DEFAULT false,
			table_id BYTEA,
			document_id BYTEA,
			PRIMARY KEY (index_id, key_sha256, ts)
		);
	END IF;
END $$;`, schema, tbl("indexes"))},

		{sql: fmt.Sprintf(`
DO $$
BEGIN
	IF to_regclass('%s.leases') IS NULL THEN
		CREATE TABLE %s (
			id SMALLINT PRIMARY KEY,
			ts BIGINT NOT NULL
		);
		INSERT INTO %s (id, ts) VALUES (1, 0);
	END IF;
END $$;`, schema, tbl("leases"), tbl("leases"))},

		{sql: fmt.Sprintf(`
DO $$
BEGIN
	IF to_regclass('%s.read_only') IS NULL THEN
		CREATE TABLE %s (
			id SMALLINT PRIMARY KEY
		);
	END IF;
END $$;`, schema, tbl("read_only"))},

		{sql: fmt.Sprintf(`
DO $$
BEGIN
	IF to_regclass('%s.persistence_globals') IS NULL THEN
		CREATE TABLE %s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);
	END IF;
END $$;`, schema, tbl("persistence_globals"))},

		// Index-creating statements: deferrable to FinishLoading.
		{isIndex: true, sql: fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS documents_table_id_id_ts_idx ON %s (table_id, id, ts DESC)`, tbl("documents"))},
		{isIndex: true, sql: fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS indexes_prefix_sha_ts_idx ON %s (index_id, key_prefix, key_sha256, ts DESC)`, tbl("indexes"))},
	}
}

// bootstrap performs §4.8's construction sequence: resolve+create schema,
// run guarded DDL (deferring index statements when cfg.SkipIndexCreation
// is set), check the read-only flag, determine freshness, and report
// whether the schema was newly created. The lease is acquired by the
// caller (store.go) once bootstrap returns, since Lease belongs to a
// different file/concern.
type bootstrapResult struct {
	schema        string
	isFresh       bool
	pendingIndex  []string // deferred CREATE INDEX statements, when SkipIndexCreation
}

func bootstrap(ctx context.Context, p *pgxpool.Pool, cfg *Config) (bootstrapResult, error) {
	schema, err := resolveSchema(ctx, p, cfg.Schema)
	if err != nil {
		return bootstrapResult{}, err
	}

	var pending []string
	for _, stmt := range tableDDL(schema) {
		if stmt.isIndex && cfg.SkipIndexCreation {
			pending = append(pending, stmt.sql)
			continue
		}
		log.Printf("INFO: convexpg: schema statement: %s", truncateForError(strings.TrimSpace(stmt.sql)))
		if _, err := p.Exec(ctx, stmt.sql); err != nil {
			return bootstrapResult{}, fmt.Errorf("convexpg: schema init: %w\nstatement: %s", err, truncateForError(stmt.sql))
		}
	}

	readOnly, err := checkReadOnly(ctx, p, schema)
	if err != nil {
		return bootstrapResult{}, err
	}
	if readOnly && !cfg.AllowReadOnly {
		return bootstrapResult{}, fmt.Errorf("convexpg: %w", errReadOnlyRefusal)
	}

	isFresh, err := isDocumentsTableEmpty(ctx, p, schema)
	if err != nil {
		return bootstrapResult{}, err
	}

	return bootstrapResult{schema: schema, isFresh: isFresh, pendingIndex: pending}, nil
}

func checkReadOnly(ctx context.Context, p *pgxpool.Pool, schema string) (bool, error) {
	var exists bool
	q := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = 1)", pgx.Identifier{schema, "read_only"}.Sanitize())
	if err := p.QueryRow(ctx, q).Scan(&exists); err != nil {
		return false, fmt.Errorf("convexpg: check read-only flag: %w", err)
	}
	return exists, nil
}

func isDocumentsTableEmpty(ctx context.Context, p *pgxpool.Pool, schema string) (bool, error) {
	var anyRow bool
	q := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s LIMIT 1)", pgx.Identifier{schema, "documents"}.Sanitize())
	if err := p.QueryRow(ctx, q).Scan(&anyRow); err != nil {
		return false, fmt.Errorf("convexpg: check documents table emptiness: %w", err)
	}
	return !anyRow, nil
}

// truncateForError truncates a string for use in error messages, the
// same cosmetic helper the teacher's schema-init path uses.
func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// isOnlyComments reports whether stmt has no non-comment content; kept
// for parity with the teacher's splitter even though this package's
// statements are never split from a single script string (each is
// authored as its own Go string literal above).
func isOnlyComments(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}
