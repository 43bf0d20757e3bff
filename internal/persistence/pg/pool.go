// Package pg implements the persistence contract (see the parent
// internal/persistence package) on PostgreSQL via pgx/v5. It supplies
// the MVCC document log, the secondary-index log, the database-resident
// single-writer lease, and the paginated, retention-validated scan
// engines the persistence package's interfaces describe.
package pg

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds construction-time options, per §6.
type Config struct {
	// URL is the connection string; must name a read-write target.
	URL string

	// Schema is an optional explicit schema name. Defaults to the
	// session's current_schema() when empty.
	Schema string

	// AllowReadOnly permits construction to proceed even when the
	// read-only flag row is present.
	AllowReadOnly bool

	// Version is an opaque persistence-version tag, "convexpg-1" when
	// empty. A Reader does not read it: Reader.Version() returns the
	// version passed to NewReader.
	Version string

	// SkipIndexCreation defers CREATE INDEX statements to a later
	// FinishLoading call.
	SkipIndexCreation bool

	// ShutdownSignal is invoked when the lease is lost.
	ShutdownSignal interface{ Signal(reason error) }

	// MaxConns bounds the pgxpool pool size. Zero uses the pgxpool
	// default.
	MaxConns int32
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "convexpg-1"
	}
}

// pool wraps a pgxpool.Pool with the retry/tracing wrappers every other
// package in this module composes with.
type pool struct {
	pgx     *pgxpool.Pool
	schema  string
	metrics *metrics
}

func newPool(ctx context.Context, cfg *Config, m *metrics) (*pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("convexpg: parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	if err := applyTLSConfig(poolCfg); err != nil {
		return nil, err
	}

	pp, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("convexpg: open pool: %w", err)
	}
	if err := pp.Ping(ctx); err != nil {
		pp.Close()
		return nil, fmt.Errorf("convexpg: ping: %w", err)
	}
	return &pool{pgx: pp, metrics: m}, nil
}

// applyTLSConfig wires PG_CA_FILE additional trust roots and warns (per
// §7's WARN-level logging requirement) when SSLKEYLOGFILE is set.
func applyTLSConfig(poolCfg *pgxpool.Config) error {
	if keylog := os.Getenv("SSLKEYLOGFILE"); keylog != "" {
		log.Printf("WARN: convexpg: SSLKEYLOGFILE is set (%s); TLS secrets will be logged, debug use only", keylog)
	}

	caFile := os.Getenv("PG_CA_FILE")
	if caFile == "" {
		return nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return fmt.Errorf("convexpg: read PG_CA_FILE: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("convexpg: PG_CA_FILE contains no usable certificates")
	}
	if poolCfg.ConnConfig.TLSConfig == nil {
		poolCfg.ConnConfig.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	poolCfg.ConnConfig.TLSConfig.RootCAs = pool
	return nil
}

func (p *pool) Close() {
	p.pgx.Close()
}

// exec runs a statement with span instrumentation and transient-error
// retry, mirroring the teacher's execContext wrapper.
func (p *pool) exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, span := tracer.Start(ctx, "convexpg.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(p.schema),
			attribute.String("db.operation", "exec"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	var n int64
	err := withRetry(ctx, p.metrics, func() error {
		tag, execErr := p.pgx.Exec(ctx, query, args...)
		if execErr == nil {
			n = tag.RowsAffected()
		}
		return execErr
	})
	endSpan(span, err)
	return n, err
}

// query runs a statement returning rows; the caller must Close() the
// result.
func (p *pool) query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	ctx, span := tracer.Start(ctx, "convexpg.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(p.schema),
			attribute.String("db.operation", "query"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	var rows pgx.Rows
	err := withRetry(ctx, p.metrics, func() error {
		var queryErr error
		rows, queryErr = p.pgx.Query(ctx, query, args...)
		return queryErr
	})
	endSpan(span, err)
	return rows, err
}

// queryRow runs a statement expected to return at most one row.
func (p *pool) queryRow(ctx context.Context, scan func(pgx.Row) error, query string, args ...any) error {
	ctx, span := tracer.Start(ctx, "convexpg.query_row",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(p.schema),
			attribute.String("db.operation", "query_row"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	err := withRetry(ctx, p.metrics, func() error {
		return scan(p.pgx.QueryRow(ctx, query, args...))
	})
	endSpan(span, err)
	return err
}

// txExec runs a statement on an already-open transaction with the same
// span instrumentation as pool.exec, but no retry — a transaction's
// connection cannot be transparently swapped mid-flight, so a transient
// error here is returned to the caller. Lease.Transact's one retry
// covers only opening the transaction, not statements run inside it.
func txExec(ctx context.Context, schema string, tx pgx.Tx, query string, args ...any) (int64, error) {
	ctx, span := tracer.Start(ctx, "convexpg.tx_exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(schema),
			attribute.String("db.operation", "exec"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	tag, err := tx.Exec(ctx, query, args...)
	endSpan(span, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func txQuery(ctx context.Context, schema string, tx pgx.Tx, query string, args ...any) (pgx.Rows, error) {
	ctx, span := tracer.Start(ctx, "convexpg.tx_query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(schema),
			attribute.String("db.operation", "query"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	rows, err := tx.Query(ctx, query, args...)
	endSpan(span, err)
	return rows, err
}

func txQueryRow(ctx context.Context, schema string, tx pgx.Tx, scan func(pgx.Row) error, query string, args ...any) error {
	ctx, span := tracer.Start(ctx, "convexpg.tx_query_row",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(schema),
			attribute.String("db.operation", "query_row"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	err := scan(tx.QueryRow(ctx, query, args...))
	endSpan(span, err)
	return err
}

// resolveSchema implements step 1-2 of Bootstrap (§4.8): use the
// explicit schema if given (creating it if absent), otherwise ask the
// session for current_schema().
func resolveSchema(ctx context.Context, p *pgxpool.Pool, explicit string) (string, error) {
	if explicit == "" {
		var schema string
		if err := p.QueryRow(ctx, "SELECT current_schema()").Scan(&schema); err != nil {
			return "", fmt.Errorf("convexpg: resolve current_schema: %w", err)
		}
		return schema, nil
	}

	if err := backoff.Retry(func() error {
		_, err := p.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{explicit}.Sanitize()))
		if err != nil && isCatalogRace(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newRetryBackoff(), ctx)); err != nil {
		return "", fmt.Errorf("convexpg: create schema %s: %w", explicit, err)
	}
	return explicit, nil
}

// isCatalogRace matches the Postgres-equivalent of the Dolt "unknown
// database" catalog race: a schema just created by a concurrent
// bootstrapper that this session's catalog snapshot hasn't observed yet.
func isCatalogRace(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "does not exist")
}
