package pg

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sadroad/convex-pg/internal/persistence"
)

// lease is the database-resident single-writer token of §4.2. It owns
// the monotonic timestamp it acquired and the shutdown hook fired when a
// later acquirer steals the row out from under it.
type lease struct {
	pool     *pgxpool.Pool
	q        *queries
	schema   string
	m        *metrics
	self     persistence.TS
	shutdown interface{ Signal(reason error) }
	lost     bool
}

// acquireLease reads wall-clock nanoseconds as the candidate timestamp
// and conditionally updates the singleton lease row. Fail-fast per the
// decision recorded in DESIGN.md: zero rows updated is a terminal
// ErrAlreadyAcquired, never a retry loop or a block.
func acquireLease(ctx context.Context, pool *pgxpool.Pool, q *queries, schema string, m *metrics, shutdown interface{ Signal(reason error) }, nowNanos func() persistence.TS) (*lease, error) {
	candidate := nowNanos()

	ctx, span := tracer.Start(ctx, "convexpg.lease_acquire",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(spanAttrs(schema),
			attribute.String("db.operation", "exec"),
			attribute.Int64("convexpg.lease.candidate_ts", candidate),
		)...),
	)
	tag, err := pool.Exec(ctx, q.leaseAcquire, candidate)
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("convexpg: lease acquire: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, persistence.ErrAlreadyAcquired
	}

	log.Printf("INFO: convexpg: lease acquired ts=%d schema=%s", candidate, schema)

	return &lease{pool: pool, q: q, schema: schema, m: m, self: candidate, shutdown: shutdown}, nil
}

// Transact implements §4.2's transact(f): open a transaction (retrying
// once on a poisoned pre-transaction connection), run the advisory check
// and then f on that same connection, and on success run the deferred
// FOR SHARE precondition check before committing. The advisory check and
// f cannot be pipelined onto one pgx.Tx — pgx does not support concurrent
// command issuance on a single connection (store.go's document/index
// insert pipelining hits the same constraint and is serialized for the
// same reason) — so the two run one after the other instead of racing on
// tx, trading the original's concurrency for correctness. Any lease-lost
// is terminal: the lease is marked lost and the shutdown hook fires
// exactly once.
func (l *lease) Transact(ctx context.Context, f func(ctx context.Context, tx pgx.Tx) error) error {
	if l.lost {
		return persistence.ErrLeaseLost
	}

	tx, err := l.beginWithOneRetry(ctx)
	if err != nil {
		return fmt.Errorf("convexpg: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if advisoryErr := txQueryRow(ctx, l.schema, tx, func(row pgx.Row) error {
		var one int
		return row.Scan(&one)
	}, l.q.leaseCheck, l.self); advisoryErr != nil {
		l.markLost(advisoryErr)
		return persistence.ErrLeaseLost
	}

	if fErr := f(ctx, tx); fErr != nil {
		return fErr
	}

	if err := txQueryRow(ctx, l.schema, tx, func(row pgx.Row) error {
		var one int
		return row.Scan(&one)
	}, l.q.leasePrecondition, l.self); err != nil {
		l.markLost(err)
		return persistence.ErrLeaseLost
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convexpg: commit: %w", err)
	}
	committed = true
	return nil
}

// beginWithOneRetry opens a transaction, retrying exactly once if the
// first attempt fails with a transient/poisoned-connection error — the
// one-retry rule of §5's failure domains ("at most one reconnection
// inside Lease.transact").
func (l *lease) beginWithOneRetry(ctx context.Context) (pgx.Tx, error) {
	tx, err := l.pool.Begin(ctx)
	if err == nil {
		return tx, nil
	}
	if !isRetryableError(err) {
		return nil, err
	}
	return l.pool.Begin(ctx)
}

func (l *lease) markLost(cause error) {
	if l.lost {
		return
	}
	l.lost = true
	if l.shutdown != nil {
		l.shutdown.Signal(wrapLeaseLost(cause.Error()))
	}
}

// Lost reports whether this lease instance has observed a lease-lost
// condition. Terminal: callers must reconstruct a new Lease.
func (l *lease) Lost() bool {
	return l.lost
}
