package pg

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the OTel tracer for SQL-level spans. Uses the global
// provider, which is a no-op until the host process installs a real one.
var tracer = otel.Tracer("github.com/sadroad/convex-pg/persistence/pg")

// metrics holds the OTel instruments for one Store/Reader pair. Each
// Store owns its own instance so retry counts and lease-wait histograms
// can carry per-backend attributes if the host wants dimensional data
// later; today they're registered against the shared global meter.
type metrics struct {
	retryCount       metric.Int64Counter
	leaseWaitMs      metric.Float64Histogram
	scanBufferedRows metric.Int64Counter
}

var meter = otel.Meter("github.com/sadroad/convex-pg/persistence/pg")

func newMetrics() *metrics {
	m := &metrics{}
	m.retryCount, _ = meter.Int64Counter("convexpg.retry_count",
		metric.WithDescription("SQL operations retried due to transient errors"),
		metric.WithUnit("{retry}"),
	)
	m.leaseWaitMs, _ = meter.Float64Histogram("convexpg.lease_wait_ms",
		metric.WithDescription("Time spent waiting on lease acquisition or transact preconditions"),
		metric.WithUnit("ms"),
	)
	m.scanBufferedRows, _ = meter.Int64Counter("convexpg.scan_buffered_rows",
		metric.WithDescription("Rows held in the long-key reorder buffer during an index scan"),
		metric.WithUnit("{row}"),
	)
	return m
}

// spanAttrs returns the fixed attributes shared by all SQL spans for a
// given schema.
func spanAttrs(schema string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.convexpg.schema", schema),
	}
}

// spanSQL truncates a SQL string to keep spans readable.
func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

// endSpan records an error (if any) and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
