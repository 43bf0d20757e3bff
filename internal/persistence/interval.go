package persistence

import "bytes"

// BoundType classifies one side of a scan Interval.
type BoundType int

const (
	BoundUnbounded BoundType = iota
	BoundIncluded
	BoundExcluded
)

// Bound is one edge of a half-open interval over logical index keys.
type Bound struct {
	Type BoundType
	Key  []byte // unused when Type == BoundUnbounded
}

// Interval is a range over logical index keys. Each side's Type governs
// whether its Key is itself included; the common half-open [start, end)
// form is an Included Lower with an Excluded Upper. The scan engine
// always resolves Lower to an inclusive physical bound and post-filters
// rows with Contains.
type Interval struct {
	Lower Bound
	Upper Bound
}

// Contains reports whether key falls within the interval, used as the
// scan engine's post-filter for the superset physical range produced for
// long keys (§4.5).
func (iv Interval) Contains(key []byte) bool {
	switch iv.Lower.Type {
	case BoundIncluded:
		if bytes.Compare(key, iv.Lower.Key) < 0 {
			return false
		}
	case BoundExcluded:
		if bytes.Compare(key, iv.Lower.Key) <= 0 {
			return false
		}
	}
	switch iv.Upper.Type {
	case BoundIncluded:
		if bytes.Compare(key, iv.Upper.Key) > 0 {
			return false
		}
	case BoundExcluded:
		if bytes.Compare(key, iv.Upper.Key) >= 0 {
			return false
		}
	}
	return true
}

// Unbounded is the interval matching every key.
func Unbounded() Interval {
	return Interval{Lower: Bound{Type: BoundUnbounded}, Upper: Bound{Type: BoundUnbounded}}
}
