package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntervalUnboundedContainsEverything(t *testing.T) {
	iv := Unbounded()
	require.True(t, iv.Contains([]byte{}))
	require.True(t, iv.Contains([]byte("anything")))
}

func TestIntervalIncludedBounds(t *testing.T) {
	iv := Interval{
		Lower: Bound{Type: BoundIncluded, Key: []byte("b")},
		Upper: Bound{Type: BoundIncluded, Key: []byte("d")},
	}
	require.False(t, iv.Contains([]byte("a")))
	require.True(t, iv.Contains([]byte("b")))
	require.True(t, iv.Contains([]byte("c")))
	require.True(t, iv.Contains([]byte("d")))
	require.False(t, iv.Contains([]byte("e")))
}

func TestIntervalExcludedBounds(t *testing.T) {
	iv := Interval{
		Lower: Bound{Type: BoundExcluded, Key: []byte("b")},
		Upper: Bound{Type: BoundExcluded, Key: []byte("d")},
	}
	require.False(t, iv.Contains([]byte("b")))
	require.True(t, iv.Contains([]byte("c")))
	require.False(t, iv.Contains([]byte("d")))
}

func TestIntervalHalfOpenDefault(t *testing.T) {
	// [start, end): the common case this scan engine is built around.
	iv := Interval{
		Lower: Bound{Type: BoundIncluded, Key: []byte("m")},
		Upper: Bound{Type: BoundExcluded, Key: []byte("m\xff")},
	}
	require.True(t, iv.Contains([]byte("m")))
	require.True(t, iv.Contains([]byte("m\x00")))
	require.False(t, iv.Contains([]byte("m\xff")))
}
