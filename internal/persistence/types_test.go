package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIDIsNonZeroAndUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	require.False(t, a.IsZero())
	require.False(t, b.IsZero())
	require.NotEqual(t, a, b)
}

func TestIDStringIsHex(t *testing.T) {
	var id ID
	id[0] = 0xab
	require.Equal(t, "ab000000000000000000000000000000", id.String())
}

func TestConflictStrategyString(t *testing.T) {
	require.Equal(t, "error", ConflictError.String())
	require.Equal(t, "overwrite", ConflictOverwrite.String())
}
