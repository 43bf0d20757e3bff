package persistence

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitShortKey(t *testing.T) {
	key := []byte("short-key")
	sk := Split(key)
	require.Equal(t, key, sk.Prefix)
	require.Nil(t, sk.Suffix)
	require.False(t, sk.HasSuffix())
	require.Equal(t, key, sk.FullKey())
}

func TestSplitExactlyAtPrefixLen(t *testing.T) {
	key := bytes.Repeat([]byte{'a'}, MaxIndexKeyPrefixLen)
	sk := Split(key)
	require.Len(t, sk.Prefix, MaxIndexKeyPrefixLen)
	require.False(t, sk.HasSuffix())
	require.Equal(t, key, sk.FullKey())
}

func TestSplitLongKey(t *testing.T) {
	key := append(bytes.Repeat([]byte{'a'}, MaxIndexKeyPrefixLen), []byte("tail")...)
	sk := Split(key)
	require.Len(t, sk.Prefix, MaxIndexKeyPrefixLen)
	require.Equal(t, []byte("tail"), sk.Suffix)
	require.True(t, sk.HasSuffix())
	require.Equal(t, key, sk.FullKey())
}

func TestSplitDeterministicSHA(t *testing.T) {
	key := []byte("some key")
	a := Split(key)
	b := Split(key)
	require.Equal(t, a.SHA256, b.SHA256)

	other := Split([]byte("some other key"))
	require.NotEqual(t, a.SHA256, other.SHA256)
}

func TestMinMaxWithSamePrefix(t *testing.T) {
	longKey := append(bytes.Repeat([]byte{'b'}, MaxIndexKeyPrefixLen), []byte("xyz")...)
	minPrefix, minSHA := MinWithSamePrefix(longKey)
	maxPrefix, maxSHA := MaxWithSamePrefix(longKey)

	require.Equal(t, minPrefix, maxPrefix)
	require.Equal(t, [32]byte{}, minSHA)
	for _, b := range maxSHA {
		require.Equal(t, byte(0xff), b)
	}
}
