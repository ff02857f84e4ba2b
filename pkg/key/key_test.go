package key

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareOrdersByUserKeyThenDescendingTimestamp(t *testing.T) {
	a := New(UserKey("a"), 5)
	b := New(UserKey("a"), 10)
	c := New(UserKey("b"), 1)

	require.True(t, Less(b, a), "higher ts for same key sorts first")
	require.True(t, Less(a, c), "lexicographically smaller user key sorts first")
	require.False(t, Less(a, a))
}

func TestEqualAndSameUserKey(t *testing.T) {
	a := New(UserKey("k"), 1)
	b := New(UserKey("k"), 1)
	c := New(UserKey("k"), 2)

	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
	require.True(t, SameUserKey(a, c))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := New(UserKey("hello"), 0xdeadbeef)
	encoded := Encode(orig)
	got := Decode(encoded, len(orig.UserKey))

	require.Equal(t, orig.UserKey, got.UserKey)
	require.Equal(t, orig.Timestamp, got.Timestamp)
}
