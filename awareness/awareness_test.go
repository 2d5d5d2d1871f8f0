package awareness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyIgnoresStaleClock(t *testing.T) {
	s := New()
	s.Apply("c1", 5, []byte("new"))
	s.Apply("c1", 3, []byte("old"))

	e, ok := s.Get("c1")
	require.True(t, ok)
	require.Equal(t, []byte("new"), e.State)
}

func TestApplyAcceptsNewerClock(t *testing.T) {
	s := New()
	s.Apply("c1", 1, []byte("v1"))
	s.Apply("c1", 2, []byte("v2"))

	e, ok := s.Get("c1")
	require.True(t, ok)
	require.Equal(t, []byte("v2"), e.State)
}

func TestRemoveDropsClient(t *testing.T) {
	s := New()
	s.Apply("c1", 1, []byte("x"))
	s.Remove("c1")
	_, ok := s.Get("c1")
	require.False(t, ok)
}

func TestEncodeApplyEncodedRoundTrip(t *testing.T) {
	a := New()
	a.Apply("c1", 1, []byte("hello"))
	a.Apply("c2", 4, []byte("world"))

	b := New()
	require.NoError(t, b.ApplyEncoded(a.Encode()))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, []byte("hello"), snap["c1"].State)
	require.Equal(t, []byte("world"), snap["c2"].State)
}

func TestApplyEncodedMergesNotReplaces(t *testing.T) {
	a := New()
	a.Apply("c1", 1, []byte("v1"))
	remote := New()
	remote.Apply("c2", 1, []byte("v2"))

	require.NoError(t, a.ApplyEncoded(remote.Encode()))
	require.Len(t, a.Snapshot(), 2)
}
