package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffsetStoreMonotonicCommit(t *testing.T) {
	s := NewOffsetStore()

	require.Equal(t, uint64(0), s.LoadSnapshot("t", 0))

	ok, err := s.PersistSnapshot("t", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.PersistSnapshot("t", 0, 3)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.PersistSnapshot("t", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)

	snaps := s.GetAllSnapshots()
	require.Equal(t, uint64(5), snaps["t--0"])
}
