package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/segment"
)

func writeGarbageOverGroupFile(dir, groupID string) error {
	path := filepath.Join(dir, consumerGroupsDirName, groupID+".json")
	return os.WriteFile(path, []byte("{not valid json"), 0o644)
}

func TestOffsetStoreMonotonicCommit(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOffsetStore(dir, "g", segment.SyncImmediate, nil)
	require.NoError(t, err)

	require.Equal(t, uint64(0), s.LoadSnapshot("t", 0))

	ok, err := s.PersistSnapshot("t", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.PersistSnapshot("t", 0, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(5), s.LoadSnapshot("t", 0))

	ok, err = s.PersistSnapshot("t", 0, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.PersistSnapshot("t", 0, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), s.LoadSnapshot("t", 0))
}

func TestOffsetStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOffsetStore(dir, "g", segment.SyncImmediate, nil)
	require.NoError(t, err)
	_, err = s.PersistSnapshot("t", 0, 2)
	require.NoError(t, err)

	reopened, err := NewOffsetStore(dir, "g", segment.SyncImmediate, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), reopened.LoadSnapshot("t", 0))
}

func TestOffsetStoreCorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewOffsetStore(dir, "g", segment.SyncImmediate, nil)
	require.NoError(t, err)
	_, err = s.PersistSnapshot("t", 0, 2)
	require.NoError(t, err)

	require.NoError(t, writeGarbageOverGroupFile(dir, "g"))

	reopened, err := NewOffsetStore(dir, "g", segment.SyncImmediate, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), reopened.LoadSnapshot("t", 0))
}
