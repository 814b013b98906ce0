package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/record"
)

func newTestSegment(t *testing.T, baseOffset uint64, cfg IndexingConfig) (*Segment, Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := Paths{
		Log:       filepath.Join(dir, "00000000000000000000.log"),
		Index:     filepath.Join(dir, "00000000000000000000.index"),
		TimeIndex: filepath.Join(dir, "00000000000000000000.timeindex"),
	}
	s, err := New(baseOffset, paths, SyncImmediate, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, paths
}

func TestAppendRecordAssignsAndReads(t *testing.T) {
	s, _ := newTestSegment(t, 0, DefaultIndexingConfig())

	require.NoError(t, s.AppendRecord(record.Record{Value: []byte("a")}, 0))
	require.NoError(t, s.AppendRecord(record.Record{Value: []byte("b")}, 1))

	mo, ok := s.MaxOffset()
	require.True(t, ok)
	require.Equal(t, uint64(1), mo)
	require.Equal(t, uint64(2), s.RecordCount())
	require.True(t, s.ContainsOffset(0))
	require.True(t, s.ContainsOffset(1))
	require.False(t, s.ContainsOffset(2))
}

func TestAppendRecordsBulkSharesTimestamp(t *testing.T) {
	s, _ := newTestSegment(t, 0, DefaultIndexingConfig())

	recs := []record.Record{{Value: []byte("a")}, {Value: []byte("b")}, {Value: []byte("c")}}
	last, err := s.AppendRecordsBulk(recs, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, uint64(3), s.RecordCount())
}

func TestAppendRecordsBulkRejectsEmpty(t *testing.T) {
	s, _ := newTestSegment(t, 0, DefaultIndexingConfig())
	_, err := s.AppendRecordsBulk(nil, 0)
	require.Error(t, err)
}

func TestSparseIndexEmittedAtThreshold(t *testing.T) {
	cfg := IndexingConfig{IndexIntervalBytes: 1, IndexIntervalRecords: 1, TimeSeekBackBytes: 1}
	s, _ := newTestSegment(t, 0, cfg)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, s.AppendRecord(record.Record{Value: []byte("x")}, i))
	}
	require.Greater(t, s.offsetIndex.EntryCount(), 0)
	require.Equal(t, uint32(0), s.FindPositionForOffset(0))
}

func TestRecoverRebuildsFromLogWhenIndexMissing(t *testing.T) {
	cfg := IndexingConfig{IndexIntervalBytes: 1, IndexIntervalRecords: 1, TimeSeekBackBytes: 1}
	s, paths := newTestSegment(t, 0, cfg)
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, s.AppendRecord(record.Record{Value: []byte("x")}, i))
	}
	require.NoError(t, s.Close())

	require.NoError(t, os.Remove(paths.Index))
	require.NoError(t, os.Remove(paths.TimeIndex))

	recovered, err := Recover(0, paths, SyncImmediate, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = recovered.Close() })

	mo, ok := recovered.MaxOffset()
	require.True(t, ok)
	require.Equal(t, uint64(2), mo)
	require.Greater(t, recovered.offsetIndex.EntryCount(), 0)
}

// TestWALCommitThresholdDelaysIndexFileWrites exercises the
// wal_commit_threshold group-commit knob: under a non-immediate sync
// mode, the on-disk .index file should not gain bytes until enough
// sparse-index entries have accumulated to cross the threshold, even
// though in-memory lookups reflect every entry immediately.
func TestWALCommitThresholdDelaysIndexFileWrites(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		Log:       filepath.Join(dir, "00000000000000000000.log"),
		Index:     filepath.Join(dir, "00000000000000000000.index"),
		TimeIndex: filepath.Join(dir, "00000000000000000000.timeindex"),
	}
	cfg := IndexingConfig{IndexIntervalBytes: 1, IndexIntervalRecords: 1, TimeSeekBackBytes: 1, WALCommitThreshold: 3}
	s, err := New(0, paths, SyncPeriodic, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := uint64(0); i < 2; i++ {
		require.NoError(t, s.AppendRecord(record.Record{Value: []byte("x")}, i))
	}
	require.Equal(t, uint64(2), s.pendingIndexEntries)
	fi, err := os.Stat(paths.Index)
	require.NoError(t, err)
	require.Zero(t, fi.Size())
	require.Equal(t, 2, s.offsetIndex.EntryCount())

	require.NoError(t, s.AppendRecord(record.Record{Value: []byte("x")}, 2))
	require.Equal(t, uint64(0), s.pendingIndexEntries)
	fi, err = os.Stat(paths.Index)
	require.NoError(t, err)
	require.Greater(t, fi.Size(), int64(0))
}
