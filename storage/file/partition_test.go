package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

func newTestPartition(t *testing.T) *Partition {
	t.Helper()
	dir := t.TempDir()
	p, err := NewPartition(dir, 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPartitionAppendAssignsContiguousOffsets(t *testing.T) {
	p := newTestPartition(t)

	for i, v := range []string{"a", "b", "c"} {
		offset, err := p.Append(record.Record{Value: []byte(v)})
		require.NoError(t, err)
		require.Equal(t, uint64(i), offset)
	}
	require.Equal(t, uint64(3), p.NextOffset())
	require.Equal(t, uint64(3), p.RecordCount())

	got, err := p.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		require.Equal(t, uint64(i), r.Offset)
	}
}

func TestPartitionReadBoundaries(t *testing.T) {
	p := newTestPartition(t)
	for _, v := range []string{"a", "b", "c"} {
		_, err := p.Append(record.Record{Value: []byte(v)})
		require.NoError(t, err)
	}

	got, err := p.Read(p.NextOffset(), 0)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = p.Read(p.NextOffset()+100, 0)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = p.Read(1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(1), got[0].Offset)
}

func TestPartitionAppendBatchEmptyReturnsNextOffset(t *testing.T) {
	p := newTestPartition(t)
	_, err := p.Append(record.Record{Value: []byte("a")})
	require.NoError(t, err)

	next, err := p.AppendBatch(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)
	require.Equal(t, uint64(1), p.RecordCount())
}

func TestPartitionAppendBatchSharesTimestamp(t *testing.T) {
	p := newTestPartition(t)
	batch := []record.Record{
		{Value: []byte("a")},
		{Value: []byte("b")},
		{Value: []byte("c")},
	}
	last, err := p.AppendBatch(batch)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	got, err := p.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.Equal(t, got[0].Timestamp, got[i].Timestamp)
	}
}

func TestPartitionRecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartition(dir, 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	for _, v := range []string{"a", "b", "c"} {
		_, err := p.Append(record.Record{Value: []byte(v)})
		require.NoError(t, err)
	}
	require.NoError(t, p.Close())

	reopened, err := RecoverPartition(dir, 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	require.Equal(t, uint64(3), reopened.NextOffset())
	got, err := reopened.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

// TestPartitionRecoverRebuildsOversizedTimeIndex overwrites the time
// index with more entries than the bounded reader accepts; reopening
// the partition must rebuild it from the log and keep time-based reads
// working.
func TestPartitionRecoverRebuildsOversizedTimeIndex(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartition(dir, 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	for _, v := range []string{"a", "b"} {
		_, err := p.Append(record.Record{Value: []byte(v)})
		require.NoError(t, err)
	}
	require.NoError(t, p.Close())

	timeIndexPath := filepath.Join(dir, segmentFilename(0, timeIndexExt))
	oversized := make([]byte, 12*(1_000_001))
	require.NoError(t, os.WriteFile(timeIndexPath, oversized, 0o644))

	reopened, err := RecoverPartition(dir, 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	first, err := reopened.Read(0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	got, err := reopened.ReadFromTimestamp(first[0].Timestamp, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
}

func TestPartitionSegmentRoll(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPartition(dir, 64, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	for i := 0; i < 10; i++ {
		_, err := p.Append(record.Record{Value: []byte("0123456789012345678901234567890123456789")})
		require.NoError(t, err)
	}

	got, err := p.Read(0, 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, r := range got {
		require.Equal(t, uint64(i), r.Offset)
	}
}
