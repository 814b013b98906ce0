package file

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

func newTestTopicLog(t *testing.T, dir string) *TopicLog {
	t.Helper()
	tl := NewTopicLog(dir, "t", 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

func TestTopicLogRoutesByPartition(t *testing.T) {
	dir := t.TempDir()
	tl := newTestTopicLog(t, dir)

	off0, err := tl.Append(0, record.Record{Value: []byte("a")})
	require.NoError(t, err)
	require.Equal(t, uint64(0), off0)

	off1, err := tl.Append(1, record.Record{Value: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, uint64(0), off1)

	require.Equal(t, uint64(1), tl.HighWaterMark())
	hwm1, ok := tl.PartitionNextOffset(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), hwm1)

	require.ElementsMatch(t, []uint32{0, 1}, tl.Partitions())
}

func TestTopicLogRecoversPartitionsFromDisk(t *testing.T) {
	dir := t.TempDir()
	tl := NewTopicLog(dir, "t", 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	for i := 0; i < 3; i++ {
		_, err := tl.Append(0, record.Record{Value: []byte("a")})
		require.NoError(t, err)
	}
	require.NoError(t, tl.Close())

	recovered, err := RecoverTopicLog(dir, "t", 1<<30, 1<<20, segment.SyncImmediate, segment.DefaultIndexingConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = recovered.Close() })

	require.Equal(t, uint64(3), recovered.HighWaterMark())
}
