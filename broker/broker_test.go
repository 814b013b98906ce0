package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/flashqcfg"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/storage"
)

func newMemoryBroker(t *testing.T) *Broker {
	t.Helper()
	backend, err := storage.NewBackend(flashqcfg.StorageConfig{Backend: "memory"}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return New(backend, nil)
}

func TestBrokerProduceConsumeCommit(t *testing.T) {
	b := newMemoryBroker(t)

	last, err := b.PostRecords("t", []record.Record{
		{Value: []byte("a")},
		{Value: []byte("b")},
		{Value: []byte("c")},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)
	require.Equal(t, uint64(3), b.GetHighWaterMark("t"))

	got, err := b.PollRecordsFromOffset("t", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.NoError(t, b.CreateConsumerGroup("g"))
	ok, err := b.UpdateConsumerGroupOffset("g", "t", 2)
	require.NoError(t, err)
	require.True(t, ok)

	offset, err := b.GetConsumerGroupOffset("g", "t")
	require.NoError(t, err)
	require.Equal(t, uint64(2), offset)
}

func TestBrokerUnknownTopicReturnsZeroHighWaterMark(t *testing.T) {
	b := newMemoryBroker(t)
	require.Equal(t, uint64(0), b.GetHighWaterMark("missing"))
	got, err := b.PollRecordsFromOffset("missing", 0, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBrokerPartitionQueries(t *testing.T) {
	b := newMemoryBroker(t)
	_, err := b.PostRecords("t", []record.Record{{Value: []byte("a")}})
	require.NoError(t, err)

	hwm, err := b.GetHighWaterMarkPartition("t", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), hwm)

	_, err = b.GetHighWaterMarkPartition("t", 1)
	require.Error(t, err)

	leader, err := b.IsPartitionLeader("t", 0)
	require.NoError(t, err)
	require.True(t, leader)

	require.NoError(t, b.AcknowledgeReplication("t", 0, 1))
	require.NoError(t, b.InitiateShutdown())
}
