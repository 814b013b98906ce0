package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/flashq/cluster/manifest"
	"github.com/grafana/flashq/cluster/metadata"
)

func seedService(t *testing.T) *Service {
	t.Helper()
	store := metadata.New(t.TempDir(), time.Second, nil)
	m := &manifest.Manifest{
		Brokers: []manifest.Broker{{ID: 1, Host: "a", Port: 9000}, {ID: 2}, {ID: 3}},
		Topics: map[string]manifest.TopicManifest{
			"t0": {
				Partitions: []manifest.PartitionAssignment{
					{ID: 0, Leader: 1, Replicas: []uint32{1, 2, 3}, InSyncReplicas: []uint32{1, 2}, Epoch: 5},
				},
			},
		},
	}
	require.NoError(t, store.LoadFromManifest(m))
	return New(store, 1, nil)
}

func TestHeartbeatUpdatesISR(t *testing.T) {
	svc := seedService(t)

	_, err := svc.HandleHeartbeat(HeartbeatRequest{
		BrokerID: 1,
		Partitions: []PartitionHeartbeat{
			{Topic: "t0", Partition: 0, CurrentInSyncReplicas: []uint32{1, 2, 3}},
		},
	})
	require.NoError(t, err)

	isr, err := svc.store.GetInSyncReplicas("t0", 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{1, 2, 3}, isr)
}

func TestHeartbeatSkipsInvalidISREntry(t *testing.T) {
	svc := seedService(t)

	_, err := svc.HandleHeartbeat(HeartbeatRequest{
		BrokerID: 1,
		Partitions: []PartitionHeartbeat{
			{Topic: "t0", Partition: 0, CurrentInSyncReplicas: []uint32{1, 99}},
		},
	})
	require.NoError(t, err)

	isr, err := svc.store.GetInSyncReplicas("t0", 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{1, 2}, isr)
}

func TestReportPartitionStatusBumpsEpochOnLeaderChange(t *testing.T) {
	svc := seedService(t)

	resp, err := svc.ReportPartitionStatus(ReportPartitionStatusRequest{
		Topic:          "t0",
		Partition:      0,
		Leader:         2,
		InSyncReplicas: []uint32{1, 2},
		HighWaterMark:  10,
		LogStartOffset: 0,
	})
	require.NoError(t, err)
	require.True(t, resp.Accepted)

	epoch, err := svc.store.GetPartitionEpoch("t0", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(6), epoch)
}

func TestReportPartitionStatusFailsFastOnInvalidReplica(t *testing.T) {
	svc := seedService(t)

	_, err := svc.ReportPartitionStatus(ReportPartitionStatusRequest{
		Topic:          "t0",
		Partition:      0,
		Leader:         1,
		InSyncReplicas: []uint32{1, 99},
	})
	require.Error(t, err)
}

func TestDescribeCluster(t *testing.T) {
	svc := seedService(t)
	require.NoError(t, svc.store.RecordBrokerHeartbeat(1, time.Now(), false))

	resp := svc.DescribeCluster()
	require.Equal(t, uint32(1), resp.ControllerID)
	require.Len(t, resp.Brokers, 3)
	require.Len(t, resp.Topics, 1)
}
