// Package service implements the cluster service: translates
// heartbeat and partition-status RPC shapes into cluster/metadata
// mutations and broker façade queries, and projects describe-cluster
// snapshots. Transport (gRPC/HTTP) is an external collaborator; this
// package only defines the request/response shapes and the pure
// translation logic a transport handler calls into.
package service

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/cluster/metadata"
	"github.com/grafana/flashq/flashqerr"
)

// Service is the cluster service, holding a shared handle to the
// metadata store (never the reverse), per the shallow-DAG design note.
type Service struct {
	store        *metadata.Store
	controllerID uint32
	logger       log.Logger

	now func() time.Time
}

// New constructs a cluster service whose controller identity is
// controllerID, the broker under which it was constructed.
func New(store *metadata.Store, controllerID uint32, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{store: store, controllerID: controllerID, logger: logger, now: time.Now}
}

// --- Describe cluster ---

// BrokerInfo is one broker's describe-cluster projection.
type BrokerInfo struct {
	BrokerID      uint32
	Host          string
	Port          uint16
	IsAlive       bool
	LastHeartbeat time.Time
}

// PartitionInfo is one partition's describe-cluster projection.
type PartitionInfo struct {
	ID             uint32
	Leader         uint32
	Replicas       []uint32
	InSyncReplicas []uint32
	Epoch          uint64
}

// TopicInfo is one topic's describe-cluster projection.
type TopicInfo struct {
	Topic      string
	Partitions []PartitionInfo
}

// DescribeClusterResponse is the projected cluster snapshot returned
// by DescribeCluster.
type DescribeClusterResponse struct {
	Brokers      []BrokerInfo
	Topics       []TopicInfo
	ControllerID uint32
}

// DescribeCluster projects the manifest plus derived liveness into the
// describe-cluster response shape.
func (s *Service) DescribeCluster() DescribeClusterResponse {
	statuses := s.store.ListBrokersWithStatus(s.now())
	brokers := make([]BrokerInfo, 0, len(statuses))
	for _, st := range statuses {
		brokers = append(brokers, BrokerInfo{
			BrokerID:      st.Broker.ID,
			Host:          st.Broker.Host,
			Port:          st.Broker.Port,
			IsAlive:       st.IsAlive,
			LastHeartbeat: st.LastHeartbeat,
		})
	}

	m := s.store.ExportToManifest()
	topics := make([]TopicInfo, 0, len(m.Topics))
	for name, tm := range m.Topics {
		partitions := make([]PartitionInfo, 0, len(tm.Partitions))
		for _, p := range tm.Partitions {
			partitions = append(partitions, PartitionInfo{
				ID:             p.ID,
				Leader:         p.Leader,
				Replicas:       p.Replicas,
				InSyncReplicas: p.InSyncReplicas,
				Epoch:          p.Epoch,
			})
		}
		topics = append(topics, TopicInfo{Topic: name, Partitions: partitions})
	}

	return DescribeClusterResponse{Brokers: brokers, Topics: topics, ControllerID: s.controllerID}
}

// --- Heartbeat ---

// PartitionHeartbeat is one partition's self-reported ISR view within
// a heartbeat request.
type PartitionHeartbeat struct {
	Topic                 string
	Partition             uint32
	CurrentInSyncReplicas []uint32
}

// HeartbeatRequest is one message of the bidirectional heartbeat stream.
type HeartbeatRequest struct {
	BrokerID   uint32
	Draining   bool
	Partitions []PartitionHeartbeat
}

// HeartbeatResponse is the per-message reply the service hands back to
// an external transport to forward on the stream.
type HeartbeatResponse struct {
	EpochUpdates   []EpochUpdate
	Directives     []string
	Timestamp      time.Time
	ShouldShutdown bool
}

// EpochUpdate reports a partition epoch change the response surfaces
// to the sender; reserved for future controller-directed epoch pushes.
type EpochUpdate struct {
	Topic     string
	Partition uint32
	Epoch     uint64
}

// HandleHeartbeat upserts each declared partition's ISR membership
// (idempotent; invalid replicas are silently skipped, per the Open
// Question resolution recorded in DESIGN.md choosing to diverge from
// report_partition_status's fail-fast behavior on this specific path
// only because heartbeats are a high-frequency, best-effort signal),
// records the sending broker's heartbeat timestamp, and returns an
// empty directive response.
func (s *Service) HandleHeartbeat(req HeartbeatRequest) (HeartbeatResponse, error) {
	now := s.now()
	for _, ph := range req.Partitions {
		for _, broker := range ph.CurrentInSyncReplicas {
			if err := s.store.UpdateInSyncReplica(ph.Topic, ph.Partition, broker, true); err != nil {
				if isInvalidReplica(err) {
					level.Debug(s.logger).Log("msg", "skipping invalid ISR entry in heartbeat", "topic", ph.Topic, "partition", ph.Partition, "broker", broker)
					continue
				}
				return HeartbeatResponse{}, err
			}
		}
	}
	if err := s.store.RecordBrokerHeartbeat(req.BrokerID, now, req.Draining); err != nil {
		return HeartbeatResponse{}, err
	}
	return HeartbeatResponse{Timestamp: now}, nil
}

func isInvalidReplica(err error) bool {
	_, ok := err.(*flashqerr.InvalidReplicaError)
	return ok
}

// --- Report partition status ---

// ReportPartitionStatusRequest reports a partition's observed leader,
// ISR, and offset state from a broker.
type ReportPartitionStatusRequest struct {
	Topic          string
	Partition      uint32
	Leader         uint32
	InSyncReplicas []uint32
	HighWaterMark  uint64
	LogStartOffset uint64
}

// ReportPartitionStatusResponse acknowledges a status report.
type ReportPartitionStatusResponse struct {
	Accepted bool
	Message  string
}

// ReportPartitionStatus bumps the epoch if the reported leader differs
// from the stored one, sets ISR membership for every reported replica
// (failing fast on an invalid replica, unlike HandleHeartbeat), and
// stores the reported offsets.
func (s *Service) ReportPartitionStatus(req ReportPartitionStatusRequest) (ReportPartitionStatusResponse, error) {
	currentLeader, err := s.store.GetPartitionLeader(req.Topic, req.Partition)
	if err != nil {
		return ReportPartitionStatusResponse{}, err
	}
	if req.Leader != currentLeader {
		if _, err := s.store.BumpLeaderEpoch(req.Topic, req.Partition); err != nil {
			return ReportPartitionStatusResponse{}, err
		}
	}
	for _, broker := range req.InSyncReplicas {
		if err := s.store.UpdateInSyncReplica(req.Topic, req.Partition, broker, true); err != nil {
			return ReportPartitionStatusResponse{}, err
		}
	}
	if err := s.store.UpdatePartitionOffsets(req.Topic, req.Partition, req.HighWaterMark, req.LogStartOffset); err != nil {
		return ReportPartitionStatusResponse{}, err
	}
	return ReportPartitionStatusResponse{Accepted: true, Message: "ok"}, nil
}
