// Package metadata implements the cluster metadata store: the
// authoritative (broker set, topic->partition->{leader, replicas, ISR,
// epoch}) map plus runtime broker/partition state, with CAS, epoch
// bump, ISR mutation, and broker heartbeat tracking. Every mutation is
// persisted to {data_dir}/cluster/cluster_metadata.json before
// returning, promoting in-memory state to disk on every write rather
// than batching.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"go.uber.org/atomic"

	"github.com/grafana/flashq/cluster/manifest"
	"github.com/grafana/flashq/flashqerr"
)

const metadataFileName = "cluster_metadata.json"

// BrokerRuntime is the liveness/draining state tracked alongside the
// static manifest for one broker.
type BrokerRuntime struct {
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsDraining    bool      `json:"is_draining"`
}

// PartitionRuntime is the high-water-mark/log-start-offset state
// tracked alongside the static manifest for one partition.
type PartitionRuntime struct {
	HighWaterMark  uint64 `json:"high_water_mark"`
	LogStartOffset uint64 `json:"log_start_offset"`
}

// partitionState is the store's internal mutable representation of
// one partition: the static replica set plus a CAS-capable epoch
// counter, exercising go.uber.org/atomic's CompareAndSwap directly for
// the compare_and_set_epoch operation.
type partitionState struct {
	leader         uint32
	replicas       []uint32
	inSyncReplicas map[uint32]bool
	epoch          atomic.Uint64
}

func (p *partitionState) replicaSet() map[uint32]bool {
	set := make(map[uint32]bool, len(p.replicas))
	for _, r := range p.replicas {
		set[r] = true
	}
	return set
}

func (p *partitionState) isrSlice() []uint32 {
	out := make([]uint32, 0, len(p.inSyncReplicas))
	for b := range p.inSyncReplicas {
		out = append(out, b)
	}
	return out
}

// Store is the cluster metadata store.
type Store struct {
	mu sync.RWMutex

	dataDir string
	logger  log.Logger

	brokers           map[uint32]manifest.Broker
	partitions        map[string]map[uint32]*partitionState // topic -> partition id -> state
	replicationFactor map[string]uint8
	brokerRT          map[uint32]BrokerRuntime
	partitionRT       map[string]map[uint32]PartitionRuntime

	heartbeatTimeout time.Duration
}

// New constructs an empty store rooted at dataDir/cluster/.
func New(dataDir string, heartbeatTimeout time.Duration, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if heartbeatTimeout == 0 {
		heartbeatTimeout = 10 * time.Second
	}
	return &Store{
		dataDir:           dataDir,
		logger:            logger,
		brokers:           make(map[uint32]manifest.Broker),
		partitions:        make(map[string]map[uint32]*partitionState),
		replicationFactor: make(map[string]uint8),
		brokerRT:          make(map[uint32]BrokerRuntime),
		partitionRT:       make(map[string]map[uint32]PartitionRuntime),
		heartbeatTimeout:  heartbeatTimeout,
	}
}

// Open constructs a store and loads an existing on-disk manifest file,
// if one is present, applying LoadFromManifest semantics.
func Open(dataDir string, heartbeatTimeout time.Duration, logger log.Logger) (*Store, error) {
	s := New(dataDir, heartbeatTimeout, logger)
	path := s.metadataPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, flashqerr.FromIOError(err, "read cluster metadata file")
	}
	var persisted persistedState
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, &flashqerr.InvalidManifestError{Reason: fmt.Sprintf("corrupt cluster metadata file: %v", err)}
	}
	s.loadPersisted(persisted)
	return s, nil
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dataDir, "cluster", metadataFileName)
}

func (s *Store) findPartition(topic string, partition uint32) (*partitionState, bool) {
	byID, ok := s.partitions[topic]
	if !ok {
		return nil, false
	}
	p, ok := byID[partition]
	return p, ok
}

func topicPartitionErr(topic string, partition uint32, ok bool) error {
	if !ok {
		return &flashqerr.PartitionNotFoundError{Topic: topic, Partition: partition}
	}
	return nil
}

// GetPartitionLeader returns the current leader for (topic, partition).
func (s *Store) GetPartitionLeader(topic string, partition uint32) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return 0, s.notFoundError(topic, partition)
	}
	return p.leader, nil
}

// GetInSyncReplicas returns the current ISR set for (topic, partition).
func (s *Store) GetInSyncReplicas(topic string, partition uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return nil, s.notFoundError(topic, partition)
	}
	return p.isrSlice(), nil
}

// GetAllReplicas returns the full replica list for (topic, partition).
func (s *Store) GetAllReplicas(topic string, partition uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return nil, s.notFoundError(topic, partition)
	}
	out := make([]uint32, len(p.replicas))
	copy(out, p.replicas)
	return out, nil
}

// GetPartitionEpoch returns the current epoch for (topic, partition).
func (s *Store) GetPartitionEpoch(topic string, partition uint32) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return 0, s.notFoundError(topic, partition)
	}
	return p.epoch.Load(), nil
}

// BumpLeaderEpoch increments the epoch by one and persists, returning
// the new epoch. Callers needing strict-advance CAS semantics instead
// of an unconditional bump should use CompareAndSetEpoch.
func (s *Store) BumpLeaderEpoch(topic string, partition uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return 0, s.notFoundError(topic, partition)
	}
	newEpoch := p.epoch.Add(1)
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return newEpoch, nil
}

// UpdateInSyncReplica adds or removes broker from (topic, partition)'s
// ISR set, idempotently, failing if broker is not a replica member.
func (s *Store) UpdateInSyncReplica(topic string, partition uint32, broker uint32, inSync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return s.notFoundError(topic, partition)
	}
	if !p.replicaSet()[broker] {
		return &flashqerr.InvalidReplicaError{Topic: topic, Partition: partition, BrokerID: broker}
	}
	if inSync {
		p.inSyncReplicas[broker] = true
	} else {
		delete(p.inSyncReplicas, broker)
	}
	return s.persistLocked()
}

// SetPartitionLeader sets (topic, partition)'s leader and epoch,
// requiring leader to be a replica member and newEpoch >= current.
func (s *Store) SetPartitionLeader(topic string, partition uint32, leader uint32, newEpoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return s.notFoundError(topic, partition)
	}
	if !p.replicaSet()[leader] {
		return &flashqerr.InvalidReplicaError{Topic: topic, Partition: partition, BrokerID: leader}
	}
	if newEpoch < p.epoch.Load() {
		return &flashqerr.InvalidEpochError{Topic: topic, Partition: partition, Reason: "new epoch must be >= current epoch"}
	}
	p.leader = leader
	p.epoch.Store(newEpoch)
	return s.persistLocked()
}

// CompareAndSetEpoch atomically transitions (topic, partition)'s
// epoch from expected to new, using atomic.Uint64.CompareAndSwap.
// Returns false without error if the observed epoch didn't match
// expected; fails with InvalidEpoch if new <= expected.
func (s *Store) CompareAndSetEpoch(topic string, partition uint32, expected, newEpoch uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.findPartition(topic, partition)
	if !ok {
		return false, s.notFoundError(topic, partition)
	}
	if newEpoch <= expected {
		return false, &flashqerr.InvalidEpochError{Topic: topic, Partition: partition, Reason: "new epoch must be strictly greater than expected"}
	}
	if !p.epoch.CompareAndSwap(expected, newEpoch) {
		return false, nil
	}
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// RecordBrokerHeartbeat upserts the runtime heartbeat state for an
// already-known broker.
func (s *Store) RecordBrokerHeartbeat(broker uint32, ts time.Time, draining bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brokers[broker]; !ok {
		return &flashqerr.UnknownBrokerError{BrokerID: broker}
	}
	s.brokerRT[broker] = BrokerRuntime{LastHeartbeat: ts, IsDraining: draining}
	return s.persistLocked()
}

// BrokerStatus is one broker's manifest identity projected with
// derived liveness and its runtime heartbeat snapshot.
type BrokerStatus struct {
	Broker        manifest.Broker
	IsAlive       bool
	LastHeartbeat time.Time
	IsDraining    bool
}

// ListBrokersWithStatus projects every manifest broker with derived
// liveness (alive iff last heartbeat is within the configured timeout).
func (s *Store) ListBrokersWithStatus(now time.Time) []BrokerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BrokerStatus, 0, len(s.brokers))
	for _, b := range s.brokers {
		rt := s.brokerRT[b.ID]
		alive := !rt.LastHeartbeat.IsZero() && now.Sub(rt.LastHeartbeat) <= s.heartbeatTimeout
		out = append(out, BrokerStatus{Broker: b, IsAlive: alive, LastHeartbeat: rt.LastHeartbeat, IsDraining: rt.IsDraining})
	}
	return out
}

// UpdatePartitionOffsets upserts the runtime high-water-mark/log-start
// offset for (topic, partition).
func (s *Store) UpdatePartitionOffsets(topic string, partition uint32, hwm, lso uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findPartition(topic, partition); !ok {
		return s.notFoundError(topic, partition)
	}
	if s.partitionRT[topic] == nil {
		s.partitionRT[topic] = make(map[uint32]PartitionRuntime)
	}
	s.partitionRT[topic][partition] = PartitionRuntime{HighWaterMark: hwm, LogStartOffset: lso}
	return s.persistLocked()
}

// GetPartitionOffsets returns the runtime offsets tracked for (topic, partition).
func (s *Store) GetPartitionOffsets(topic string, partition uint32) (PartitionRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.partitionRT[topic]
	if !ok {
		return PartitionRuntime{}, false
	}
	rt, ok := byID[partition]
	return rt, ok
}

// LoadFromManifest replaces the manifest wholesale, clears all runtime
// state, and persists.
func (s *Store) LoadFromManifest(m *manifest.Manifest) error {
	if err := m.Validate(); err != nil {
		return &flashqerr.InvalidManifestError{Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyManifestLocked(m)
	s.brokerRT = make(map[uint32]BrokerRuntime)
	s.partitionRT = make(map[string]map[uint32]PartitionRuntime)
	return s.persistLocked()
}

func (s *Store) applyManifestLocked(m *manifest.Manifest) {
	s.brokers = make(map[uint32]manifest.Broker, len(m.Brokers))
	for _, b := range m.Brokers {
		s.brokers[b.ID] = b
	}
	s.partitions = make(map[string]map[uint32]*partitionState, len(m.Topics))
	s.replicationFactor = make(map[string]uint8, len(m.Topics))
	for topic, tm := range m.Topics {
		s.replicationFactor[topic] = tm.ReplicationFactor
		byID := make(map[uint32]*partitionState, len(tm.Partitions))
		for _, pa := range tm.Partitions {
			ps := &partitionState{
				leader:         pa.Leader,
				replicas:       append([]uint32(nil), pa.Replicas...),
				inSyncReplicas: make(map[uint32]bool, len(pa.InSyncReplicas)),
			}
			for _, b := range pa.InSyncReplicas {
				ps.inSyncReplicas[b] = true
			}
			ps.epoch.Store(pa.Epoch)
			byID[pa.ID] = ps
		}
		s.partitions[topic] = byID
	}
}

// ExportToManifest returns a snapshot of the current manifest state.
func (s *Store) ExportToManifest() *manifest.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

func (s *Store) exportLocked() *manifest.Manifest {
	m := &manifest.Manifest{Topics: make(map[string]manifest.TopicManifest, len(s.partitions))}
	for _, b := range s.brokers {
		m.Brokers = append(m.Brokers, b)
	}
	for topic, byID := range s.partitions {
		var partitions []manifest.PartitionAssignment
		for id, p := range byID {
			partitions = append(partitions, manifest.PartitionAssignment{
				ID:             id,
				Leader:         p.leader,
				Replicas:       append([]uint32(nil), p.replicas...),
				InSyncReplicas: p.isrSlice(),
				Epoch:          p.epoch.Load(),
			})
		}
		m.Topics[topic] = manifest.TopicManifest{ReplicationFactor: s.replicationFactor[topic], Partitions: partitions}
	}
	return m
}

func (s *Store) notFoundError(topic string, partition uint32) error {
	if _, ok := s.partitions[topic]; !ok {
		return &flashqerr.TopicNotFoundError{Topic: topic}
	}
	return &flashqerr.PartitionNotFoundError{Topic: topic, Partition: partition}
}

// persistedState is the on-disk JSON shape combining the manifest with
// runtime state.
type persistedState struct {
	Manifest    manifest.Manifest                      `json:"manifest"`
	BrokerRT    map[uint32]BrokerRuntime               `json:"broker_runtime"`
	PartitionRT map[string]map[uint32]PartitionRuntime `json:"partition_runtime"`
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(persistedState{
		Manifest:    *s.exportLocked(),
		BrokerRT:    s.brokerRT,
		PartitionRT: s.partitionRT,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cluster metadata: %w", err)
	}
	dir := filepath.Join(s.dataDir, "cluster")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return flashqerr.FromIOError(err, "create cluster directory")
	}
	path := s.metadataPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return flashqerr.FromIOError(err, "write cluster metadata file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return flashqerr.FromIOError(err, "rename cluster metadata file")
	}
	return nil
}

func (s *Store) loadPersisted(p persistedState) {
	s.applyManifestLocked(&p.Manifest)
	if p.BrokerRT != nil {
		s.brokerRT = p.BrokerRT
	}
	if p.PartitionRT != nil {
		s.partitionRT = p.PartitionRT
	}
}
