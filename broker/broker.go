package broker

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/storage"
)

// singlePartitionProfile is the only partition ID the current
// profile's broker-level API addresses implicitly (post_records,
// poll_records_*); the explicit per-partition queries below reject
// any other ID with PartitionNotFound.
const singlePartitionProfile uint32 = 0

// Broker is a thin wrapper over a storage.Backend plus an in-memory
// registry of TopicLog instances keyed by topic name, following a
// blocks-by-id-map-over-a-pluggable-backend shape.
type Broker struct {
	mu      sync.RWMutex
	backend storage.Backend
	logger  log.Logger

	topics map[string]storage.TopicLog
	groups *consumerGroupRegistry
}

// New constructs a broker façade over backend.
func New(backend storage.Backend, logger log.Logger) *Broker {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Broker{
		backend: backend,
		logger:  logger,
		topics:  make(map[string]storage.TopicLog),
		groups:  newConsumerGroupRegistry(backend),
	}
}

// DiscoverTopics loads every topic the backend reports on disk into
// the in-memory registry, for boot-time discovery of on-disk state.
func (b *Broker) DiscoverTopics() error {
	names, err := b.backend.DiscoverTopics()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := b.getOrCreateTopic(name); err != nil {
			return err
		}
		level.Info(b.logger).Log("msg", "discovered topic on boot", "topic", name)
	}
	return nil
}

func (b *Broker) getOrCreateTopic(topic string) (storage.TopicLog, error) {
	b.mu.RLock()
	t, ok := b.topics[topic]
	b.mu.RUnlock()
	if ok {
		return t, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return t, nil
	}
	t, err := b.backend.CreateTopicLog(topic)
	if err != nil {
		return nil, err
	}
	b.topics[topic] = t
	return t, nil
}

func (b *Broker) getTopic(topic string) (storage.TopicLog, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[topic]
	return t, ok
}

// PostRecords creates the topic lazily and appends records to
// partition 0, returning the last assigned offset.
func (b *Broker) PostRecords(topic string, records []record.Record) (uint64, error) {
	t, err := b.getOrCreateTopic(topic)
	if err != nil {
		return 0, err
	}
	return t.AppendBatch(singlePartitionProfile, records)
}

// PollRecordsFromOffset reads partition 0 starting at fromOffset.
func (b *Broker) PollRecordsFromOffset(topic string, fromOffset uint64, maxRecords int) ([]record.WithOffset, error) {
	t, ok := b.getTopic(topic)
	if !ok {
		return nil, nil
	}
	return t.Read(singlePartitionProfile, fromOffset, maxRecords)
}

// PollRecordsFromTime reads partition 0 from a timestamp.
func (b *Broker) PollRecordsFromTime(topic string, tsRFC3339 string, maxRecords int) ([]record.WithOffset, error) {
	t, ok := b.getTopic(topic)
	if !ok {
		return nil, nil
	}
	return t.ReadFromTimestamp(singlePartitionProfile, tsRFC3339, maxRecords)
}

// GetHighWaterMark returns the next offset to be assigned on
// partition 0, 0 if the topic is absent.
func (b *Broker) GetHighWaterMark(topic string) uint64 {
	t, ok := b.getTopic(topic)
	if !ok {
		return 0
	}
	return t.HighWaterMark()
}

// GetTopics returns every topic name known to this broker.
func (b *Broker) GetTopics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// CreateConsumerGroup delegates to the consumer-group registry.
func (b *Broker) CreateConsumerGroup(groupID string) error {
	return b.groups.create(groupID)
}

// DeleteConsumerGroup delegates to the consumer-group registry.
func (b *Broker) DeleteConsumerGroup(groupID string) error {
	return b.groups.delete(groupID)
}

// GetConsumerGroupOffset returns the committed offset for
// (group, topic) on partition 0.
func (b *Broker) GetConsumerGroupOffset(groupID, topic string) (uint64, error) {
	return b.groups.load(groupID, topic, singlePartitionProfile)
}

// UpdateConsumerGroupOffset commits a new offset for (group, topic) on
// partition 0, enforcing the monotonic gate.
func (b *Broker) UpdateConsumerGroupOffset(groupID, topic string, offset uint64) (bool, error) {
	return b.groups.persist(groupID, topic, singlePartitionProfile, offset)
}

// --- Cluster-integration per-partition queries ---

// GetHighWaterMarkPartition returns the high-water mark for an
// explicit partition. Non-zero partitions fail with PartitionNotFound
// in the current single-partition profile.
func (b *Broker) GetHighWaterMarkPartition(topic string, partition uint32) (uint64, error) {
	if partition != singlePartitionProfile {
		return 0, &flashqerr.PartitionNotFoundError{Topic: topic, Partition: partition}
	}
	t, ok := b.getTopic(topic)
	if !ok {
		return 0, &flashqerr.TopicNotFoundError{Topic: topic}
	}
	offset, ok := t.PartitionNextOffset(partition)
	if !ok {
		return 0, nil
	}
	return offset, nil
}

// GetLogStartOffset always returns 0 in this core, per the glossary's
// "currently always 0" definition of log start offset.
func (b *Broker) GetLogStartOffset(topic string, partition uint32) (uint64, error) {
	if partition != singlePartitionProfile {
		return 0, &flashqerr.PartitionNotFoundError{Topic: topic, Partition: partition}
	}
	if _, ok := b.getTopic(topic); !ok {
		return 0, &flashqerr.TopicNotFoundError{Topic: topic}
	}
	return 0, nil
}

// IsPartitionLeader is always true in the single-partition profile,
// since no cluster coordination narrows leadership at the storage
// layer; callers needing authoritative leadership consult
// cluster/metadata instead.
func (b *Broker) IsPartitionLeader(topic string, partition uint32) (bool, error) {
	if partition != singlePartitionProfile {
		return false, &flashqerr.PartitionNotFoundError{Topic: topic, Partition: partition}
	}
	return true, nil
}

// GetAssignedPartitions returns (topic, 0) for every known topic.
func (b *Broker) GetAssignedPartitions() []PartitionRef {
	topics := b.GetTopics()
	out := make([]PartitionRef, 0, len(topics))
	for _, t := range topics {
		out = append(out, PartitionRef{Topic: t, Partition: singlePartitionProfile})
	}
	return out
}

// PartitionRef identifies one (topic, partition) pair.
type PartitionRef struct {
	Topic     string
	Partition uint32
}

// AcknowledgeReplication is an accepted no-op in the current
// single-partition profile, reserved for a future cluster-capable
// rewrite once replica acknowledgement is actually tracked.
func (b *Broker) AcknowledgeReplication(topic string, partition uint32, offset uint64) error {
	return nil
}

// InitiateShutdown is an accepted no-op in the current
// single-partition profile, reserved likewise.
func (b *Broker) InitiateShutdown() error { return nil }

// Close closes the underlying storage backend.
func (b *Broker) Close() error { return b.backend.Close() }
