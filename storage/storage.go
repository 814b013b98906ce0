// Package storage defines the polymorphic contracts shared by the
// memory and file storage backends and the factory that chooses
// between them, following a polymorphism-over-backend convention
// (backend.Reader/
// Writer/Compactor interfaces implemented by both backend/local and
// backend/gcs) rather than branching on backend type anywhere above
// this package.
package storage

import "github.com/grafana/flashq/record"

// TopicLog is the topic log container contract, implemented by
// both storage/file.TopicLog and storage/memory.TopicLog.
type TopicLog interface {
	Append(partitionID uint32, r record.Record) (uint64, error)
	AppendBatch(partitionID uint32, records []record.Record) (uint64, error)
	Read(partitionID uint32, fromOffset uint64, maxRecords int) ([]record.WithOffset, error)
	ReadFromTimestamp(partitionID uint32, tsRFC3339 string, maxRecords int) ([]record.WithOffset, error)
	HighWaterMark() uint64
	PartitionNextOffset(partitionID uint32) (uint64, bool)
	Partitions() []uint32
	Close() error
}

// OffsetStore is the consumer offset store contract, implemented by
// both storage/file.OffsetStore and storage/memory.OffsetStore.
type OffsetStore interface {
	LoadSnapshot(topic string, partitionID uint32) uint64
	PersistSnapshot(topic string, partitionID uint32, offset uint64) (bool, error)
	GetAllSnapshots() map[string]uint64
}

// Backend is the storage backend factory contract: chooses memory
// or file implementations behind one operation set, so the broker
// façade and consumer-group registry never branch on backend type.
type Backend interface {
	CreateTopicLog(topic string) (TopicLog, error)
	CreateConsumerGroup(groupID string) (OffsetStore, error)
	CreateConsumerOffsetStore(groupID string) (OffsetStore, error)
	DeleteConsumerGroup(groupID string) error
	DiscoverTopics() ([]string, error)
	Close() error
}
