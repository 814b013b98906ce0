// Package memory implements the in-memory storage backend variant of
// the same operation set as the file backend in storage/file, minus
// durability. Used for tests and single-process use where durability
// isn't needed.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/grafana/flashq/record"
)

// partition is one in-memory partition's append-only record slice plus
// its next-offset counter, mirroring the file backend's Partition.
type partition struct {
	mu      sync.RWMutex
	records []record.WithOffset
}

func (p *partition) nextOffset() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return uint64(len(p.records))
}

func (p *partition) append(r record.Record) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset := uint64(len(p.records))
	p.records = append(p.records, record.WithOffset{Record: r, Offset: offset, Timestamp: record.Now()})
	return offset
}

func (p *partition) appendBatch(records []record.Record) uint64 {
	if len(records) == 0 {
		p.mu.RLock()
		n := uint64(len(p.records))
		p.mu.RUnlock()
		return n
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := record.Now()
	for _, r := range records {
		offset := uint64(len(p.records))
		p.records = append(p.records, record.WithOffset{Record: r, Offset: offset, Timestamp: ts})
	}
	return uint64(len(p.records)) - 1
}

func (p *partition) read(fromOffset uint64, maxRecords int) []record.WithOffset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if fromOffset >= uint64(len(p.records)) {
		return nil
	}
	remaining := p.records[fromOffset:]
	if maxRecords > 0 && len(remaining) > maxRecords {
		remaining = remaining[:maxRecords]
	}
	out := make([]record.WithOffset, len(remaining))
	copy(out, remaining)
	return out
}

func (p *partition) readFromTimestamp(tsMs int64, maxRecords int) []record.WithOffset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []record.WithOffset
	for _, r := range p.records {
		if record.ParseTimestampMs(r.Timestamp) >= tsMs {
			out = append(out, r)
			if maxRecords > 0 && len(out) >= maxRecords {
				break
			}
		}
	}
	return out
}

// TopicLog is the in-memory topic log container: partition ID ->
// partition, created lazily, matching the file backend's routing
// contract exactly so the factory can swap implementations freely.
type TopicLog struct {
	mu         sync.RWMutex
	id         string // synthetic correlation ID, one per in-memory topic log instance
	partitions map[uint32]*partition
}

// NewTopicLog returns an empty in-memory topic log container.
func NewTopicLog() *TopicLog {
	return &TopicLog{id: uuid.NewString(), partitions: make(map[uint32]*partition)}
}

// CorrelationID returns the synthetic handle ID used for log correlation.
func (t *TopicLog) CorrelationID() string { return t.id }

func (t *TopicLog) getOrCreate(id uint32) *partition {
	t.mu.RLock()
	p, ok := t.partitions[id]
	t.mu.RUnlock()
	if ok {
		return p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.partitions[id]; ok {
		return p
	}
	p = &partition{}
	t.partitions[id] = p
	return p
}

func (t *TopicLog) get(id uint32) (*partition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[id]
	return p, ok
}

// Append appends one record to the given partition, creating it lazily.
func (t *TopicLog) Append(partitionID uint32, r record.Record) (uint64, error) {
	return t.getOrCreate(partitionID).append(r), nil
}

// AppendBatch appends a batch of records, creating the partition
// lazily. Returns the last assigned offset; empty input returns the
// current next offset without writing.
func (t *TopicLog) AppendBatch(partitionID uint32, records []record.Record) (uint64, error) {
	return t.getOrCreate(partitionID).appendBatch(records), nil
}

// Read reads from the given partition starting at fromOffset.
func (t *TopicLog) Read(partitionID uint32, fromOffset uint64, maxRecords int) ([]record.WithOffset, error) {
	p, ok := t.get(partitionID)
	if !ok {
		return nil, nil
	}
	return p.read(fromOffset, maxRecords), nil
}

// ReadFromTimestamp reads from the given partition from a timestamp.
func (t *TopicLog) ReadFromTimestamp(partitionID uint32, tsRFC3339 string, maxRecords int) ([]record.WithOffset, error) {
	p, ok := t.get(partitionID)
	if !ok {
		return nil, nil
	}
	tsMs := record.ParseTimestampMs(tsRFC3339)
	return p.readFromTimestamp(tsMs, maxRecords), nil
}

// HighWaterMark returns partition 0's next offset, 0 if absent.
func (t *TopicLog) HighWaterMark() uint64 {
	p, ok := t.get(0)
	if !ok {
		return 0
	}
	return p.nextOffset()
}

// PartitionNextOffset returns the next offset for an explicit partition ID.
func (t *TopicLog) PartitionNextOffset(partitionID uint32) (uint64, bool) {
	p, ok := t.get(partitionID)
	if !ok {
		return 0, false
	}
	return p.nextOffset(), true
}

// Partitions returns the set of partition IDs currently known.
func (t *TopicLog) Partitions() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint32, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	return ids
}

// Close is a no-op for the in-memory backend, present so TopicLog
// satisfies the same shape as the file backend's container.
func (t *TopicLog) Close() error { return nil }
