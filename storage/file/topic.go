package file

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-kit/log"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/flashq/flashqerr"
	"github.com/grafana/flashq/record"
	"github.com/grafana/flashq/segment"
)

const consumerGroupsDirName = "consumer_groups"

// TopicLog is the file-backed topic log container: a registry of
// partition logs routed by partition ID, created lazily on first use.
type TopicLog struct {
	mu   sync.RWMutex
	dir  string
	name string

	segmentSizeBytes uint64
	batchBytes       uint64
	syncMode         segment.SyncMode
	indexingCfg      segment.IndexingConfig
	logger           log.Logger
	metrics          *Metrics

	partitions map[uint32]*Partition
}

// NewTopicLog constructs an empty topic log container rooted at dir
// (which need not exist yet; it is created lazily on first append).
func NewTopicLog(dir, name string, segmentSizeBytes, batchBytes uint64, syncMode segment.SyncMode, cfg segment.IndexingConfig, logger log.Logger, metrics *Metrics) *TopicLog {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &TopicLog{
		dir:              dir,
		name:             name,
		segmentSizeBytes: segmentSizeBytes,
		batchBytes:       batchBytes,
		syncMode:         syncMode,
		indexingCfg:      cfg,
		logger:           logger,
		metrics:          metrics,
		partitions:       make(map[uint32]*Partition),
	}
}

// RecoverTopicLog scans dir for numerically named subdirectories
// (skipping consumer_groups and dot-prefixed names) and recovers each
// as a partition, concurrently via errgroup so recovery time scales
// with the slowest partition rather than the sum of all of them.
func RecoverTopicLog(dir, name string, segmentSizeBytes, batchBytes uint64, syncMode segment.SyncMode, cfg segment.IndexingConfig, logger log.Logger, metrics *Metrics) (*TopicLog, error) {
	t := NewTopicLog(dir, name, segmentSizeBytes, batchBytes, syncMode, cfg, logger, metrics)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, flashqerr.FromIOError(err, "list topic directory")
	}

	var ids []uint32
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		entryName := e.Name()
		if entryName == consumerGroupsDirName || len(entryName) == 0 || entryName[0] == '.' {
			continue
		}
		id, err := strconv.ParseUint(entryName, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}

	results := make([]*Partition, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := RecoverPartition(filepath.Join(dir, strconv.FormatUint(uint64(id), 10)), segmentSizeBytes, batchBytes, syncMode, cfg, logger, metrics)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		t.partitions[id] = results[i]
	}
	return t, nil
}

// getOrCreatePartition returns the partition for id, creating it
// lazily (and its directory) if it does not yet exist. It takes t.mu
// itself; callers must not hold it.
func (t *TopicLog) getOrCreatePartition(id uint32) (*Partition, error) {
	t.mu.RLock()
	p, ok := t.partitions[id]
	t.mu.RUnlock()
	if ok {
		return p, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.partitions[id]; ok {
		return p, nil
	}
	dir := filepath.Join(t.dir, strconv.FormatUint(uint64(id), 10))
	p, err := NewPartition(dir, t.segmentSizeBytes, t.batchBytes, t.syncMode, t.indexingCfg, t.logger, t.metrics)
	if err != nil {
		return nil, err
	}
	t.partitions[id] = p
	return p, nil
}

func (t *TopicLog) getPartition(id uint32) (*Partition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[id]
	return p, ok
}

// Append appends one record to the given partition, creating it lazily.
func (t *TopicLog) Append(partition uint32, r record.Record) (uint64, error) {
	p, err := t.getOrCreatePartition(partition)
	if err != nil {
		return 0, err
	}
	return p.Append(r)
}

// AppendBatch appends a batch of records to the given partition, creating it lazily.
func (t *TopicLog) AppendBatch(partition uint32, records []record.Record) (uint64, error) {
	p, err := t.getOrCreatePartition(partition)
	if err != nil {
		return 0, err
	}
	return p.AppendBatch(records)
}

// Read reads from the given partition starting at fromOffset.
func (t *TopicLog) Read(partition uint32, fromOffset uint64, maxRecords int) ([]record.WithOffset, error) {
	p, ok := t.getPartition(partition)
	if !ok {
		return nil, nil
	}
	return p.Read(fromOffset, maxRecords)
}

// ReadFromTimestamp reads from the given partition from a timestamp.
func (t *TopicLog) ReadFromTimestamp(partition uint32, tsRFC3339 string, maxRecords int) ([]record.WithOffset, error) {
	p, ok := t.getPartition(partition)
	if !ok {
		return nil, nil
	}
	return p.ReadFromTimestamp(tsRFC3339, maxRecords)
}

// HighWaterMark returns partition 0's next offset, or 0 if absent.
func (t *TopicLog) HighWaterMark() uint64 {
	p, ok := t.getPartition(0)
	if !ok {
		return 0
	}
	return p.NextOffset()
}

// PartitionNextOffset returns the next offset for an explicit
// partition ID, or (0, false) if that partition has never been created.
func (t *TopicLog) PartitionNextOffset(partition uint32) (uint64, bool) {
	p, ok := t.getPartition(partition)
	if !ok {
		return 0, false
	}
	return p.NextOffset(), true
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

// Close closes every partition in the container.
func (t *TopicLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, p := range t.partitions {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
